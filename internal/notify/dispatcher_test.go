package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	mu      sync.Mutex
	events  []Event
	release chan struct{} // when non-nil, Publish blocks until closed
}

func (p *capturePublisher) Publish(_ context.Context, ev Event) error {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type countingCounters struct {
	mu      sync.Mutex
	emitted map[string]int
	dropped int
}

func newCountingCounters() *countingCounters {
	return &countingCounters{emitted: make(map[string]int)}
}

func (c *countingCounters) Emitted(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted[t]++
}

func (c *countingCounters) Dropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

func event(t EventType) Event {
	return Event{
		Type:          t,
		RecipientID:   uuid.New(),
		AppointmentID: uuid.New(),
		OccurredAt:    time.Now(),
	}
}

func TestAsyncDispatcherPublishes(t *testing.T) {
	pub := &capturePublisher{}
	counters := newCountingCounters()
	d := NewAsyncDispatcher(pub, 8, counters, zap.NewNop())

	d.Emit(context.Background(), event(EventBooked))
	d.Emit(context.Background(), event(EventConfirmed))
	d.Close()

	assert.Equal(t, 2, pub.count())
	assert.Equal(t, 1, counters.emitted["booked"])
	assert.Equal(t, 1, counters.emitted["confirmed"])
	assert.Zero(t, counters.dropped)
}

func TestAsyncDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	pub := &capturePublisher{release: release}
	counters := newCountingCounters()
	d := NewAsyncDispatcher(pub, 1, counters, zap.NewNop())

	// First event is picked up by the publish loop and blocks there; the
	// second fills the buffer; the third has nowhere to go.
	d.Emit(context.Background(), event(EventBooked))
	require.Eventually(t, func() bool {
		return len(d.buf) == 0
	}, time.Second, time.Millisecond)

	d.Emit(context.Background(), event(EventBooked))
	d.Emit(context.Background(), event(EventBooked))

	counters.mu.Lock()
	dropped := counters.dropped
	counters.mu.Unlock()
	assert.Equal(t, 1, dropped)

	close(release)
	d.Close()
	assert.Equal(t, 2, pub.count())
}

func TestAsyncDispatcherCloseDrains(t *testing.T) {
	pub := &capturePublisher{}
	d := NewAsyncDispatcher(pub, 16, nil, zap.NewNop())

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), event(EventReminder24h))
	}
	d.Close()

	assert.Equal(t, 10, pub.count())
}

func TestAsyncDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewAsyncDispatcher(&capturePublisher{}, 1, nil, zap.NewNop())
	d.Close()
	d.Close()
}

func TestMemoryDispatcherRecordsAndFilters(t *testing.T) {
	d := NewMemoryDispatcher()

	d.Emit(context.Background(), event(EventBooked))
	d.Emit(context.Background(), event(EventCancelled))
	d.Emit(context.Background(), event(EventBooked))

	assert.Len(t, d.Events(), 3)
	assert.Len(t, d.ByType(EventBooked), 2)
	assert.Len(t, d.ByType(EventCancelled), 1)
	assert.Empty(t, d.ByType(EventCompleted))
}
