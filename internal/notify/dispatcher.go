// Package notify produces lifecycle notification events. Delivery itself
// (email, SMS, push) belongs to an external consumer of the exchange; the
// scheduling engine only enqueues, and a slow or absent broker never blocks
// or fails a lifecycle transition.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventType string

const (
	EventBooked              EventType = "booked"
	EventConfirmed           EventType = "confirmed"
	EventReminder24h         EventType = "reminder_24h"
	EventReminder2h          EventType = "reminder_2h"
	EventCompleted           EventType = "completed"
	EventCancelled           EventType = "cancelled"
	EventFollowUpRecommended EventType = "follow_up_recommended"
	EventPaymentConfirmed    EventType = "payment_confirmed"
	EventCheckedIn           EventType = "checked_in"
	EventInProgress          EventType = "in_progress"
	EventRescheduled         EventType = "rescheduled"
)

// Event describes one lifecycle transition for delivery. Observational only;
// consumers must tolerate duplicates and reordering.
type Event struct {
	Type          EventType      `json:"type"`
	RecipientID   uuid.UUID      `json:"recipient_id"`
	AppointmentID uuid.UUID      `json:"appointment_id"`
	ScheduledFor  *time.Time     `json:"scheduled_for,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Dispatcher accepts events for eventual delivery. Emit must not block.
type Dispatcher interface {
	Emit(ctx context.Context, ev Event)
}

// Publisher is the transport behind the async dispatcher.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Counters receives dispatcher outcomes. Satisfied by the metrics collector.
type Counters interface {
	Emitted(eventType string)
	Dropped()
}

// AsyncDispatcher buffers events in memory and publishes from a single
// goroutine. A full buffer drops the event and counts it rather than
// backpressuring a lifecycle transition.
type AsyncDispatcher struct {
	publisher Publisher
	log       *zap.Logger
	counters  Counters

	buf  chan Event
	done chan struct{}
	once sync.Once
}

func NewAsyncDispatcher(publisher Publisher, bufSize int, counters Counters, log *zap.Logger) *AsyncDispatcher {
	if bufSize <= 0 {
		bufSize = 256
	}
	d := &AsyncDispatcher{
		publisher: publisher,
		log:       log,
		counters:  counters,
		buf:       make(chan Event, bufSize),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *AsyncDispatcher) Emit(ctx context.Context, ev Event) {
	select {
	case d.buf <- ev:
		if d.counters != nil {
			d.counters.Emitted(string(ev.Type))
		}
	default:
		if d.counters != nil {
			d.counters.Dropped()
		}
		d.log.Warn("notification buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("appointment_id", ev.AppointmentID.String()))
	}
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)

	for ev := range d.buf {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := d.publisher.Publish(ctx, ev)
		cancel()
		if err != nil {
			// Delivery is at-least-once from the consumer's point of view
			// and best-effort from ours; log and move on.
			d.log.Error("publish notification event",
				zap.Error(err),
				zap.String("type", string(ev.Type)),
				zap.String("appointment_id", ev.AppointmentID.String()))
		}
	}
}

// Close drains the buffer and stops the publish loop.
func (d *AsyncDispatcher) Close() {
	d.once.Do(func() { close(d.buf) })
	<-d.done
}

// MemoryDispatcher records events synchronously. Test double, also handy as
// a no-broker dev fallback.
type MemoryDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

func (d *MemoryDispatcher) Emit(_ context.Context, ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

// Events returns a copy of everything emitted so far.
func (d *MemoryDispatcher) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// ByType filters recorded events.
func (d *MemoryDispatcher) ByType(t EventType) []Event {
	var out []Event
	for _, ev := range d.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
