package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var feeOrigin = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func TestComputeFollowUpFee(t *testing.T) {
	tests := []struct {
		name     string
		followUp time.Time
		fee      float64
		want     float64
	}{
		{"same day", feeOrigin.Add(2 * time.Hour), 1000, 0},
		{"day 7 boundary is free", feeOrigin.AddDate(0, 0, 7), 1000, 0},
		{"just past day 7 is half", feeOrigin.AddDate(0, 0, 7).Add(time.Minute), 1000, 500},
		{"day 8", feeOrigin.AddDate(0, 0, 8), 1000, 500},
		{"day 30 boundary is half", feeOrigin.AddDate(0, 0, 30), 1000, 500},
		{"just past day 30 is full", feeOrigin.AddDate(0, 0, 30).Add(time.Second), 1000, 1000},
		{"day 31", feeOrigin.AddDate(0, 0, 31), 1000, 1000},
		{"half of odd cents rounds up", feeOrigin.AddDate(0, 0, 10), 99.99, 50},
		{"free original stays free", feeOrigin.AddDate(0, 0, 10), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeFollowUpFee(feeOrigin, tt.followUp, tt.fee), 1e-9)
		})
	}
}

func TestComputePaymentTotal(t *testing.T) {
	tests := []struct {
		name  string
		base  float64
		pct   float64
		fixed float64
		want  float64
	}{
		{"no fees", 100, 0, 0, 100},
		{"percent only", 100, 2.5, 0, 102.50},
		{"fixed only", 100, 0, 0.30, 100.30},
		{"both", 100, 2.9, 0.30, 103.20},
		{"rounds to cents", 33.33, 3, 0, 34.33},
		{"zero base", 0, 2.9, 0, 0},
		{"never negative", 10, 0, -20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputePaymentTotal(tt.base, tt.pct, tt.fixed), 1e-9)
		})
	}
}

func TestRefundFraction(t *testing.T) {
	start := time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		cancelledAt time.Time
		want        float64
	}{
		{"week ahead", start.AddDate(0, 0, -7), 1},
		{"exactly 24h ahead", start.Add(-24 * time.Hour), 1},
		{"23h59m ahead", start.Add(-24*time.Hour + time.Minute), 0.5},
		{"exactly 2h ahead", start.Add(-2 * time.Hour), 0.5},
		{"1h59m ahead", start.Add(-2*time.Hour + time.Minute), 0},
		{"after start", start.Add(time.Hour), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RefundFraction(tt.cancelledAt, start))
		})
	}
}

func TestRefundAmount(t *testing.T) {
	start := time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)

	assert.InDelta(t, 150, RefundAmount(150, start.Add(-48*time.Hour), start), 1e-9)
	assert.InDelta(t, 75, RefundAmount(150, start.Add(-3*time.Hour), start), 1e-9)
	assert.InDelta(t, 50, RefundAmount(99.99, start.Add(-3*time.Hour), start), 1e-9)
	assert.Zero(t, RefundAmount(150, start.Add(-time.Hour), start))
	assert.Zero(t, RefundAmount(0, start.Add(-48*time.Hour), start))
}
