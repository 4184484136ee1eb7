// Package payment wraps the external payment gateway. The engine only maps
// gateway outcomes into payment status; protocol details stay here.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type ChargeRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
}

type ChargeResult struct {
	TransactionID string `json:"transaction_id"`
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type RefundRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        float64   `json:"amount"`
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Refund(ctx context.Context, req RefundRequest) error
}

// HTTPGateway talks to the gateway over REST, behind a circuit breaker so a
// flapping gateway fails bookings fast instead of tying up request handlers.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[ChargeResult]
	log     *zap.Logger
}

func NewHTTPGateway(baseURL string, log *zap.Logger) *HTTPGateway {
	settings := gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[ChargeResult](settings),
		log:     log,
	}
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	result, err := g.breaker.Execute(func() (ChargeResult, error) {
		return g.post(ctx, "/charges", req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return ChargeResult{}, fmt.Errorf("%w: circuit open", ErrGatewayUnavailable)
		}
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return result, nil
}

// Refund is fire-and-forget from the caller's perspective; errors are logged
// for reconciliation, never surfaced into a lifecycle transition.
func (g *HTTPGateway) Refund(ctx context.Context, req RefundRequest) error {
	_, err := g.breaker.Execute(func() (ChargeResult, error) {
		return g.post(ctx, "/refunds", req)
	})
	if err != nil {
		g.log.Error("refund request failed",
			zap.Error(err),
			zap.String("appointment_id", req.AppointmentID.String()),
			zap.Float64("amount", req.Amount))
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (ChargeResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return ChargeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return ChargeResult{}, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ChargeResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}

// NoopGateway approves everything. Used in dev when no gateway is configured.
type NoopGateway struct{}

func (NoopGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	return ChargeResult{TransactionID: uuid.NewString(), Succeeded: true}, nil
}

func (NoopGateway) Refund(context.Context, RefundRequest) error { return nil }
