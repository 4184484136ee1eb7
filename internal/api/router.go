package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/internal/metrics"
)

type RouterConfig struct {
	Service   Scheduler
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Log       *zap.Logger
	Metrics   *metrics.Collector
	JWTSecret string
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	if cfg.Log != nil {
		r.Use(LoggingMiddleware(cfg.Log))
	}
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health and metrics stay outside auth.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service, cfg.Metrics))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/transition", transitionHandler(cfg.Service, cfg.Metrics))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service, cfg.Metrics))
		r.Post("/appointments/{id}/pay", confirmPaymentHandler(cfg.Service, cfg.Metrics))
		r.Post("/appointments/{id}/reschedule", rescheduleHandler(cfg.Service, cfg.Metrics))
		r.Get("/appointments/{id}/history", appointmentHistoryHandler(cfg.Service))

		r.Get("/clinics/{clinicID}/slots", availableSlotsHandler(cfg.Service))
		r.Get("/doctors/{doctorID}/appointments", doctorAppointmentsHandler(cfg.Service))
		r.Get("/doctors/{doctorID}/patients/{patientID}/relationship", relationshipHandler(cfg.Service))
	})

	return r
}
