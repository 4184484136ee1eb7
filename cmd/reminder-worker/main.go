// The reminder worker emits 24-hour and 2-hour reminder events for upcoming
// scheduled and confirmed appointments, at most once per window.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/scheduling/internal/appointment"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
	"github.com/clinicore/scheduling/internal/logger"
	"github.com/clinicore/scheduling/internal/metrics"
	"github.com/clinicore/scheduling/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env, "info")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("reminder-worker starting",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("lead_long", cfg.ReminderLeadLong),
		zap.Duration("lead_short", cfg.ReminderLeadShort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zlog.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zlog.Info("connected to Postgres")

	col := metrics.NewCollector("scheduling_reminder")

	// Reminders exist only as notification events, so a broker is effectively
	// required here; the in-memory fallback is for local runs.
	var dispatcher notify.Dispatcher
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			zlog.Fatal("amqp connection error", zap.Error(err))
		}
		defer pub.Close()

		async := notify.NewAsyncDispatcher(pub, 256, col, zlog)
		defer async.Close()
		dispatcher = async
	} else {
		dispatcher = notify.NewMemoryDispatcher()
		zlog.Warn("AMQP_URL not set, reminders stay in memory")
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, nil, dispatcher, nil, appointment.SystemClock, cfg, zlog)

	runOnce(rootCtx, svc, col, zlog)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, col, zlog)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, col *metrics.Collector, zlog *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.SendDueReminders(runCtx)
	elapsed := time.Since(start)
	col.ReminderDuration.Observe(elapsed.Seconds())

	if err != nil {
		zlog.Error("reminder run error", zap.Error(err))
		return
	}
	zlog.Info("reminder run complete", zap.Int("sent", n), zap.Duration("elapsed", elapsed))
}
