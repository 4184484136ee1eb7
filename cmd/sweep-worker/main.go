// The sweep worker cancels appointments whose payment window elapsed without
// a successful charge, releasing the slot for other patients.
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

	zlog.Info("sweep-worker starting",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("payment_timeout", cfg.PaymentTimeout),
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

	col := metrics.NewCollector("scheduling_sweep")

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
	}

	repo := appointment.NewPgRepository(pgPool)

	// The sweep never books slots or charges cards, so it runs without the
	// reservation locker and payment gateway.
	svc := appointment.NewService(repo, nil, dispatcher, nil, appointment.SystemClock, cfg, zlog)

	runOnce(rootCtx, svc, col, zlog)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zlog.Info("shutdown signal received, stopping sweep worker")
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
	n, err := svc.SweepPendingPayments(runCtx)
	elapsed := time.Since(start)
	col.SweepDuration.Observe(elapsed.Seconds())

	if err != nil {
		zlog.Error("sweep run error", zap.Error(err))
		return
	}
	zlog.Info("sweep run complete", zap.Int("cancelled", n), zap.Duration("elapsed", elapsed))
}
