package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solswap/engine/params"
	"github.com/solswap/engine/pkg/api"
	"github.com/solswap/engine/pkg/bus"
	"github.com/solswap/engine/pkg/dex"
	"github.com/solswap/engine/pkg/queue"
	"github.com/solswap/engine/pkg/storage"
	"github.com/solswap/engine/pkg/util"
	"github.com/solswap/engine/pkg/worker"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/engine.log"
	}

	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Storage: Postgres order/quote/execution records ----
	gateway, err := storage.Open(cfg.Database)
	if err != nil {
		sugar.Fatalw("storage_init_failed", "err", err)
	}
	defer gateway.Close()
	sugar.Infow("storage_connected",
		"host", cfg.Database.Host, "db", cfg.Database.Name)

	// ---- Status bus: per-order pub/sub feeding websocket fan-out ----
	statusBus := bus.New()
	defer statusBus.Close()
	broadcaster := bus.NewBroadcaster(statusBus, sugar)

	// ---- Job queue: durable, survives restarts ----
	queueCfg := queue.DefaultConfig(cfg.Queue.Dir)
	queueCfg.MaxAttempts = cfg.Retry.MaxAttempts
	queueCfg.InitialDelay = cfg.Retry.InitialDelay

	metrics := queue.NewMetrics(prometheus.DefaultRegisterer)
	jobs, err := queue.Open(queueCfg, metrics, sugar)
	if err != nil {
		sugar.Fatalw("queue_init_failed", "err", err, "dir", cfg.Queue.Dir)
	}
	sugar.Infow("queue_opened", "dir", cfg.Queue.Dir,
		"max_attempts", queueCfg.MaxAttempts,
		"initial_delay_ms", queueCfg.InitialDelay.Milliseconds())

	// ---- DEX router: mock Raydium/Meteora quote + execution ----
	router := dex.NewRouter(dex.Config{
		ExecutionDelay: cfg.Dex.ExecutionDelay,
		FailureRate:    cfg.Dex.FailureRate,
	}, sugar)

	// ---- Worker pool ----
	pool := worker.NewPool(worker.Config{
		Concurrency:   cfg.Queue.MaxConcurrentOrders,
		RatePerWindow: cfg.Queue.OrdersPerMinute,
		Window:        time.Minute,
	}, jobs, gateway, router, broadcaster, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool.Start(ctx)

	// ---- API Server ----
	apiServer := api.NewServer(gateway, jobs, statusBus, cfg.Server.AllowedOrigins, sugar)
	apiAddr := fmt.Sprintf(":%d", cfg.Server.Port)

	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("engine_started",
		"addr", apiAddr,
		"concurrency", cfg.Queue.MaxConcurrentOrders,
		"orders_per_minute", cfg.Queue.OrdersPerMinute)

	<-ctx.Done()
	sugar.Infow("shutdown_signal_received")

	// Stop taking new requests first, then drain workers, then close the
	// queue so in-flight settles still persist.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("api_shutdown_failed", "err", err)
	}
	pool.Stop()
	if err := jobs.Close(); err != nil {
		sugar.Errorw("queue_close_failed", "err", err)
	}
	sugar.Infow("engine_stopped")
}
