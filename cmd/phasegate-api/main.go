// Phasegate API — приём многофазных запросов и просмотр их состояния.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Phasegate/internal/api"
	"github.com/shaiso/Phasegate/internal/config"
	"github.com/shaiso/Phasegate/internal/lock"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/queue"
	"github.com/shaiso/Phasegate/internal/repo"
	"github.com/shaiso/Phasegate/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phasegate_api_healthz_requests_total",
		Help: "Total health check requests handled by phasegate-api",
	})
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting phasegate-api")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("PHASEGATE_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	locks := lock.New(lock.Config{
		Store:      repo.NewLockRepo(pool),
		DefaultTTL: cfg.Orchestrator.LockTTL,
		Logger:     logger,
	})

	apiCfg := api.Config{
		Queue:   queue.New(repo.NewParentRepo(pool), logger),
		Locks:   locks,
		Records: repo.NewRecordRepo(pool),
		Logger:  logger,
	}

	// RabbitMQ: без брокера координатор подхватит запросы по тику
	mqConn, err := mq.NewConnection(mq.ConnectionConfig{
		URL:    cfg.RabbitMQ.URL,
		Name:   "phasegate-api",
		Logger: logger,
	})
	if err != nil {
		logger.Warn("RabbitMQ not available, events disabled", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		apiCfg.Publisher = mq.NewPublisher(mqConn, logger)
	}

	handler := api.NewHandler(apiCfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.APIPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
