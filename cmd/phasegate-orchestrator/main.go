// Phasegate Orchestrator — координирует выполнение многофазных запросов.
//
// Orchestrator:
//   - Раз в тик (и по событиям из RabbitMQ) решает, что делать с каждым запросом
//   - Перед запуском фазы прогоняет pre-flight проверки и берёт блокировку тикета
//   - Опрашивает движок и финализирует или откатывает завершённые фазы
//   - По cron освобождает просроченные блокировки
//
// Одновременно активен только один экземпляр (pg_try_advisory_lock),
// остальные ждут лидерства и отдают /healthz.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Phasegate/internal/config"
	"github.com/shaiso/Phasegate/internal/executor"
	"github.com/shaiso/Phasegate/internal/lock"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/orchestrator"
	"github.com/shaiso/Phasegate/internal/preflight"
	"github.com/shaiso/Phasegate/internal/queue"
	"github.com/shaiso/Phasegate/internal/repo"
	"github.com/shaiso/Phasegate/internal/report"
	"github.com/shaiso/Phasegate/internal/scheduler"
	"github.com/shaiso/Phasegate/internal/telemetry"
	"github.com/shaiso/Phasegate/internal/ticket"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting phasegate-orchestrator")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("PHASEGATE_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Хранилища и сервисы
	parentRepo := repo.NewParentRepo(pool)
	recordRepo := repo.NewRecordRepo(pool)
	q := queue.New(parentRepo, logger)
	locks := lock.New(lock.Config{
		Store:      repo.NewLockRepo(pool),
		DefaultTTL: cfg.Orchestrator.LockTTL,
		Logger:     logger,
	})

	// RabbitMQ
	var events orchestrator.EventPublisher
	mqConn, err := mq.NewConnection(mq.ConnectionConfig{
		URL:    cfg.RabbitMQ.URL,
		Name:   "phasegate-orchestrator",
		Logger: logger,
	})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		events = mq.NewPublisher(mqConn, logger)
	}

	// Движок и трекер
	engine, err := executor.New(executor.Config{
		BaseURL: cfg.Engine.BaseURL,
		Token:   cfg.Engine.Token,
		Timeout: cfg.Engine.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to create engine client", "error", err)
		os.Exit(1)
	}

	tickets, err := ticket.NewGitHub(ctx, ticket.Config{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		BranchPrefix:      cfg.GitHub.BranchPrefix,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Retry:             ticket.DefaultRetryConfig(),
		Logger:            logger,
	})
	if err != nil {
		logger.Error("failed to create github client", "error", err)
		os.Exit(1)
	}

	gate := preflight.New(preflight.Config{
		Checks:       preflightChecks(cfg, pool, mqConn, tickets, engine),
		CheckTimeout: cfg.Preflight.CheckTimeout,
		Logger:       logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Queue:             q,
		Locks:             locks,
		Gate:              gate,
		Engine:            engine,
		Tickets:           tickets,
		Recorder:          recordRepo,
		Events:            events,
		Renderer:          report.NewRenderer(cfg.Orchestrator.SummaryLimit),
		Conn:              mqConn,
		TickInterval:      cfg.Orchestrator.TickInterval,
		BatchSize:         cfg.Orchestrator.BatchSize,
		Parallelism:       cfg.Orchestrator.Parallelism,
		SubmitTimeout:     cfg.Orchestrator.SubmitTimeout,
		PollTimeout:       cfg.Orchestrator.PollTimeout,
		LockTTL:           cfg.Orchestrator.LockTTL,
		MaxVerifyAttempts: cfg.Orchestrator.MaxVerifyAttempts,
		RequireArtifact:   cfg.Orchestrator.RequireArtifact,
		CloseParentTicket: cfg.Orchestrator.CloseParentTicket,
		Logger:            logger,
	})

	sweeper, err := scheduler.New(scheduler.Config{
		Locks:  locks,
		Spec:   cfg.Sweeper.Cron,
		Logger: logger,
	})
	if err != nil {
		logger.Error("invalid sweeper schedule", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics (отдаётся и в режиме ожидания лидерства)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.OrchestratorPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Leader election: работает только один координатор
	leader := repo.NewLeader(pool, repo.OrchestratorLockKey, logger)
	logger.Info("waiting for leadership")
	if err := leader.Wait(ctx, 5*time.Second); err != nil {
		logger.Info("stopped before acquiring leadership")
		shutdown(server, logger)
		return
	}
	defer leader.Release()

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start orchestrator", "error", err)
		os.Exit(1)
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start lock sweeper", "error", err)
		os.Exit(1)
	}

	// Ожидаем сигнал завершения
	<-ctx.Done()

	sweeper.Stop()
	orch.Stop()
	shutdown(server, logger)
	logger.Info("phasegate-orchestrator stopped")
}

// preflightChecks собирает проверки перед запуском фазы.
func preflightChecks(cfg *config.Config, db preflight.Pinger, conn *mq.Connection, tickets *ticket.GitHub, engine *executor.Client) []preflight.Check {
	checks := []preflight.Check{
		preflight.DatabaseReachable(db),
		preflight.EngineHealthy(engine),
		preflight.RateLimit(tickets, cfg.Preflight.MinRateLimit, false),
	}

	if conn != nil {
		checks = append(checks, preflight.BrokerConnected(conn))
	} else {
		checks = append(checks, preflight.BrokerConnected(nil))
	}

	if cfg.Preflight.WorkspacePath != "" {
		checks = append(checks, preflight.WorkspaceClean(cfg.Preflight.WorkspacePath, cfg.Preflight.RequireCleanWorkspace))
	}
	return checks
}

func shutdown(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
