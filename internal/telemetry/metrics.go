package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики координатора фаз.
var (
	// TicksTotal — количество выполненных тиков.
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phasegate_ticks_total",
		Help: "Total number of coordinator ticks.",
	})

	// TickDuration — длительность одного тика.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phasegate_tick_duration_seconds",
		Help:    "Duration of a coordinator tick.",
		Buckets: prometheus.DefBuckets,
	})

	// LaunchesTotal — успешные запуски фаз.
	LaunchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phasegate_launches_total",
		Help: "Phases submitted to the execution engine.",
	})

	// PreflightBlockedTotal — запуски, остановленные pre-flight проверкой.
	PreflightBlockedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasegate_preflight_blocked_total",
		Help: "Launches blocked by a failing pre-flight check.",
	}, []string{"check"})

	// LockContentionTotal — отказы в захвате блокировки тикета.
	LockContentionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phasegate_lock_contention_total",
		Help: "Launches deferred because the ticket lock was held.",
	})

	// StaleLocksReclaimedTotal — перехваченные просроченные блокировки.
	StaleLocksReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phasegate_stale_locks_reclaimed_total",
		Help: "Expired ticket locks reclaimed by a new holder or the sweeper.",
	})

	// PhaseOutcomesTotal — финальные исходы фаз.
	PhaseOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasegate_phase_outcomes_total",
		Help: "Terminal phase outcomes.",
	}, []string{"outcome"})

	// PollErrorsTotal — временные ошибки опроса движка.
	PollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phasegate_poll_errors_total",
		Help: "Transient errors while polling the execution engine.",
	})

	// SideEffectErrorsTotal — ошибки отдельных шагов очистки и финализации.
	SideEffectErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phasegate_side_effect_errors_total",
		Help: "Failed best-effort steps during cleanup and finalization.",
	}, []string{"step"})
)
