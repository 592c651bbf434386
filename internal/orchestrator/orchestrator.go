package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/domain"
	"github.com/shaiso/Phasegate/internal/lock"
	"github.com/shaiso/Phasegate/internal/mq"
	"github.com/shaiso/Phasegate/internal/preflight"
	"github.com/shaiso/Phasegate/internal/queue"
	"github.com/shaiso/Phasegate/internal/report"
	"github.com/shaiso/Phasegate/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Default configuration values.
const (
	defaultTickInterval  = 10 * time.Second
	defaultBatchSize     = 100
	defaultParallelism   = 8
	defaultSubmitTimeout = 30 * time.Second
	defaultPollTimeout   = 15 * time.Second
)

// Orchestrator — координатор фаз.
//
// На каждом тике для каждого активного запроса:
//   - опрашивает движок о RUNNING фазе и финализирует или очищает её;
//   - переводит следующую подходящую фазу в READY;
//   - запускает READY фазу: pre-flight, блокировка тикета, запуск в движке.
//
// Запросы обрабатываются параллельно и изолированно: ошибка или паника
// при обработке одного не влияет на остальные.
type Orchestrator struct {
	queue     *queue.Queue
	locks     *lock.Service
	gate      Gate
	engine    Engine
	clock     domain.Clock
	cleanup   *FailureCleanup
	finalizer *SuccessFinalizer
	fx        *effects

	// MQ (опционально)
	conn      *mq.Connection
	consumers []*mq.Consumer

	// inFlight — запросы, которые сейчас обрабатываются.
	inFlight map[uuid.UUID]struct{}
	mu       sync.Mutex

	// Configuration
	tickInterval  time.Duration
	batchSize     int
	parallelism   int
	submitTimeout time.Duration
	pollTimeout   time.Duration
	lockTTL       time.Duration

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Orchestrator.
type Config struct {
	Queue    *queue.Queue
	Locks    *lock.Service
	Gate     Gate // default: пустой набор проверок
	Engine   Engine
	Tickets  Ticketing
	Recorder Recorder       // опционально
	Events   EventPublisher // опционально
	Renderer *report.Renderer
	Clock    domain.Clock

	// Conn — соединение с RabbitMQ для consumers (опционально).
	Conn *mq.Connection

	TickInterval      time.Duration // интервал тиков (default: 10s)
	BatchSize         int           // размер страницы активных запросов (default: 100)
	Parallelism       int           // запросов параллельно (default: 8)
	SubmitTimeout     time.Duration // таймаут Submit/Cancel (default: 30s)
	PollTimeout       time.Duration // таймаут Poll (default: 15s)
	LockTTL           time.Duration // TTL блокировки (default: lock.DefaultTTL)
	MaxVerifyAttempts int           // default: 3
	RequireArtifact   bool          // успех без артефакта считается неоднозначным
	CloseParentTicket bool          // закрывать родительский тикет после последней фазы

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	submitTimeout := cfg.SubmitTimeout
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	maxVerify := cfg.MaxVerifyAttempts
	if maxVerify <= 0 {
		maxVerify = DefaultMaxVerifyAttempts
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}

	gate := cfg.Gate
	if gate == nil {
		gate = preflight.New(preflight.Config{Logger: logger})
	}

	renderer := cfg.Renderer
	if renderer == nil {
		renderer = report.NewRenderer(0)
	}

	fx := &effects{
		queue:    cfg.Queue,
		locks:    cfg.Locks,
		tickets:  cfg.Tickets,
		renderer: renderer,
		recorder: cfg.Recorder,
		events:   cfg.Events,
		logger:   logger,
	}
	cleanup := &FailureCleanup{effects: fx}

	return &Orchestrator{
		queue:   cfg.Queue,
		locks:   cfg.Locks,
		gate:    gate,
		engine:  cfg.Engine,
		clock:   clock,
		cleanup: cleanup,
		finalizer: &SuccessFinalizer{
			effects:           fx,
			cleanup:           cleanup,
			maxVerifyAttempts: maxVerify,
			requireArtifact:   cfg.RequireArtifact,
			closeParentTicket: cfg.CloseParentTicket,
		},
		fx:            fx,
		conn:          cfg.Conn,
		inFlight:      make(map[uuid.UUID]struct{}),
		tickInterval:  tickInterval,
		batchSize:     batchSize,
		parallelism:   parallelism,
		submitTimeout: submitTimeout,
		pollTimeout:   pollTimeout,
		lockTTL:       cfg.LockTTL,
		logger:        logger,
	}
}

// Start запускает цикл тиков и, если задано соединение, consumers.
func (o *Orchestrator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancelFunc = cancel

	o.logger.Info("starting orchestrator",
		"tick_interval", o.tickInterval,
		"batch_size", o.batchSize,
		"parallelism", o.parallelism,
	)

	if o.conn != nil {
		o.consumers = o.newConsumers()
		for _, c := range o.consumers {
			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("consumer error", "error", err)
				}
			}()
		}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.tickLoop(ctx)
	}()

	o.logger.Info("orchestrator started")
	return nil
}

// Stop останавливает Orchestrator и ждёт завершения текущего тика.
func (o *Orchestrator) Stop() {
	o.stoppedMu.Lock()
	o.stopped = true
	o.stoppedMu.Unlock()

	o.logger.Info("stopping orchestrator...")

	if o.cancelFunc != nil {
		o.cancelFunc()
	}
	for _, c := range o.consumers {
		c.Stop()
	}

	o.wg.Wait()

	o.logger.Info("orchestrator stopped")
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.stoppedMu.RLock()
	defer o.stoppedMu.RUnlock()
	return o.stopped
}

// tickLoop вызывает Tick по таймеру.
func (o *Orchestrator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(o.tickInterval)
	defer ticker.Stop()

	// Первый тик сразу: подхватываем запросы, пока сервис был выключен
	o.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runTick(ctx)
		}
	}
}

func (o *Orchestrator) runTick(ctx context.Context) {
	if err := o.Tick(ctx, o.clock.Now()); err != nil && ctx.Err() == nil {
		o.logger.Error("tick failed", "error", err)
	}
}

// Tick выполняет один проход по всем активным запросам.
// Запросы читаются страницами по BatchSize в порядке создания.
//
// Ошибка возвращается, только если не удалось получить список запросов.
// Ошибки отдельных запросов логируются.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		telemetry.TicksTotal.Inc()
		telemetry.TickDuration.Observe(time.Since(start).Seconds())
	}()

	var (
		cursor domain.ParentCursor
		total  int
	)
	for {
		parents, err := o.queue.ListActiveAfter(ctx, cursor, o.batchSize)
		if err != nil {
			return fmt.Errorf("list active parents: %w", err)
		}
		if len(parents) == 0 {
			break
		}
		total += len(parents)

		var g errgroup.Group
		g.SetLimit(o.parallelism)
		for i := range parents {
			id := parents[i].ID
			g.Go(func() error {
				o.safeTickParent(ctx, id, now)
				return nil
			})
		}
		_ = g.Wait()

		if len(parents) < o.batchSize || ctx.Err() != nil {
			break
		}
		cursor = parents[len(parents)-1].Cursor()
	}

	if total > 0 {
		o.logger.Debug("tick", "parents", total)
	}
	return nil
}

// safeTickParent обрабатывает один запрос, изолируя его ошибки и паники.
func (o *Orchestrator) safeTickParent(ctx context.Context, id uuid.UUID, now time.Time) {
	log := telemetry.WithParentID(o.logger, id.String())

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing parent request",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	err := o.TickParent(ctx, id, now)

	var pbe *PreflightBlockedError
	switch {
	case err == nil:
	case errors.Is(err, ErrParentBusy):
		log.Debug("parent request busy, skipping")
	case errors.As(err, &pbe):
		log.Warn("launch blocked by preflight", "phase", pbe.Phase, "reason", pbe.Report.Message)
	case errors.Is(err, ErrPollingTransient):
		log.Warn("poll failed, will retry on next tick", "error", err)
	default:
		log.Error("failed to process parent request", "error", err)
	}
}

// TickParent выполняет один шаг координации для запроса.
// Не выполняется параллельно для одного и того же запроса.
func (o *Orchestrator) TickParent(ctx context.Context, id uuid.UUID, now time.Time) error {
	if !o.begin(id) {
		return ErrParentBusy
	}
	defer o.end(id)

	p, err := o.queue.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load parent %s: %w", id, err)
	}

	d := Decide(p)
	if d.Action == ActionPromote {
		if err := o.queue.MarkReady(ctx, id, d.Phase, now); err != nil && !queue.IsAlreadyIn(err, domain.PhaseStatusReady) {
			return fmt.Errorf("promote phase %d: %w", d.Phase, err)
		}
		telemetry.WithPhase(o.logger, id.String(), d.Phase).Info("phase ready")

		if p, err = o.queue.Get(ctx, id); err != nil {
			return fmt.Errorf("reload parent %s: %w", id, err)
		}
		d = Decide(p)
	}

	switch d.Action {
	case ActionPoll:
		return o.poll(ctx, p, d.Phase, now)
	case ActionCancel:
		return o.cancelRunning(ctx, p, d.Phase, d.Reason, now)
	case ActionLaunch:
		return o.launch(ctx, p, d.Phase, now)
	default:
		return nil
	}
}

// Cancel запрашивает отмену выполняющейся фазы.
// Выполнение останавливается и очищается на следующем тике.
func (o *Orchestrator) Cancel(ctx context.Context, parentID uuid.UUID, n int, reason string) error {
	if err := o.queue.RequestCancel(ctx, parentID, n, reason, o.clock.Now()); err != nil {
		return err
	}
	telemetry.WithPhase(o.logger, parentID.String(), n).Info("phase cancellation requested", "reason", reason)
	return nil
}

// launch запускает READY фазу: pre-flight, блокировка, запуск, RUNNING.
func (o *Orchestrator) launch(ctx context.Context, p *domain.ParentRequest, n int, now time.Time) error {
	ph, err := p.Phase(n)
	if err != nil {
		return err
	}
	log := telemetry.WithTicketID(telemetry.WithPhase(o.logger, p.ID.String(), n), ph.TicketID)

	// 1. Pre-flight: при отказе блокировка не берётся
	rep := o.gate.Run(ctx)
	if rep.Blocked {
		o.preflightBlocked(ctx, log, p, ph, rep, now)
		return &PreflightBlockedError{ParentID: p.ID.String(), Phase: n, Report: rep}
	}
	for _, adv := range rep.Advisories() {
		log.Info("preflight advisory", "check", adv.Name, "outcome", adv.Outcome, "message", adv.Message)
	}

	// 2. Блокировка тикета
	attempt := *ph
	attempt.LockHolder = uuid.NewString()

	res, err := o.locks.TryAcquire(ctx, ph.TicketID, attempt.LockHolder, o.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire ticket lock: %w", err)
	}
	if !res.Acquired {
		telemetry.LockContentionTotal.Inc()
		o.fx.record(ctx, &attempt, domain.EventLockDenied, res.Reason, now)
		log.Debug("launch deferred", "error", ErrLockContention, "reason", res.Reason)
		return nil
	}

	// 3. Запуск в движке
	submitCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	execID, err := o.engine.Submit(submitCtx, domain.NewSubmitRequest(ph, attempt.LockHolder))
	cancel()
	if err != nil {
		o.locks.Release(ctx, ph.TicketID, attempt.LockHolder)
		o.fx.record(ctx, &attempt, domain.EventLaunchFailed, err.Error(), now)
		return fmt.Errorf("submit phase %d: %w", n, err)
	}
	attempt.ExecutionID = execID

	// 4. RUNNING
	if err := o.queue.MarkRunning(ctx, p.ID, n, execID, attempt.LockHolder, now); err != nil {
		cancelCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
		if cerr := o.engine.Cancel(cancelCtx, execID); cerr != nil {
			log.Error("failed to cancel orphaned execution", "execution_id", execID, "error", cerr)
		}
		cancel()
		o.locks.Release(ctx, ph.TicketID, attempt.LockHolder)
		o.fx.record(ctx, &attempt, domain.EventLaunchFailed, err.Error(), now)
		return fmt.Errorf("mark phase %d running: %w", n, err)
	}

	telemetry.LaunchesTotal.Inc()
	o.fx.record(ctx, &attempt, domain.EventLaunched, "", now)
	o.fx.publish(ctx, &attempt, domain.EventLaunched, "")

	log.Info("phase launched", "execution_id", execID, "attempt_id", attempt.LockHolder)
	return nil
}

// preflightBlocked фиксирует отказ pre-flight и сообщает о нём в тикет фазы.
// Одинаковые отказы публикуются один раз.
func (o *Orchestrator) preflightBlocked(ctx context.Context, log *slog.Logger, p *domain.ParentRequest, ph *domain.Phase,
	rep preflight.Report, now time.Time) {
	failures := rep.Failures()
	for _, f := range failures {
		telemetry.PreflightBlockedTotal.WithLabelValues(f.Name).Inc()
	}
	o.fx.record(ctx, ph, domain.EventPreflightBlocked, rep.Message, now)

	digest := rep.Digest()
	o.fx.postOnce(ctx, log, "preflight_comment", ph.TicketID,
		report.PreflightMarker(p.ID.String(), ph.Number, digest),
		func() (string, error) {
			return o.fx.renderer.Preflight(report.PreflightData{
				ParentID: p.ID.String(),
				Phase:    ph.Number,
				Digest:   digest,
				Failures: failures,
			})
		})
}

// poll опрашивает движок о RUNNING фазе.
func (o *Orchestrator) poll(ctx context.Context, p *domain.ParentRequest, n int, now time.Time) error {
	ph, err := p.Phase(n)
	if err != nil {
		return err
	}

	pollCtx, cancel := context.WithTimeout(ctx, o.pollTimeout)
	st, err := o.engine.Poll(pollCtx, ph.ExecutionID)
	cancel()
	if err != nil {
		telemetry.PollErrorsTotal.Inc()
		return &PollingTransientError{ExecutionID: ph.ExecutionID, Err: err}
	}

	switch st.State {
	case domain.ExecutionStateRunning:
		return nil
	case domain.ExecutionStateCompleted:
		return o.finalizer.Run(ctx, p, n, st, now)
	case domain.ExecutionStateFailed:
		return o.cleanup.Run(ctx, p, n, Failure{
			Summary:   st.Error,
			Artifacts: st.Artifacts,
			Event:     domain.EventFailed,
		}, now)
	default:
		telemetry.PollErrorsTotal.Inc()
		return &PollingTransientError{
			ExecutionID: ph.ExecutionID,
			Err:         &domain.UnknownStatusError{Kind: "execution", Value: string(st.State)},
		}
	}
}

// cancelRunning останавливает выполнение и очищает фазу.
func (o *Orchestrator) cancelRunning(ctx context.Context, p *domain.ParentRequest, n int, reason string, now time.Time) error {
	ph, err := p.Phase(n)
	if err != nil {
		return err
	}

	cancelCtx, cancel := context.WithTimeout(ctx, o.submitTimeout)
	err = o.engine.Cancel(cancelCtx, ph.ExecutionID)
	cancel()
	if err != nil {
		return fmt.Errorf("cancel execution %s: %w", ph.ExecutionID, err)
	}

	summary := "cancelled by operator"
	if reason != "" {
		summary += ": " + reason
	}
	return o.cleanup.Run(ctx, p, n, Failure{Summary: summary, Event: domain.EventCancelled}, now)
}

// begin отмечает запрос как обрабатываемый. false, если он уже в работе.
func (o *Orchestrator) begin(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, busy := o.inFlight[id]; busy {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) end(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, id)
}

// InFlight возвращает количество запросов в обработке.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inFlight)
}
