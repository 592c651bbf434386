package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// LockSweeper — то, что умеет освобождать просроченные блокировки.
// Реализуется lock.Service.
type LockSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Sweeper по cron-расписанию освобождает просроченные блокировки тикетов.
type Sweeper struct {
	locks  LockSweeper
	spec   string
	logger *slog.Logger

	cron       *cron.Cron
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// Config — конфигурация Sweeper.
type Config struct {
	Locks  LockSweeper
	Spec   string // cron-выражение (default: DefaultSweepSpec)
	Logger *slog.Logger
}

// New создаёт Sweeper и проверяет расписание.
func New(cfg Config) (*Sweeper, error) {
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSweepSpec
	}
	if err := ValidateCronExpr(spec); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		locks:  cfg.Locks,
		spec:   spec,
		logger: logger.With("component", "sweeper"),
	}, nil
}

// Start запускает расписание. Повторный вызов ничего не делает.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	ctx, s.cancelFunc = context.WithCancel(ctx)
	c := cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		s.cancelFunc()
		return err
	}
	c.Start()
	s.cron = c

	s.logger.Info("lock sweeper started", "spec", s.spec)
	return nil
}

// Stop останавливает расписание и ждёт завершения текущей очистки.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	cancel := s.cancelFunc
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	s.logger.Info("lock sweeper stopped")
}

// Sweep выполняет одну очистку и возвращает число освобождённых блокировок.
// Ошибка хранилища логируется, следующая очистка пройдёт по расписанию.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.locks.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("lock sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("lock sweep completed", "released", n)
	} else {
		s.logger.Debug("lock sweep completed", "released", 0)
	}
	return n
}
