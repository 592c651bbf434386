package orchestrator

import (
	"errors"
	"fmt"

	"github.com/shaiso/Phasegate/internal/preflight"
)

// Ошибки координатора.
var (
	// ErrParentBusy — запрос уже обрабатывается другим тиком.
	ErrParentBusy = errors.New("parent request is already being processed")

	// ErrLockContention — тикет заблокирован другим выполнением.
	// Ожидаемый исход: запуск откладывается до следующего тика.
	ErrLockContention = errors.New("ticket lock is held by another execution")

	// ErrPreflightBlocked — блокирующая pre-flight проверка не прошла.
	ErrPreflightBlocked = errors.New("preflight blocked launch")

	// ErrPollingTransient — движок временно недоступен при опросе.
	ErrPollingTransient = errors.New("transient polling error")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

// PreflightBlockedError — запуск фазы остановлен pre-flight проверками.
// Ни блокировка, ни запуск не выполнялись.
type PreflightBlockedError struct {
	ParentID string
	Phase    int
	Report   preflight.Report
}

// Error реализует интерфейс error.
func (e *PreflightBlockedError) Error() string {
	return fmt.Sprintf("phase %d of %s blocked by preflight: %s", e.Phase, e.ParentID, e.Report.Message)
}

// Unwrap возвращает базовую ошибку.
func (e *PreflightBlockedError) Unwrap() error {
	return ErrPreflightBlocked
}

// PollingTransientError — ошибка опроса движка. Состояние фазы не меняется,
// опрос повторяется на следующем тике.
type PollingTransientError struct {
	ExecutionID string
	Err         error
}

// Error реализует интерфейс error.
func (e *PollingTransientError) Error() string {
	return fmt.Sprintf("poll execution %s: %v", e.ExecutionID, e.Err)
}

// Unwrap возвращает обе ошибки: классификацию и причину.
func (e *PollingTransientError) Unwrap() []error {
	return []error{ErrPollingTransient, e.Err}
}
