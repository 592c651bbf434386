package domain

// PhaseStatus — статус фазы в очереди.
//
// Жизненный цикл:
//
//	QUEUED → READY → RUNNING → COMPLETED
//	                         ↘ FAILED
//	QUEUED/READY → BLOCKED (если упала одна из предыдущих фаз)
//
// Переходы монотонные: фаза никогда не возвращается в более ранний статус.
type PhaseStatus string

const (
	// PhaseStatusQueued — фаза создана и ждёт завершения предыдущей.
	PhaseStatusQueued PhaseStatus = "QUEUED"

	// PhaseStatusReady — фаза может быть запущена на следующем тике.
	PhaseStatusReady PhaseStatus = "READY"

	// PhaseStatusRunning — фаза выполняется во внешнем движке.
	PhaseStatusRunning PhaseStatus = "RUNNING"

	// PhaseStatusCompleted — фаза успешно завершена и подтверждена.
	PhaseStatusCompleted PhaseStatus = "COMPLETED"

	// PhaseStatusFailed — выполнение фазы завершилось ошибкой.
	PhaseStatusFailed PhaseStatus = "FAILED"

	// PhaseStatusBlocked — фаза не будет запущена, т.к. упала предыдущая.
	PhaseStatusBlocked PhaseStatus = "BLOCKED"
)

// Valid возвращает true для известных значений.
func (s PhaseStatus) Valid() bool {
	switch s {
	case PhaseStatusQueued, PhaseStatusReady, PhaseStatusRunning,
		PhaseStatusCompleted, PhaseStatusFailed, PhaseStatusBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если статус финальный.
func (s PhaseStatus) IsTerminal() bool {
	switch s {
	case PhaseStatusCompleted, PhaseStatusFailed, PhaseStatusBlocked:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление PhaseStatus.
func (s PhaseStatus) String() string {
	return string(s)
}

// ParsePhaseStatus парсит строку в PhaseStatus.
func ParsePhaseStatus(s string) (PhaseStatus, error) {
	st := PhaseStatus(s)
	if !st.Valid() {
		return "", &UnknownStatusError{Kind: "phase", Value: s}
	}
	return st, nil
}

// ParentStatus — агрегированный статус родительского запроса.
//
// Вычисляется из статусов фаз (см. ParentRequest.RefreshStatus).
type ParentStatus string

const (
	// ParentStatusActive — есть фазы, которые ещё могут выполниться.
	ParentStatusActive ParentStatus = "ACTIVE"

	// ParentStatusCompleted — все фазы завершены успешно.
	ParentStatusCompleted ParentStatus = "COMPLETED"

	// ParentStatusFailed — одна из фаз упала, остальные заблокированы.
	ParentStatusFailed ParentStatus = "FAILED"
)

// Valid возвращает true для известных значений.
func (s ParentStatus) Valid() bool {
	switch s {
	case ParentStatusActive, ParentStatusCompleted, ParentStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal возвращает true, если статус финальный.
func (s ParentStatus) IsTerminal() bool {
	return s == ParentStatusCompleted || s == ParentStatusFailed
}

// LockStatus — статус блокировки тикета.
type LockStatus string

const (
	// LockStatusLocked — блокировка удерживается.
	LockStatusLocked LockStatus = "LOCKED"

	// LockStatusUnlocked — блокировка свободна.
	LockStatusUnlocked LockStatus = "UNLOCKED"
)

// Valid возвращает true для известных значений.
func (s LockStatus) Valid() bool {
	return s == LockStatusLocked || s == LockStatusUnlocked
}

// ExecutionState — состояние выполнения во внешнем движке.
type ExecutionState string

const (
	// ExecutionStateRunning — выполнение ещё идёт.
	ExecutionStateRunning ExecutionState = "running"

	// ExecutionStateCompleted — движок сообщил об успешном завершении.
	ExecutionStateCompleted ExecutionState = "completed"

	// ExecutionStateFailed — движок сообщил об ошибке.
	ExecutionStateFailed ExecutionState = "failed"
)

// Valid возвращает true для известных значений.
func (s ExecutionState) Valid() bool {
	switch s {
	case ExecutionStateRunning, ExecutionStateCompleted, ExecutionStateFailed:
		return true
	default:
		return false
	}
}

// ParseExecutionState парсит ответ движка в ExecutionState.
func ParseExecutionState(s string) (ExecutionState, error) {
	st := ExecutionState(s)
	if !st.Valid() {
		return "", &UnknownStatusError{Kind: "execution", Value: s}
	}
	return st, nil
}

// ArtifactState — состояние артефакта (pull request) в трекере.
type ArtifactState string

const (
	// ArtifactStateOpen — артефакт открыт.
	ArtifactStateOpen ArtifactState = "OPEN"

	// ArtifactStateClosed — артефакт закрыт без слияния.
	ArtifactStateClosed ArtifactState = "CLOSED"

	// ArtifactStateMerged — артефакт слит.
	ArtifactStateMerged ArtifactState = "MERGED"
)

// CheckOutcome — результат одной проверки pre-flight.
type CheckOutcome string

const (
	CheckPass CheckOutcome = "PASS"
	CheckWarn CheckOutcome = "WARN"
	CheckFail CheckOutcome = "FAIL"
)

// ExecutionEvent — тип записи в журнале запусков.
type ExecutionEvent string

const (
	EventPreflightBlocked ExecutionEvent = "PREFLIGHT_BLOCKED"
	EventLockDenied       ExecutionEvent = "LOCK_DENIED"
	EventLaunchFailed     ExecutionEvent = "LAUNCH_FAILED"
	EventLaunched         ExecutionEvent = "LAUNCHED"
	EventVerifyPending    ExecutionEvent = "VERIFY_PENDING"
	EventCompleted        ExecutionEvent = "COMPLETED"
	EventFailed           ExecutionEvent = "FAILED"
	EventCancelled        ExecutionEvent = "CANCELLED"
)
