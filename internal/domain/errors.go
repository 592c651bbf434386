package domain

import (
	"errors"
	"fmt"
)

// Ошибки доменной модели.
var (
	// ErrInvalidTransition — переход статуса фазы запрещён.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPhaseNotFound — фаза с таким номером отсутствует.
	ErrPhaseNotFound = errors.New("phase not found")

	// ErrAnotherPhaseRunning — у запроса уже есть фаза в RUNNING.
	ErrAnotherPhaseRunning = errors.New("another phase is already running")

	// ErrValidation — входные данные не прошли валидацию.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound — запись отсутствует в хранилище.
	ErrNotFound = errors.New("not found")
)

// TransitionError — отказ в переходе статуса фазы.
type TransitionError struct {
	ParentID string
	Phase    int
	From     PhaseStatus
	To       PhaseStatus
	Reason   string
	Err      error
}

// Error реализует интерфейс error.
func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("phase %d of %s: %s -> %s", e.Phase, e.ParentID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap возвращает базовую ошибку.
func (e *TransitionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidTransition
}

// ValidationError — ошибка валидации входящего запроса.
type ValidationError struct {
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UnknownStatusError — значение статуса вне закрытого перечисления.
type UnknownStatusError struct {
	Kind  string
	Value string
}

// Error реализует интерфейс error.
func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown %s status %q", e.Kind, e.Value)
}
