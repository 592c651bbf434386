package domain

import "time"

// ExecutionLock — блокировка тикета на время одного выполнения.
//
// На один тикет существует не более одной записи в статусе LOCKED.
// Просроченная блокировка (now >= ExpiresAt) считается свободной
// и может быть перехвачена следующим TryAcquire.
type ExecutionLock struct {
	// TicketID — заблокированный тикет.
	TicketID string `json:"ticket_id"`

	// HolderID — идентификатор попытки запуска, владеющей блокировкой.
	HolderID string `json:"holder_id"`

	// Status — LOCKED или UNLOCKED.
	Status LockStatus `json:"status"`

	// AcquiredAt — время захвата.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt — время истечения TTL.
	ExpiresAt time.Time `json:"expires_at"`

	// ReleasedAt — время освобождения (nil, пока удерживается).
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// IsExpired возвращает true, если блокировка формально удерживается,
// но её TTL уже истёк.
func (l *ExecutionLock) IsExpired(now time.Time) bool {
	return l.Status == LockStatusLocked && !now.Before(l.ExpiresAt)
}

// IsHeld возвращает true, если блокировка действительно удерживается.
func (l *ExecutionLock) IsHeld(now time.Time) bool {
	return l.Status == LockStatusLocked && now.Before(l.ExpiresAt)
}

// AcquireOutcome — результат атомарной попытки захвата в хранилище.
type AcquireOutcome struct {
	// Acquired — блокировка досталась вызывающему.
	Acquired bool

	// Lock — актуальное состояние записи после попытки.
	Lock ExecutionLock

	// Previous — состояние записи до попытки (nil, если записи не было).
	Previous *ExecutionLock
}

// Reclaimed возвращает true, если захват перехватил просроченную
// блокировку другого владельца.
func (o AcquireOutcome) Reclaimed() bool {
	return o.Acquired && o.Previous != nil &&
		o.Previous.Status == LockStatusLocked &&
		o.Previous.HolderID != o.Lock.HolderID
}
