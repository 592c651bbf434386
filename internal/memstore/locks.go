package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Phasegate/internal/domain"
)

// LockStore хранит блокировки тикетов в памяти.
type LockStore struct {
	mu    sync.Mutex
	locks map[string]domain.ExecutionLock
}

// NewLockStore создаёт пустой LockStore.
func NewLockStore() *LockStore {
	return &LockStore{locks: make(map[string]domain.ExecutionLock)}
}

// Acquire захватывает блокировку, если она свободна, просрочена
// или уже принадлежит holderID (тогда TTL продлевается).
func (s *LockStore) Acquire(_ context.Context, ticketID, holderID string, now time.Time, ttl time.Duration) (domain.AcquireOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.locks[ticketID]
	var prev *domain.ExecutionLock
	if exists {
		c := cur
		prev = &c
		if cur.IsHeld(now) && cur.HolderID != holderID {
			return domain.AcquireOutcome{Acquired: false, Lock: cur, Previous: prev}, nil
		}
	}

	l := domain.ExecutionLock{
		TicketID:   ticketID,
		HolderID:   holderID,
		Status:     domain.LockStatusLocked,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	s.locks[ticketID] = l
	return domain.AcquireOutcome{Acquired: true, Lock: l, Previous: prev}, nil
}

// Release освобождает блокировку, только если её держит holderID.
func (s *LockStore) Release(_ context.Context, ticketID, holderID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.locks[ticketID]
	if !exists || cur.Status != domain.LockStatusLocked || cur.HolderID != holderID {
		return false, nil
	}
	released := now
	cur.Status = domain.LockStatusUnlocked
	cur.ReleasedAt = &released
	s.locks[ticketID] = cur
	return true, nil
}

// Get возвращает блокировку тикета.
func (s *LockStore) Get(_ context.Context, ticketID string) (*domain.ExecutionLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.locks[ticketID]
	if !exists {
		return nil, fmt.Errorf("lock %s: %w", ticketID, domain.ErrNotFound)
	}
	return &cur, nil
}

// ExpireStale переводит просроченные блокировки в UNLOCKED и возвращает
// их состояние до освобождения.
func (s *LockStore) ExpireStale(_ context.Context, now time.Time) ([]domain.ExecutionLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.ExecutionLock
	for id, cur := range s.locks {
		if !cur.IsExpired(now) {
			continue
		}
		expired = append(expired, cur)
		released := now
		cur.Status = domain.LockStatusUnlocked
		cur.ReleasedAt = &released
		s.locks[id] = cur
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TicketID < expired[j].TicketID })
	return expired, nil
}
