package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/domain"
)

// ParentStore хранит родительские запросы в памяти.
type ParentStore struct {
	mu      sync.Mutex
	parents map[uuid.UUID]*domain.ParentRequest
}

// NewParentStore создаёт пустой ParentStore.
func NewParentStore() *ParentStore {
	return &ParentStore{parents: make(map[uuid.UUID]*domain.ParentRequest)}
}

// Create сохраняет копию запроса.
func (s *ParentStore) Create(_ context.Context, p *domain.ParentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parents[p.ID]; exists {
		return fmt.Errorf("parent %s: already exists", p.ID)
	}
	s.parents[p.ID] = p.Clone()
	return nil
}

// Get возвращает копию запроса.
func (s *ParentStore) Get(_ context.Context, id uuid.UUID) (*domain.ParentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parents[id]
	if !ok {
		return nil, fmt.Errorf("parent %s: %w", id, domain.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListActive возвращает активные запросы в порядке создания.
func (s *ParentStore) ListActive(ctx context.Context, limit int) ([]domain.ParentRequest, error) {
	return s.ListActiveAfter(ctx, domain.ParentCursor{}, limit)
}

// ListActiveAfter возвращает активные запросы, идущие после after.
func (s *ParentStore) ListActiveAfter(_ context.Context, after domain.ParentCursor, limit int) ([]domain.ParentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ParentRequest, 0, len(s.parents))
	for _, p := range s.parents {
		if p.Status == domain.ParentStatusActive && after.Precedes(p) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update применяет fn к копии запроса под мьютексом и сохраняет её,
// только если fn не вернула ошибку.
func (s *ParentStore) Update(_ context.Context, id uuid.UUID, fn func(p *domain.ParentRequest) error) (*domain.ParentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.parents[id]
	if !ok {
		return nil, fmt.Errorf("parent %s: %w", id, domain.ErrNotFound)
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.parents[id] = next
	return next.Clone(), nil
}
