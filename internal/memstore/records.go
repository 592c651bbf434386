package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Phasegate/internal/domain"
)

// RecordStore — журнал запусков в памяти.
type RecordStore struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

// NewRecordStore создаёт пустой RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// Append добавляет запись в журнал.
func (s *RecordStore) Append(_ context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	s.records = append(s.records, rec)
	return nil
}

// ListByParent возвращает записи запроса в порядке добавления.
func (s *RecordStore) ListByParent(_ context.Context, parentID uuid.UUID) ([]domain.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExecutionRecord
	for _, r := range s.records {
		if r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Events возвращает типы событий запроса по порядку.
func (s *RecordStore) Events(parentID uuid.UUID) []domain.ExecutionEvent {
	recs, _ := s.ListByParent(context.Background(), parentID)
	out := make([]domain.ExecutionEvent, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Event)
	}
	return out
}
