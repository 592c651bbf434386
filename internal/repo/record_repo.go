package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Phasegate/internal/domain"
)

// RecordRepo — журнал запусков.
type RecordRepo struct {
	pool *pgxpool.Pool
}

// NewRecordRepo создаёт новый RecordRepo.
func NewRecordRepo(pool *pgxpool.Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

// Append добавляет запись.
func (r *RecordRepo) Append(ctx context.Context, rec domain.ExecutionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_records
			(id, attempt_id, parent_id, phase_number, ticket_id, execution_id, event, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		nullString(rec.AttemptID),
		rec.ParentID,
		rec.PhaseNumber,
		rec.TicketID,
		nullString(rec.ExecutionID),
		string(rec.Event),
		nullString(rec.Detail),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// ListByParent возвращает записи запроса в хронологическом порядке.
func (r *RecordRepo) ListByParent(ctx context.Context, parentID uuid.UUID) ([]domain.ExecutionRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, attempt_id, parent_id, phase_number, ticket_id, execution_id, event, detail, created_at
		FROM execution_records
		WHERE parent_id = $1
		ORDER BY created_at, id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ExecutionRecord, error) {
		var (
			rec                       domain.ExecutionRecord
			attemptID, execID, detail *string
			event                     string
		)
		err := row.Scan(&rec.ID, &attemptID, &rec.ParentID, &rec.PhaseNumber, &rec.TicketID,
			&execID, &event, &detail, &rec.CreatedAt)
		rec.AttemptID = fromNull(attemptID)
		rec.ExecutionID = fromNull(execID)
		rec.Detail = fromNull(detail)
		rec.Event = domain.ExecutionEvent(event)
		return rec, err
	})
}
