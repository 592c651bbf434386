package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Phasegate/internal/domain"
)

// ParentRepo — репозиторий родительских запросов и их фаз.
type ParentRepo struct {
	pool *pgxpool.Pool
}

// NewParentRepo создаёт новый ParentRepo.
func NewParentRepo(pool *pgxpool.Pool) *ParentRepo {
	return &ParentRepo{pool: pool}
}

// querier — общий интерфейс пула и транзакции.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const parentColumns = `id, ticket_id, title, status, created_at, updated_at`

const phaseColumns = `
	parent_id, number, title, content, doc_refs, ticket_id, status,
	execution_id, lock_holder, error_summary, verify_attempts,
	cancel_requested, cancel_reason, started_at, finished_at, updated_at`

// Create сохраняет запрос вместе с фазами в одной транзакции.
func (r *ParentRepo) Create(ctx context.Context, p *domain.ParentRequest) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO parent_requests (id, ticket_id, title, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.ID, p.TicketID, p.Title, p.Status, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("parent %s: %w", p.ID, ErrAlreadyExists)
			}
			return fmt.Errorf("insert parent: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range p.Phases {
			ph := &p.Phases[i]
			docRefs, err := json.Marshal(docRefsOrEmpty(ph.DocRefs))
			if err != nil {
				return fmt.Errorf("marshal doc refs: %w", err)
			}
			batch.Queue(`
				INSERT INTO phases (`+phaseColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			`, phaseArgs(ph, docRefs)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert phases: %w", err)
		}
		return nil
	})
}

// Get возвращает запрос с фазами.
func (r *ParentRepo) Get(ctx context.Context, id uuid.UUID) (*domain.ParentRequest, error) {
	return r.load(ctx, r.pool, id, false)
}

// ListActive возвращает запросы в статусе ACTIVE, старые первыми.
func (r *ParentRepo) ListActive(ctx context.Context, limit int) ([]domain.ParentRequest, error) {
	return r.ListActiveAfter(ctx, domain.ParentCursor{}, limit)
}

// ListActiveAfter возвращает активные запросы, идущие после after
// в порядке (created_at, id).
func (r *ParentRepo) ListActiveAfter(ctx context.Context, after domain.ParentCursor, limit int) ([]domain.ParentRequest, error) {
	if limit <= 0 {
		limit = 100
	}

	var afterAt *time.Time
	if !after.IsZero() {
		afterAt = &after.CreatedAt
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+parentColumns+`
		FROM parent_requests
		WHERE status = 'ACTIVE'
		  AND ($1::timestamptz IS NULL OR (created_at, id) > ($1::timestamptz, $2::uuid))
		ORDER BY created_at, id
		LIMIT $3
	`, afterAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active parents: %w", err)
	}

	parents, err := pgx.CollectRows(rows, scanParent)
	if err != nil {
		return nil, fmt.Errorf("scan parents: %w", err)
	}
	return r.attachPhases(ctx, parents)
}

// ParentFilter — параметры фильтрации запросов.
type ParentFilter struct {
	Status domain.ParentStatus
	Limit  int
	Offset int

	// Oldest — сортировать по возрастанию времени создания.
	Oldest bool
}

// List возвращает запросы с фильтрацией.
func (r *ParentRepo) List(ctx context.Context, filter ParentFilter) ([]domain.ParentRequest, error) {
	order := "DESC"
	if filter.Oldest {
		order = "ASC"
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+parentColumns+`
		FROM parent_requests
		WHERE ($1::text IS NULL OR status = $1::parent_status)
		ORDER BY created_at `+order+`
		LIMIT $2 OFFSET $3
	`, nullString(string(filter.Status)), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list parents: %w", err)
	}

	parents, err := pgx.CollectRows(rows, scanParent)
	if err != nil {
		return nil, fmt.Errorf("scan parents: %w", err)
	}
	return r.attachPhases(ctx, parents)
}

// attachPhases загружает фазы для списка запросов одним запросом.
func (r *ParentRepo) attachPhases(ctx context.Context, parents []domain.ParentRequest) ([]domain.ParentRequest, error) {
	if len(parents) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(parents))
	byID := make(map[uuid.UUID]*domain.ParentRequest, len(parents))
	for i := range parents {
		ids[i] = parents[i].ID
		byID[parents[i].ID] = &parents[i]
	}

	phaseRows, err := r.pool.Query(ctx, `
		SELECT `+phaseColumns+`
		FROM phases
		WHERE parent_id = ANY($1)
		ORDER BY parent_id, number
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("list phases: %w", err)
	}
	phases, err := pgx.CollectRows(phaseRows, scanPhase)
	if err != nil {
		return nil, fmt.Errorf("scan phases: %w", err)
	}
	for _, ph := range phases {
		if p, ok := byID[ph.ParentID]; ok {
			p.Phases = append(p.Phases, ph)
		}
	}
	return parents, nil
}

// Update атомарно применяет fn к запросу.
//
// Строка запроса блокируется (SELECT ... FOR UPDATE) до конца транзакции,
// поэтому конкурентные переходы одного запроса выполняются по очереди.
// Если fn вернула ошибку, транзакция откатывается и ошибка возвращается как есть.
func (r *ParentRepo) Update(ctx context.Context, id uuid.UUID, fn func(p *domain.ParentRequest) error) (*domain.ParentRequest, error) {
	var updated *domain.ParentRequest

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		p, err := r.load(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE parent_requests SET status = $2, updated_at = $3 WHERE id = $1
		`, p.ID, p.Status, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update parent: %w", err)
		}

		batch := &pgx.Batch{}
		for i := range p.Phases {
			ph := &p.Phases[i]
			docRefs, err := json.Marshal(docRefsOrEmpty(ph.DocRefs))
			if err != nil {
				return fmt.Errorf("marshal doc refs: %w", err)
			}
			batch.Queue(`
				UPDATE phases
				SET title = $3, content = $4, doc_refs = $5, ticket_id = $6, status = $7,
				    execution_id = $8, lock_holder = $9, error_summary = $10, verify_attempts = $11,
				    cancel_requested = $12, cancel_reason = $13, started_at = $14, finished_at = $15,
				    updated_at = $16
				WHERE parent_id = $1 AND number = $2
			`, phaseArgs(ph, docRefs)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("update phases: %w", err)
		}

		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// load читает запрос и его фазы. forUpdate блокирует строку запроса.
func (r *ParentRepo) load(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.ParentRequest, error) {
	query := `SELECT ` + parentColumns + ` FROM parent_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("get parent: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanParent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("parent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan parent: %w", err)
	}

	phaseRows, err := q.Query(ctx, `SELECT `+phaseColumns+` FROM phases WHERE parent_id = $1 ORDER BY number`, id)
	if err != nil {
		return nil, fmt.Errorf("get phases: %w", err)
	}
	p.Phases, err = pgx.CollectRows(phaseRows, scanPhase)
	if err != nil {
		return nil, fmt.Errorf("scan phases: %w", err)
	}
	return &p, nil
}

// --- Helpers ---

func scanParent(row pgx.CollectableRow) (domain.ParentRequest, error) {
	var p domain.ParentRequest
	err := row.Scan(&p.ID, &p.TicketID, &p.Title, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPhase(row pgx.CollectableRow) (domain.Phase, error) {
	var (
		ph                                    domain.Phase
		docRefs                               []byte
		execID, holder, summary, cancelReason *string
	)
	err := row.Scan(
		&ph.ParentID,
		&ph.Number,
		&ph.Title,
		&ph.Content,
		&docRefs,
		&ph.TicketID,
		&ph.Status,
		&execID,
		&holder,
		&summary,
		&ph.VerifyAttempts,
		&ph.CancelRequested,
		&cancelReason,
		&ph.StartedAt,
		&ph.FinishedAt,
		&ph.UpdatedAt,
	)
	if err != nil {
		return ph, err
	}

	if len(docRefs) > 0 {
		if err := json.Unmarshal(docRefs, &ph.DocRefs); err != nil {
			return ph, fmt.Errorf("unmarshal doc refs: %w", err)
		}
		if len(ph.DocRefs) == 0 {
			ph.DocRefs = nil
		}
	}
	ph.ExecutionID = fromNull(execID)
	ph.LockHolder = fromNull(holder)
	ph.ErrorSummary = fromNull(summary)
	ph.CancelReason = fromNull(cancelReason)
	return ph, nil
}

// phaseArgs — аргументы в порядке phaseColumns.
func phaseArgs(ph *domain.Phase, docRefs []byte) []any {
	return []any{
		ph.ParentID,
		ph.Number,
		ph.Title,
		ph.Content,
		docRefs,
		ph.TicketID,
		ph.Status,
		nullString(ph.ExecutionID),
		nullString(ph.LockHolder),
		nullString(ph.ErrorSummary),
		ph.VerifyAttempts,
		ph.CancelRequested,
		nullString(ph.CancelReason),
		ph.StartedAt,
		ph.FinishedAt,
		ph.UpdatedAt,
	}
}

func docRefsOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}
