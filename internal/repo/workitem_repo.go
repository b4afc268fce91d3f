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

	"github.com/shaiso/longrest/internal/domain"
)

// WorkItemRepo — репозиторий work item'ов.
//
// Переходы статусов выполняются compare-and-set'ом в одном UPDATE:
// повторное завершение возвращает ErrInvalidState, а не перезаписывает результат.
type WorkItemRepo struct {
	pool *pgxpool.Pool
}

// NewWorkItemRepo создаёт новый WorkItemRepo.
func NewWorkItemRepo(pool *pgxpool.Pool) *WorkItemRepo {
	return &WorkItemRepo{pool: pool}
}

const workItemColumns = `
	id, process_instance_id, deployment_id, name, parameters, status, results,
	started_at, completed_at, created_at
`

// Create создаёт work item.
func (r *WorkItemRepo) Create(ctx context.Context, item *domain.WorkItem) error {
	params, err := json.Marshal(item.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO work_items (id, process_instance_id, deployment_id, name, parameters, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		item.ID,
		item.ProcessInstanceID,
		item.DeploymentID,
		item.Name,
		params,
		item.Status,
		item.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: work item %s", ErrAlreadyExists, item.ID)
	}
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

// GetByID возвращает work item по ID.
func (r *WorkItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)
	return scanWorkItem(row)
}

// Claim переводит work item PENDING → RUNNING и возвращает его.
// Возвращает ErrInvalidState, если work item уже забран или завершён.
func (r *WorkItemRepo) Claim(ctx context.Context, id uuid.UUID) (*domain.WorkItem, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE work_items
		SET status = 'RUNNING', started_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+workItemColumns, id)

	item, err := scanWorkItem(row)
	if errors.Is(err, ErrNotFound) {
		return nil, r.missingOrInvalid(ctx, id)
	}
	return item, err
}

// Finish переводит незавершённый work item в финальный статус с результатом.
// Возвращает ErrInvalidState, если work item уже в финальном статусе.
func (r *WorkItemRepo) Finish(ctx context.Context, id uuid.UUID, status domain.WorkItemStatus, results map[string]any) error {
	finished, err := finishWorkItem(ctx, r.pool, id, status, results)
	if err != nil {
		return err
	}
	if !finished {
		return r.missingOrInvalid(ctx, id)
	}
	return nil
}

// FinishParked завершает work item (→ COMPLETED) и паркует шаг одной транзакцией:
// либо work item завершён и ожидание открыто, либо не изменилось ничего.
//
// ErrInvalidState — work item уже в финальном статусе;
// ErrAlreadyExists — экземпляр процесса уже ждёт другой шаг.
func (r *WorkItemRepo) FinishParked(ctx context.Context, id uuid.UUID, results map[string]any, await *domain.Await) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	finished, err := finishWorkItem(ctx, tx, id, domain.WorkItemStatusCompleted, results)
	if err != nil {
		return err
	}
	if !finished {
		return r.missingOrInvalid(ctx, id)
	}

	if err := openAwait(ctx, tx, await); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func finishWorkItem(ctx context.Context, q querier, id uuid.UUID, status domain.WorkItemStatus, results map[string]any) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: %s is not a final status", ErrInvalidState, status)
	}

	raw, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("marshal results: %w", err)
	}

	result, err := q.Exec(ctx, `
		UPDATE work_items
		SET status = $2, results = $3, completed_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`, id, status, raw)
	if err != nil {
		return false, fmt.Errorf("finish work item: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ListStale возвращает RUNNING work item'ы, забранные раньше startedBefore:
// воркер, забравший их, скорее всего умер, не сообщив результат.
func (r *WorkItemRepo) ListStale(ctx context.Context, startedBefore time.Time, limit int) ([]domain.WorkItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE status = 'RUNNING' AND started_at < $1
		ORDER BY started_at ASC
		LIMIT $2
	`, startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale work items: %w", err)
	}
	return collectWorkItems(rows)
}

// ListPending возвращает work item'ы в статусе PENDING, старые первыми.
func (r *WorkItemRepo) ListPending(ctx context.Context, limit int) ([]domain.WorkItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workItemColumns+`
		FROM work_items
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending work items: %w", err)
	}
	return collectWorkItems(rows)
}

func collectWorkItems(rows pgx.Rows) ([]domain.WorkItem, error) {
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// --- Helpers ---

// missingOrInvalid различает "нет такого work item" и "не в том статусе".
func (r *WorkItemRepo) missingOrInvalid(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM work_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check work item: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

// scanWorkItem сканирует строку; pgx.Row и pgx.Rows оба реализуют Scan.
func scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	var item domain.WorkItem
	var paramsJSON, resultsJSON []byte

	err := row.Scan(
		&item.ID,
		&item.ProcessInstanceID,
		&item.DeploymentID,
		&item.Name,
		&paramsJSON,
		&item.Status,
		&resultsJSON,
		&item.StartedAt,
		&item.CompletedAt,
		&item.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan work item: %w", err)
	}

	if paramsJSON != nil {
		if err := unmarshalJSON(paramsJSON, &item.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if resultsJSON != nil {
		if err := unmarshalJSON(resultsJSON, &item.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}

	return &item, nil
}
