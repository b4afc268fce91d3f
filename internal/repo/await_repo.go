package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/longrest/internal/domain"
)

// AwaitRepo — репозиторий ожиданий (припаркованных шагов).
//
// На экземпляр процесса приходится не больше одного ожидания.
// Разрешение ожидания — compare-and-set WAITING → финальный статус:
// из двух конкурирующих путей (callback и heartbeat monitor) выигрывает один.
type AwaitRepo struct {
	pool *pgxpool.Pool
}

// NewAwaitRepo создаёт новый AwaitRepo.
func NewAwaitRepo(pool *pgxpool.Pool) *AwaitRepo {
	return &AwaitRepo{pool: pool}
}

// openAwait паркует шаг (вызывается в транзакции WorkItemRepo.FinishParked).
// Разрешённое ранее ожидание того же экземпляра заменяется.
// Возвращает ErrAlreadyExists, если экземпляр уже чего-то ждёт.
func openAwait(ctx context.Context, q querier, a *domain.Await) error {
	result, err := q.Exec(ctx, `
		INSERT INTO awaits (process_instance_id, work_item_id, status, cancel_url, created_at, resolved_at)
		VALUES ($1, $2, 'WAITING', $3, $4, NULL)
		ON CONFLICT (process_instance_id) DO UPDATE
		SET work_item_id = EXCLUDED.work_item_id,
		    status       = 'WAITING',
		    cancel_url   = EXCLUDED.cancel_url,
		    created_at   = EXCLUDED.created_at,
		    resolved_at  = NULL
		WHERE awaits.status <> 'WAITING'
	`,
		a.ProcessInstanceID,
		a.WorkItemID,
		nullString(a.CancelURL),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("open await: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: process instance %s is already awaiting", ErrAlreadyExists, a.ProcessInstanceID)
	}
	a.Status = domain.AwaitStatusWaiting
	return nil
}

// Get возвращает ожидание экземпляра процесса.
func (r *AwaitRepo) Get(ctx context.Context, instanceID uuid.UUID) (*domain.Await, error) {
	return scanAwait(r.pool.QueryRow(ctx, `
		SELECT process_instance_id, work_item_id, status, cancel_url, created_at, resolved_at
		FROM awaits
		WHERE process_instance_id = $1
	`, instanceID))
}

// Resolve переводит ожидание WAITING → status и возвращает его.
// ErrNotFound — ожидания нет; ErrInvalidState — оно уже разрешено.
func (r *AwaitRepo) Resolve(ctx context.Context, instanceID uuid.UUID, status domain.AwaitStatus) (*domain.Await, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is not a final status", ErrInvalidState, status)
	}

	a, err := scanAwait(r.pool.QueryRow(ctx, `
		UPDATE awaits
		SET status = $2, resolved_at = now()
		WHERE process_instance_id = $1 AND status = 'WAITING'
		RETURNING process_instance_id, work_item_id, status, cancel_url, created_at, resolved_at
	`, instanceID, status))
	if !errors.Is(err, ErrNotFound) {
		return a, err
	}

	// Различаем "нет ожидания" и "уже разрешено"
	if _, getErr := r.Get(ctx, instanceID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidState
}

// Cancel отменяет ожидание, только если его открыл шаг workItemID
// (WAITING → CANCELLED). ErrNotFound — этот шаг ничего не ждёт.
func (r *AwaitRepo) Cancel(ctx context.Context, instanceID, workItemID uuid.UUID) (*domain.Await, error) {
	return scanAwait(r.pool.QueryRow(ctx, `
		UPDATE awaits
		SET status = 'CANCELLED', resolved_at = now()
		WHERE process_instance_id = $1 AND work_item_id = $2 AND status = 'WAITING'
		RETURNING process_instance_id, work_item_id, status, cancel_url, created_at, resolved_at
	`, instanceID, workItemID))
}

func scanAwait(row pgx.Row) (*domain.Await, error) {
	var a domain.Await
	var cancelURL *string

	err := row.Scan(
		&a.ProcessInstanceID,
		&a.WorkItemID,
		&a.Status,
		&cancelURL,
		&a.CreatedAt,
		&a.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan await: %w", err)
	}
	if cancelURL != nil {
		a.CancelURL = *cancelURL
	}
	return &a, nil
}
