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

// ProcessRepo — репозиторий экземпляров процессов и их переменных.
//
// Реализует engine.VariableStore (шаблоны) и heartbeat.InstanceSource (monitor).
type ProcessRepo struct {
	pool *pgxpool.Pool
}

// NewProcessRepo создаёт новый ProcessRepo.
func NewProcessRepo(pool *pgxpool.Pool) *ProcessRepo {
	return &ProcessRepo{pool: pool}
}

// Create создаёт экземпляр процесса вместе с переменными.
func (r *ProcessRepo) Create(ctx context.Context, inst *domain.ProcessInstance) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO process_instances (id, parent_id, deployment_id, process_name, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		inst.ID,
		inst.ParentID,
		inst.DeploymentID,
		inst.ProcessName,
		inst.State,
		inst.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: process instance %s", ErrAlreadyExists, inst.ID)
	}
	if err != nil {
		return fmt.Errorf("insert process instance: %w", err)
	}

	if err := upsertVariables(ctx, tx, inst.ID, inst.Variables); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetInstance возвращает экземпляр процесса с переменными.
func (r *ProcessRepo) GetInstance(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error) {
	var inst domain.ProcessInstance
	err := r.pool.QueryRow(ctx, `
		SELECT id, parent_id, deployment_id, process_name, state, created_at
		FROM process_instances
		WHERE id = $1
	`, id).Scan(
		&inst.ID,
		&inst.ParentID,
		&inst.DeploymentID,
		&inst.ProcessName,
		&inst.State,
		&inst.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get process instance: %w", err)
	}

	vars, err := r.Variables(ctx, id)
	if err != nil {
		return nil, err
	}
	inst.Variables = vars

	return &inst, nil
}

// Variables возвращает все переменные экземпляра.
func (r *ProcessRepo) Variables(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, value FROM process_variables WHERE process_instance_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]any)
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			return nil, fmt.Errorf("scan variable: %w", err)
		}
		value, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		vars[name] = value
	}
	return vars, rows.Err()
}

// GetVariable возвращает одну переменную экземпляра.
// Возвращает ErrNotFound, если переменной нет.
func (r *ProcessRepo) GetVariable(ctx context.Context, id uuid.UUID, name string) (any, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT value FROM process_variables WHERE process_instance_id = $1 AND name = $2
	`, id, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get variable: %w", err)
	}
	return decodeValue(raw)
}

// SetVariables записывает (или перезаписывает) переменные экземпляра.
func (r *ProcessRepo) SetVariables(ctx context.Context, id uuid.UUID, vars map[string]any) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM process_instances WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check process instance: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	if err := upsertVariables(ctx, tx, id, vars); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ActivePage — позиция keyset-пагинации по (created_at, id).
// Нулевое значение — начало списка.
type ActivePage struct {
	AfterCreatedAt time.Time
	AfterID        uuid.UUID
}

// ListActive возвращает страницу активных экземпляров процесса деплоймента
// (без переменных), упорядоченных по (created_at, id).
// Пустой deploymentID — любые деплойменты.
func (r *ProcessRepo) ListActive(ctx context.Context, deploymentID, processName string, page ActivePage, limit int) ([]domain.ProcessInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, parent_id, deployment_id, process_name, state, created_at
		FROM process_instances
		WHERE process_name = $1
		  AND state = 'ACTIVE'
		  AND ($2 = '' OR deployment_id = $2)
		  AND (created_at, id) > ($3, $4)
		ORDER BY created_at, id
		LIMIT $5
	`, processName, deploymentID, page.AfterCreatedAt, page.AfterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list active instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.ProcessInstance
	for rows.Next() {
		var inst domain.ProcessInstance
		if err := rows.Scan(
			&inst.ID,
			&inst.ParentID,
			&inst.DeploymentID,
			&inst.ProcessName,
			&inst.State,
			&inst.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan process instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// UpdateState переводит активный экземпляр в новое состояние.
// Возвращает ErrInvalidState, если экземпляр уже не активен.
func (r *ProcessRepo) UpdateState(ctx context.Context, id uuid.UUID, state domain.ProcessState) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE process_instances SET state = $2 WHERE id = $1 AND state = 'ACTIVE'
	`, id, state)
	if err != nil {
		return fmt.Errorf("update process state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// --- Helpers ---

func upsertVariables(ctx context.Context, tx pgx.Tx, id uuid.UUID, vars map[string]any) error {
	if len(vars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for name, value := range vars {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal variable %s: %w", name, err)
		}
		batch.Queue(`
			INSERT INTO process_variables (process_instance_id, name, value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (process_instance_id, name)
			DO UPDATE SET value = EXCLUDED.value, updated_at = now()
		`, id, name, raw)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert variables: %w", err)
	}
	return nil
}

func decodeValue(raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	var v any
	if err := unmarshalJSON(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
