package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionConn — соединение, за которым закреплён session-level lock.
type sessionConn interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Release возвращает соединение в пул.
	Release()

	// Destroy закрывает соединение мимо пула: сессия с lock'ом завершается.
	Destroy(ctx context.Context) error
}

// pooledConn — sessionConn поверх pgxpool.Conn.
type pooledConn struct {
	*pgxpool.Conn
}

func (c pooledConn) Destroy(ctx context.Context) error {
	return c.Hijack().Close(ctx)
}

// AdvisoryLock — лидерство через pg_try_advisory_lock.
//
// Session-level lock привязан к соединению, поэтому держим выделенное
// соединение из пула, пока лидерство не отпущено. Соединение в неизвестном
// состоянии не возвращается в пул, а закрывается: иначе lock уехал бы
// в пул вместе с ним.
type AdvisoryLock struct {
	acquire func(ctx context.Context) (sessionConn, error)
	key     int64

	mu   sync.Mutex
	conn sessionConn
}

// NewAdvisoryLock создаёт lock с ключом key.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{
		acquire: func(ctx context.Context) (sessionConn, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return pooledConn{conn}, nil
		},
		key: key,
	}
}

// TryAcquire пытается стать лидером (или подтверждает лидерство).
// Подходит как scheduler.Gate.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		// Проверяем, что соединение с lock'ом живо
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		_ = l.conn.Destroy(ctx)
		l.conn = nil
	}

	conn, err := l.acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", l.key).Scan(&ok); err != nil {
		// Неизвестно, взят ли lock
		_ = conn.Destroy(ctx)
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release отпускает лидерство.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	if _, err := conn.Exec(ctx, "select pg_advisory_unlock($1)", l.key); err != nil {
		_ = conn.Destroy(ctx)
		return fmt.Errorf("advisory unlock: %w", err)
	}
	conn.Release()
	return nil
}
