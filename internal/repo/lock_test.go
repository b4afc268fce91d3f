package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn — sessionConn в памяти.
type fakeConn struct {
	locked  bool // результат pg_try_advisory_lock
	pingErr error
	execErr error
	scanErr error

	released  bool
	destroyed bool
}

func (c *fakeConn) Ping(context.Context) error { return c.pingErr }

func (c *fakeConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakeConn) QueryRow(context.Context, string, ...any) pgx.Row {
	return fakeRow{locked: c.locked, err: c.scanErr}
}

func (c *fakeConn) Release() { c.released = true }

func (c *fakeConn) Destroy(context.Context) error {
	c.destroyed = true
	return nil
}

type fakeRow struct {
	locked bool
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*bool) = r.locked
	return nil
}

// newFakeLock возвращает lock, который выдаёт соединения по очереди.
func newFakeLock(conns ...*fakeConn) *AdvisoryLock {
	return &AdvisoryLock{
		key: 42,
		acquire: func(context.Context) (sessionConn, error) {
			if len(conns) == 0 {
				return nil, errors.New("pool exhausted")
			}
			c := conns[0]
			conns = conns[1:]
			return c, nil
		},
	}
}

func TestAdvisoryLock_TryAcquire(t *testing.T) {
	tests := []struct {
		name          string
		conn          *fakeConn
		wantOK        bool
		wantErr       bool
		wantReleased  bool
		wantDestroyed bool
	}{
		{name: "acquired", conn: &fakeConn{locked: true}, wantOK: true},
		{name: "held elsewhere", conn: &fakeConn{locked: false}, wantReleased: true},
		{
			// Состояние lock'а неизвестно: соединение не возвращается в пул
			name:          "query failed",
			conn:          &fakeConn{scanErr: errors.New("conn reset")},
			wantErr:       true,
			wantDestroyed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lock := newFakeLock(tt.conn)

			ok, err := lock.TryAcquire(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReleased, tt.conn.released)
			assert.Equal(t, tt.wantDestroyed, tt.conn.destroyed)
		})
	}
}

func TestAdvisoryLock_DeadConnIsDestroyed(t *testing.T) {
	first := &fakeConn{locked: true}
	second := &fakeConn{locked: true}
	lock := newFakeLock(first, second)

	ok, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// Живое соединение подтверждает лидерство без нового acquire
	ok, err = lock.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// Ping упал: старое соединение закрывается, а не уходит в пул с lock'ом
	first.pingErr = errors.New("broken pipe")
	ok, err = lock.TryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, first.destroyed)
	assert.False(t, first.released)
	assert.Same(t, second, lock.conn)
}

func TestAdvisoryLock_Release(t *testing.T) {
	tests := []struct {
		name          string
		execErr       error
		wantReleased  bool
		wantDestroyed bool
	}{
		{name: "unlocked", wantReleased: true},
		{name: "unlock failed", execErr: errors.New("timeout"), wantDestroyed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{locked: true, execErr: tt.execErr}
			lock := newFakeLock(conn)

			ok, err := lock.TryAcquire(context.Background())
			require.NoError(t, err)
			require.True(t, ok)

			err = lock.Release(context.Background())
			assert.Equal(t, tt.execErr != nil, err != nil)
			assert.Equal(t, tt.wantReleased, conn.released)
			assert.Equal(t, tt.wantDestroyed, conn.destroyed)
			assert.Nil(t, lock.conn)

			// Повторный Release — no-op
			assert.NoError(t, lock.Release(context.Background()))
		})
	}
}
