package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Completion — итог выполнения одного work item'а в пуле.
type Completion struct {
	WorkItemID uuid.UUID
	Err        error
}

// Pool ограничивает количество одновременно выполняемых handler'ов.
//
// Ошибка одной задачи не отменяет остальные: errgroup используется
// только ради SetLimit и Wait.
type Pool struct {
	ctx context.Context
	g   errgroup.Group
}

// NewPool создаёт пул с лимитом limit. ctx передаётся задачам.
func NewPool(ctx context.Context, limit int) *Pool {
	if limit <= 0 {
		limit = 1
	}
	p := &Pool{ctx: ctx}
	p.g.SetLimit(limit)
	return p
}

// Submit ставит задачу в пул. Блокируется, пока пул заполнен.
// Канал получает ровно одну Completion и закрывается.
func (p *Pool) Submit(id uuid.UUID, fn func(ctx context.Context) error) <-chan Completion {
	done := make(chan Completion, 1)

	p.g.Go(func() error {
		done <- Completion{WorkItemID: id, Err: p.run(fn)}
		close(done)
		return nil
	})

	return done
}

// Wait ждёт завершения всех задач.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

func (p *Pool) run(fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrHandlerPanic, r, debug.Stack())
		}
	}()
	return fn(p.ctx)
}
