package secondary

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

type taskState uint8

const (
	taskRunning taskState = iota
	taskCompleted
	taskCancelled
)

// Task is a one-shot background operation with an explicit cancellation.
//
// The callback runs at most once on the task goroutine, only when the task
// completed. Once [Task.Cancel] returned true the callback never fires.
// The callback must not Wait on its own task.
type Task[T any] struct {
	id       string
	cancel   context.CancelFunc
	done     chan struct{}
	callback func(T, error)

	mu    sync.Mutex
	state taskState
	val   T
	err   error
}

// Go start f in a new goroutine with a cancellable child of ctx. callback may be nil.
func Go[T any](ctx context.Context, f func(ctx context.Context) (T, error), callback func(T, error)) *Task[T] {
	c, cancel := context.WithCancel(ctx)
	t := &Task[T]{
		id:       uuid.NewString(),
		cancel:   cancel,
		done:     make(chan struct{}),
		callback: callback,
	}
	go t.run(c, f)
	return t
}

func (t *Task[T]) run(ctx context.Context, f func(ctx context.Context) (T, error)) {
	defer close(t.done)
	defer t.cancel()
	v, err := t.call(ctx, f)
	t.mu.Lock()
	if t.state == taskCancelled {
		t.mu.Unlock()
		// nobody will receive v anymore
		if c, ok := any(v).(io.Closer); ok && err == nil {
			_ = c.Close()
		}
		return
	}
	t.state = taskCompleted
	t.val, t.err = v, err
	t.mu.Unlock()
	if t.callback != nil {
		t.callback(v, err)
	}
}

func (t *Task[T]) call(ctx context.Context, f func(ctx context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panic: %v", t.id, r)
		}
	}()
	return f(ctx)
}

// ID of the task, used for logging.
func (t *Task[T]) ID() string {
	return t.id
}

// Done is closed once the task function returned.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Cancel the task. It returns false when the task already completed, in which
// case its callback has fired or is firing.
func (t *Task[T]) Cancel() bool {
	t.mu.Lock()
	if t.state != taskRunning {
		t.mu.Unlock()
		return false
	}
	t.state = taskCancelled
	t.err = context.Canceled
	t.mu.Unlock()
	t.cancel()
	return true
}

// Cancelled reports whether Cancel took effect.
func (t *Task[T]) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == taskCancelled
}

// Wait for the task function to return and deliver its result.
// A cancelled task yields context.Canceled.
func (t *Task[T]) Wait(ctx context.Context) (v T, err error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return v, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.val, t.err
}
