package secondary

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCompletes(t *testing.T) {
	var fired atomic.Int32
	task := Go(context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	}, func(v int, err error) {
		assert.Equal(t, 42, v)
		assert.NoError(t, err)
		fired.Add(1)
	})
	v, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.EqualValues(t, 1, fired.Load())
	assert.False(t, task.Cancel())
	assert.NotEmpty(t, task.ID())
}

func TestTaskCancelSuppressesCallback(t *testing.T) {
	var fired atomic.Int32
	started := make(chan struct{})
	task := Go(context.Background(), func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 1, nil
	}, func(int, error) {
		fired.Add(1)
	})
	<-started
	require.True(t, task.Cancel())
	assert.False(t, task.Cancel())
	assert.True(t, task.Cancelled())
	_, err := task.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	<-task.Done()
	assert.Zero(t, fired.Load())
}

type closer struct {
	closed atomic.Bool
}

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

func TestTaskCancelReleasesResult(t *testing.T) {
	c := new(closer)
	release := make(chan struct{})
	task := Go(context.Background(), func(ctx context.Context) (*closer, error) {
		<-release
		return c, nil
	}, nil)
	require.True(t, task.Cancel())
	close(release)
	<-task.Done()
	assert.True(t, c.closed.Load())
}

func TestTaskPanic(t *testing.T) {
	task := Go(context.Background(), func(ctx context.Context) (int, error) {
		panic("bad")
	}, nil)
	_, err := task.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestTaskWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	task := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 0, errors.New("late")
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
