package secondary

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ZenLiuCN/secondary/internal/logging"
)

// DefaultBufferSize of the staging copy loop.
const DefaultBufferSize = 8 * 1024

type (
	// Stager copies bundled packages into storage once.
	//
	// Concurrent requests for the same destination share one copy.
	Stager struct {
		bufSize int
		logger  *slog.Logger
		group   singleflight.Group

		mu      sync.RWMutex
		hooks   []func(dest string)
		flights map[string]*flight
	}
	// flight is the shared copy of one destination.
	flight struct {
		ctx     context.Context
		cancel  context.CancelFunc
		waiters int
	}
	// StagerOption configures a Stager.
	StagerOption func(*Stager)
)

// WithBufferSize set the copy buffer size, values below 1 keep the default.
func WithBufferSize(n int) StagerOption {
	return func(s *Stager) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// WithStagerLogger set the logger of a Stager.
func WithStagerLogger(l *slog.Logger) StagerOption {
	return func(s *Stager) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStager create a Stager.
func NewStager(opts ...StagerOption) *Stager {
	s := &Stager{bufSize: DefaultBufferSize, logger: logging.NewNop(), flights: make(map[string]*flight)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStaged register a hook fired with the destination after every successful copy.
func (s *Stager) OnStaged(f func(dest string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, f)
}

// Staged reports whether dest already exists.
func Staged(dest string) bool {
	_, err := os.Stat(dest)
	return err == nil
}

// EnsureStaged copy asset from fsys to dest unless dest already exists.
//
// copied is false when dest existed. The copy goes through a temporary file
// in dest's directory renamed on success, so a failed or cancelled copy never
// leaves dest behind. dest's directory must exist.
//
// Callers of the same dest share one copy, which is cancelled only once every
// one of them gave up.
func (s *Stager) EnsureStaged(ctx context.Context, fsys fs.FS, asset, dest string) (copied bool, err error) {
	defer func() {
		switch {
		case err != nil:
			stageTotal.WithLabelValues("failed").Inc()
		case copied:
			stageTotal.WithLabelValues("copied").Inc()
		default:
			stageTotal.WithLabelValues("skipped").Inc()
		}
	}()
	for {
		if Staged(dest) {
			s.logger.Debug("already staged", "dest", dest)
			return false, nil
		}
		f, ch := s.join(ctx, fsys, asset, dest)
		select {
		case r := <-ch:
			s.leave(dest, f)
			// the shared copy was abandoned by its other callers, try again
			if r.Err != nil && errors.Is(r.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			if r.Err != nil {
				return false, r.Err
			}
			return r.Val.(bool), nil
		case <-ctx.Done():
			s.leave(dest, f)
			return false, &LoadError{Op: "stage", Path: dest, Err: cause(ErrStaging, ctx.Err())}
		}
	}
}

// join the running copy of dest or start one.
func (s *Stager) join(ctx context.Context, fsys fs.FS, asset, dest string) (*flight, <-chan singleflight.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[dest]
	if !ok {
		c, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: c, cancel: cancel}
		s.flights[dest] = f
	}
	f.waiters++
	return f, s.group.DoChan(dest, func() (any, error) {
		return s.stage(f.ctx, fsys, asset, dest)
	})
}

func (s *Stager) leave(dest string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.waiters--; f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[dest] == f {
		delete(s.flights, dest)
	}
}

// StageAsync run EnsureStaged in a Task.
func (s *Stager) StageAsync(ctx context.Context, fsys fs.FS, asset, dest string, callback func(copied bool, err error)) *Task[bool] {
	return Go(ctx, func(ctx context.Context) (bool, error) {
		return s.EnsureStaged(ctx, fsys, asset, dest)
	}, callback)
}

func (s *Stager) stage(ctx context.Context, fsys fs.FS, asset, dest string) (bool, error) {
	// another caller may have finished while this one waited for the group
	if Staged(dest) {
		return false, nil
	}
	if err := s.copy(ctx, fsys, asset, dest); err != nil {
		s.logger.Warn("staging failed", "asset", asset, "dest", dest, "error", err)
		return false, &LoadError{Op: "stage", Path: dest, Err: cause(ErrStaging, err)}
	}
	s.logger.Info("staged", "asset", asset, "dest", dest)
	s.mu.RLock()
	hooks := s.hooks
	s.mu.RUnlock()
	for _, h := range hooks {
		h(dest)
	}
	return true, nil
}

func (s *Stager) copy(ctx context.Context, fsys fs.FS, asset, dest string) (err error) {
	var src fs.File
	if src, err = fsys.Open(asset); err != nil {
		return
	}
	defer fn.IgnoreClose(src)()
	var tmp *renameio.PendingFile
	if tmp, err = renameio.TempFile(filepath.Dir(dest), dest); err != nil {
		return
	}
	defer func() { _ = tmp.Cleanup() }()
	buf := make([]byte, s.bufSize)
	for {
		if err = ctx.Err(); err != nil {
			return
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err = tmp.Write(buf[:n]); err != nil {
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", asset, rerr)
		}
	}
	if err = ctx.Err(); err != nil {
		return
	}
	return tmp.CloseAtomicallyReplace()
}
