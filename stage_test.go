package secondary

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFS counts Open calls of the wrapped FS.
type countingFS struct {
	fs.FS
	opens atomic.Int32
}

func (c *countingFS) Open(name string) (fs.File, error) {
	c.opens.Add(1)
	return c.FS.Open(name)
}

func TestEnsureStagedIdempotent(t *testing.T) {
	fsys := &countingFS{FS: fstest.MapFS{"pkg.lua": {Data: []byte("X = 1")}}}
	dest := filepath.Join(t.TempDir(), "pkg.lua")
	s := NewStager()

	copied, err := s.EnsureStaged(context.Background(), fsys, "pkg.lua", dest)
	require.NoError(t, err)
	assert.True(t, copied)

	copied, err = s.EnsureStaged(context.Background(), fsys, "pkg.lua", dest)
	require.NoError(t, err)
	assert.False(t, copied)
	assert.EqualValues(t, 1, fsys.opens.Load())
}

func TestEnsureStagedEmptyAsset(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "empty.jar")
	copied, err := NewStager().EnsureStaged(context.Background(), fstest.MapFS{"empty.jar": {Data: []byte{}}}, "empty.jar", dest)
	require.NoError(t, err)
	assert.True(t, copied)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestEnsureStagedLargeAsset(t *testing.T) {
	data := make([]byte, 1<<20)
	_, err := rand.Read(data)
	require.NoError(t, err)
	dest := filepath.Join(t.TempDir(), "big.bin")
	copied, err := NewStager(WithBufferSize(4096)).EnsureStaged(context.Background(), fstest.MapFS{"big.bin": {Data: data}}, "big.bin", dest)
	require.NoError(t, err)
	assert.True(t, copied)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestEnsureStagedFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "missing", "pkg.lua")
	copied, err := NewStager().EnsureStaged(context.Background(), fstest.MapFS{"pkg.lua": {Data: []byte("X = 1")}}, "pkg.lua", dest)
	require.Error(t, err)
	assert.False(t, copied)
	assert.ErrorIs(t, err, ErrStaging)
	assert.NoFileExists(t, dest)
}

func TestEnsureStagedMissingAsset(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.lua")
	_, err := NewStager().EnsureStaged(context.Background(), fstest.MapFS{}, "pkg.lua", dest)
	assert.ErrorIs(t, err, ErrStaging)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NoFileExists(t, dest)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// slowFS blocks reads until release is closed.
type slowFS struct {
	release chan struct{}
	opens   atomic.Int32
}

type slowFile struct {
	fs.File
	release chan struct{}
}

func (s *slowFS) Open(name string) (fs.File, error) {
	s.opens.Add(1)
	f, err := fstest.MapFS{name: {Data: bytes.Repeat([]byte{7}, 64*1024)}}.Open(name)
	if err != nil {
		return nil, err
	}
	return &slowFile{File: f, release: s.release}, nil
}

func (s *slowFile) Read(p []byte) (int, error) {
	<-s.release
	return s.File.Read(p)
}

func TestEnsureStagedDeduplicates(t *testing.T) {
	fsys := &slowFS{release: make(chan struct{})}
	dest := filepath.Join(t.TempDir(), "pkg.bin")
	s := NewStager(WithBufferSize(1024))
	var hooks atomic.Int32
	s.OnStaged(func(string) { hooks.Add(1) })

	var w sync.WaitGroup
	results := make([]bool, 8)
	errs := make([]error, 8)
	for i := range results {
		w.Add(1)
		go func(i int) {
			defer w.Done()
			results[i], errs[i] = s.EnsureStaged(context.Background(), fsys, "pkg.bin", dest)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(fsys.release)
	w.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
	}
	assert.EqualValues(t, 1, hooks.Load())
	assert.LessOrEqual(t, fsys.opens.Load(), int32(len(results)))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.EqualValues(t, 64*1024, info.Size())
}

func TestEnsureStagedCancelled(t *testing.T) {
	fsys := &slowFS{release: make(chan struct{})}
	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.bin")
	ctx, cancel := context.WithCancel(context.Background())
	task := NewStager(WithBufferSize(1024)).StageAsync(ctx, fsys, "pkg.bin", dest, nil)
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(fsys.release)
	_, err := task.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	// the copy goroutine notices the cancellation on its next chunk
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}, time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, dest)
}

func TestStageMetrics(t *testing.T) {
	before := testutil.ToFloat64(stageTotal.WithLabelValues("skipped"))
	dest := filepath.Join(t.TempDir(), "pkg.lua")
	require.NoError(t, os.WriteFile(dest, nil, 0o600))
	_, err := NewStager().EnsureStaged(context.Background(), fstest.MapFS{}, "pkg.lua", dest)
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(stageTotal.WithLabelValues("skipped")))
}

func waiters(s *Stager, dest string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f := s.flights[dest]; f != nil {
		return f.waiters
	}
	return 0
}

func TestEnsureStagedSurvivesCancelledCaller(t *testing.T) {
	fsys := &slowFS{release: make(chan struct{})}
	dest := filepath.Join(t.TempDir(), "pkg.bin")
	s := NewStager(WithBufferSize(1024))

	ctx, cancel := context.WithCancel(context.Background())
	a := s.StageAsync(ctx, fsys, "pkg.bin", dest, nil)
	require.Eventually(t, func() bool { return waiters(s, dest) == 1 }, time.Second, time.Millisecond)
	b := s.StageAsync(context.Background(), fsys, "pkg.bin", dest, nil)
	require.Eventually(t, func() bool { return waiters(s, dest) == 2 }, time.Second, time.Millisecond)

	cancel()
	_, err := a.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, waiters(s, dest))

	close(fsys.release)
	copied, err := b.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, copied)
	assert.FileExists(t, dest)
	assert.Zero(t, waiters(s, dest))
}

// cancelAtEOF cancels when the asset has been read completely.
type cancelAtEOF struct {
	fs.File
	cancel context.CancelFunc
}

func (c cancelAtEOF) Read(p []byte) (int, error) {
	n, err := c.File.Read(p)
	if err == io.EOF {
		c.cancel()
	}
	return n, err
}

func TestCopyCancelledAfterLastChunk(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "pkg.lua")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f, err := fstest.MapFS{"pkg.lua": {Data: []byte("X = 1")}}.Open("pkg.lua")
	require.NoError(t, err)
	fsys := fileFS{f: cancelAtEOF{File: f, cancel: cancel}}

	err = NewStager().copy(ctx, fsys, "pkg.lua", dest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dest)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// fileFS serves one prepared file for any name.
type fileFS struct {
	f fs.File
}

func (f fileFS) Open(string) (fs.File, error) {
	return f.f, nil
}
