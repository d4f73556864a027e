package host

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZenLiuCN/secondary"
	_ "github.com/ZenLiuCN/secondary/sample"
)

type fakeUI struct {
	mu        sync.Mutex
	toasts    []string
	progress  int
	dismissed int
	enabled   map[string]bool
}

func (f *fakeUI) Toast(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, text)
}

func (f *fakeUI) Progress(string, string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.dismissed++
	}
}

func (f *fakeUI) SetEnabled(action string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enabled == nil {
		f.enabled = make(map[string]bool)
	}
	f.enabled[action] = enabled
}

func (f *fakeUI) state() (toasts []string, progress, dismissed int, toast bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.toasts...), f.progress, f.dismissed, f.enabled[ActionToast]
}

func testConfig(t *testing.T) Config {
	c := DefaultConfig()
	c.Storage = t.TempDir()
	return c
}

func started(t *testing.T, cfg Config, opts ...Option) (*Controller, *fakeUI) {
	t.Helper()
	ui := new(fakeUI)
	c := New(cfg, ui, opts...)
	t.Cleanup(func() { _ = c.Close() })
	task, err := c.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	_, err = task.Wait(context.Background())
	require.NoError(t, err)
	return c, ui
}

func TestStart(t *testing.T) {
	cfg := testConfig(t)
	c, ui := started(t, cfg)
	toasts, progress, dismissed, enabled := ui.state()
	assert.Empty(t, toasts)
	assert.Equal(t, 1, progress)
	assert.Equal(t, 1, dismissed)
	assert.True(t, enabled)
	assert.FileExists(t, cfg.PackagePath())
	assert.DirExists(t, cfg.OutputDir())

	// already staged
	task, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
	_, progress, _, enabled = ui.state()
	assert.Equal(t, 1, progress)
	assert.True(t, enabled)
}

func TestShowToast(t *testing.T) {
	c, ui := started(t, testConfig(t))
	require.NoError(t, c.ShowToast(context.Background()))
	require.NoError(t, c.ShowToast(context.Background()))
	toasts, _, _, _ := ui.state()
	assert.Equal(t, []string{"hello", "hello"}, toasts)
}

func TestStartSecondary(t *testing.T) {
	c, ui := started(t, testConfig(t))
	_, err := c.StartSecondaryAsync(context.Background()).Wait(context.Background())
	require.NoError(t, err)
	toasts, _, _, _ := ui.state()
	assert.Equal(t, []string{"this another activity"}, toasts)
}

func TestStartSecondaryScript(t *testing.T) {
	cfg := testConfig(t)
	cfg.Package = "secondary.lua"
	cfg.ActivitySymbol = "SecondaryActivity"
	c, ui := started(t, cfg)
	require.NoError(t, c.StartSecondary(context.Background()))
	toasts, _, _, _ := ui.state()
	assert.Equal(t, []string{"this another activity"}, toasts)
	names, err := c.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"Greeter", "SecondaryActivity"}, names)
}

func TestActionFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.LibrarySymbol = "com.example.dex.lib.Missing"
	c, ui := started(t, cfg)
	err := c.ShowToast(context.Background())
	assert.ErrorIs(t, err, secondary.ErrSymbolNotFound)
	toasts, _, _, _ := ui.state()
	assert.Equal(t, []string{Failed}, toasts)
}

func TestActionBeforeStaging(t *testing.T) {
	ui := new(fakeUI)
	c := New(testConfig(t), ui)
	defer c.Close()
	_, err := c.ShowToastAsync(context.Background()).Wait(context.Background())
	assert.ErrorIs(t, err, secondary.ErrNotStaged)
	toasts, _, _, _ := ui.state()
	assert.Equal(t, []string{Failed}, toasts)
}

func TestStagingFailure(t *testing.T) {
	ui := new(fakeUI)
	c := New(testConfig(t), ui, WithAssets(fstest.MapFS{}))
	defer c.Close()
	task, err := c.Start(context.Background())
	require.NoError(t, err)
	_, err = task.Wait(context.Background())
	assert.ErrorIs(t, err, secondary.ErrStaging)
	toasts, _, dismissed, enabled := ui.state()
	assert.Equal(t, []string{Failed}, toasts)
	assert.Equal(t, 1, dismissed)
	assert.False(t, enabled)
}

type blockingFS struct {
	release chan struct{}
}

type blockingFile struct {
	fs.File
	release chan struct{}
}

func (b blockingFS) Open(name string) (fs.File, error) {
	f, err := fstest.MapFS{name: {Data: bytes.Repeat([]byte{1}, 4096)}}.Open(name)
	if err != nil {
		return nil, err
	}
	return blockingFile{File: f, release: b.release}, nil
}

func (b blockingFile) Read(p []byte) (int, error) {
	<-b.release
	return b.File.Read(p)
}

func TestCancel(t *testing.T) {
	ui := new(fakeUI)
	release := make(chan struct{})
	cfg := testConfig(t)
	c := New(cfg, ui, WithAssets(blockingFS{release: release}))
	defer c.Close()
	assert.False(t, c.Cancel())
	task, err := c.Start(context.Background())
	require.NoError(t, err)
	require.True(t, c.Cancel())
	close(release)
	<-task.Done()
	assert.False(t, c.Cancel())
	toasts, _, dismissed, enabled := ui.state()
	assert.Empty(t, toasts)
	assert.Equal(t, 1, dismissed)
	assert.False(t, enabled)
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(cfg.PackageDir())
		return err == nil && len(entries) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCustomSymbols(t *testing.T) {
	s := make(secondary.Symbols)
	s.Register("sample.LibraryProvider", func() secondary.Library { return loud{} })
	c, ui := started(t, testConfig(t), WithSymbols(s))
	require.NoError(t, c.ShowToast(context.Background()))
	toasts, _, _, _ := ui.state()
	assert.Equal(t, []string{"HELLO"}, toasts)
}

type loud struct{}

func (loud) ShowToast(host secondary.Host, text string) error {
	host.Notify("HELLO")
	return nil
}
