// Package host drives the staging and the two invocation demonstrations on
// behalf of a user interface.
package host

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/ZenLiuCN/secondary"
	"github.com/ZenLiuCN/secondary/assets"
	"github.com/ZenLiuCN/secondary/internal/logging"
	"github.com/ZenLiuCN/secondary/pool"
)

// Actions which the UI enables or disables.
const (
	ActionToast  = "toast"
	ActionSecond = "second"
)

// Failed is the notification shown for any failure.
const Failed = "operation failed"

type (
	// UI is the user facing surface of a Controller.
	UI interface {
		Toast(text string)                                //transient notification
		Progress(title, message string) (dismiss func()) //show a progress indicator
		SetEnabled(action string, enabled bool)
	}
	// Controller stages the bundled package, resolves implementations out of
	// it and invokes them. It is the Host handed to loaded components.
	Controller struct {
		cfg    Config
		ui     UI
		assets fs.FS
		logger *slog.Logger
		opts   []secondary.Option
		stager *secondary.Stager
		pool   *pool.Pool

		mu      sync.Mutex
		staging *secondary.Task[bool]
		dismiss func()
	}
	// Option configures a Controller.
	Option func(*Controller)
)

// WithAssets stage from fsys instead of the embedded assets.
func WithAssets(fsys fs.FS) Option {
	return func(c *Controller) {
		c.assets = fsys
	}
}

// WithLogger set the logger of the controller and its loader.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithSymbols use a custom host symbol table for catalog packages.
func WithSymbols(s secondary.Symbols) Option {
	return func(c *Controller) {
		c.opts = append(c.opts, secondary.WithSymbols(s))
	}
}

// New create a Controller.
func New(cfg Config, ui UI, opts ...Option) *Controller {
	c := &Controller{cfg: cfg, ui: ui, assets: assets.FS, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.stager = secondary.NewStager(secondary.WithBufferSize(cfg.BufferSize), secondary.WithStagerLogger(c.logger))
	c.pool = pool.NewPool(append(c.opts, secondary.WithLogger(c.logger))...)
	c.stager.OnStaged(func(dest string) {
		if err := c.pool.Invalidate(dest); err != nil {
			c.logger.Warn("invalidate package", "path", dest, "error", err)
		}
	})
	return c
}

// Notify implements secondary.Host.
func (c *Controller) Notify(text string) {
	c.ui.Toast(text)
}

// Start prepares storage and stages the package in the background with a
// progress indicator. It returns a nil task when the package is already staged.
func (c *Controller) Start(ctx context.Context) (*secondary.Task[bool], error) {
	for _, dir := range []string{c.cfg.PackageDir(), c.cfg.OutputDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("prepare storage: %w", err)
		}
	}
	dest := c.cfg.PackagePath()
	if secondary.Staged(dest) {
		c.ui.SetEnabled(ActionToast, true)
		return nil, nil
	}
	c.ui.SetEnabled(ActionToast, false)
	c.mu.Lock()
	defer c.mu.Unlock()
	var once sync.Once
	dismiss := c.ui.Progress("Preparing", "Copying the secondary package")
	c.dismiss = func() { once.Do(dismiss) }
	c.staging = c.stager.StageAsync(ctx, c.assets, c.cfg.Package, dest, c.staged)
	c.logger.Debug("staging", "task", c.staging.ID(), "asset", c.cfg.Package, "dest", dest)
	return c.staging, nil
}

func (c *Controller) staged(copied bool, err error) {
	c.mu.Lock()
	dismiss := c.dismiss
	c.mu.Unlock()
	if dismiss != nil {
		dismiss()
	}
	if err != nil {
		c.logger.Error("staging failed", "error", err)
		c.ui.Toast(Failed)
		return
	}
	c.logger.Debug("staging done", "copied", copied)
	c.ui.SetEnabled(ActionToast, true)
}

// Cancel a running staging, the progress indicator is dismissed.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	t, dismiss := c.staging, c.dismiss
	c.mu.Unlock()
	if t == nil || !t.Cancel() {
		return false
	}
	if dismiss != nil {
		dismiss()
	}
	return true
}

func (c *Controller) resolve(ctx context.Context, symbol string) (*secondary.Handle, error) {
	return c.pool.Resolve(ctx, c.cfg.PackagePath(), c.cfg.OutputDir(), symbol, c)
}

func (c *Controller) report(action string, err error) error {
	if err != nil {
		c.logger.Error("action failed", "action", action, "kind", secondary.Kind(err), "error", err)
		c.ui.Toast(Failed)
	}
	return err
}

// ShowToast resolve the library and call it through the Library capability.
func (c *Controller) ShowToast(ctx context.Context) error {
	h, err := c.resolve(ctx, c.cfg.LibrarySymbol)
	if err != nil {
		return c.report(ActionToast, err)
	}
	defer h.Close()
	return c.report(ActionToast, secondary.Use[secondary.Library](h, func(l secondary.Library) error {
		return l.ShowToast(c, "hello")
	}))
}

// StartSecondary resolve the activity and drive it by name: SetHost with the
// controller, then OnCreate without state.
func (c *Controller) StartSecondary(ctx context.Context) error {
	h, err := c.resolve(ctx, c.cfg.ActivitySymbol)
	if err != nil {
		return c.report(ActionSecond, err)
	}
	defer h.Close()
	if _, err = h.Invoke("SetHost", c); err != nil {
		return c.report(ActionSecond, err)
	}
	_, err = h.Invoke("OnCreate", nil)
	return c.report(ActionSecond, err)
}

// ShowToastAsync run ShowToast off the calling goroutine.
func (c *Controller) ShowToastAsync(ctx context.Context) *secondary.Task[struct{}] {
	return secondary.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.ShowToast(ctx)
	}, nil)
}

// StartSecondaryAsync run StartSecondary off the calling goroutine.
func (c *Controller) StartSecondaryAsync(ctx context.Context) *secondary.Task[struct{}] {
	return secondary.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.StartSecondary(ctx)
	}, nil)
}

// Symbols of the staged package.
func (c *Controller) Symbols() ([]string, error) {
	p, err := c.pool.Package(c.cfg.PackagePath(), c.cfg.OutputDir())
	if err != nil {
		return nil, err
	}
	return p.Symbols(), nil
}

// Resolve an arbitrary symbol, the caller owns the handle.
func (c *Controller) Resolve(ctx context.Context, symbol string) (*secondary.Handle, error) {
	return c.resolve(ctx, symbol)
}

// Close cancel staging and release every loaded package.
func (c *Controller) Close() error {
	c.Cancel()
	return c.pool.Close()
}
