package secondary

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ZenLiuCN/fn"

	"github.com/ZenLiuCN/secondary/internal/logging"
)

type (
	// Package is an opened secondary code package.
	Package interface {
		Path() string                      //staged location
		Lookup(name string) (Symbol, error) //resolve a symbol, fails with ErrSymbolNotFound or ErrAccessDenied
		Symbols() []string                 //exported symbol names
		Close() error                      //release the package, symbols and instances must not be used afterwards
	}
	// Opener opens one package format. outDir is already created.
	Opener func(path, outDir string, o *Options) (Package, error)
	// Options of Open and Resolve.
	Options struct {
		Symbols Symbols
		Host    Host
		Logger  *slog.Logger
	}
	// Option configures Options.
	Option func(*Options)
)

// WithSymbols use a custom host symbol table instead of the global one.
func WithSymbols(s Symbols) Option {
	return func(o *Options) {
		o.Symbols = s
	}
}

// WithHost attach host to resolved instances implementing [Attacher].
func WithHost(h Host) Option {
	return func(o *Options) {
		o.Host = h
	}
}

// WithLogger set the logger, default is silent.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// NewOptions apply opts over defaults.
func NewOptions(opts ...Option) *Options {
	o := new(Options)
	for _, opt := range opts {
		opt(o)
	}
	if o.Symbols == nil {
		o.Symbols = NewSymbols()
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	return o
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Opener{}
)

// RegisterFormat bind an Opener to a file extension such as ".lua".
func RegisterFormat(ext string, op Opener) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[strings.ToLower(ext)] = op
}

// Formats dump sorted registered extensions.
func Formats() []string {
	formatsMu.RLock()
	v := fn.MapKeys(formats)
	formatsMu.RUnlock()
	slices.Sort(v)
	return v
}

// Open a staged package. outDir receives loader derived artifacts and is created when missing.
func Open(path, outDir string, opts ...Option) (Package, error) {
	return open(path, outDir, NewOptions(opts...))
}

func open(path, outDir string, o *Options) (p Package, err error) {
	formatsMu.RLock()
	op, ok := formats[strings.ToLower(filepath.Ext(path))]
	formatsMu.RUnlock()
	if !ok {
		return nil, &LoadError{Op: "open", Path: path, Err: ErrUnsupportedFormat}
	}
	if _, err = os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Op: "open", Path: path, Err: cause(ErrNotStaged, err)}
		}
		return nil, &LoadError{Op: "open", Path: path, Err: err}
	}
	if outDir != "" {
		if err = os.MkdirAll(outDir, 0o700); err != nil {
			return nil, &LoadError{Op: "open", Path: path, Err: fmt.Errorf("create output dir: %w", err)}
		}
	}
	if p, err = op(path, outDir, o); err != nil {
		if _, ok := err.(*LoadError); !ok {
			err = &LoadError{Op: "open", Path: path, Err: err}
		}
		return nil, err
	}
	o.Logger.Debug("package opened", "path", path, "symbols", len(p.Symbols()))
	return p, nil
}
