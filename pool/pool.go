// Package pool caches opened packages and resolved symbols.
package pool

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ZenLiuCN/fn"

	. "github.com/ZenLiuCN/secondary"
)

var (
	ErrPoolClosed = errors.New("pool closed")
	ErrNotLoaded  = errors.New("package not loaded")
)

type key struct {
	path   string
	symbol string
}

// entry is one opened package, closed is set when the pool drops it.
type entry struct {
	Package
	closed atomic.Bool
}

// Pool keeps one opened Package per path and the Symbols resolved from it.
// Instances are never cached: every Resolve default constructs a new one.
// Handles returned by a Pool borrow the package, they fail with ErrClosed once
// the package is invalidated, reloaded or the pool is closed.
type Pool struct {
	opts     []Option
	packages map[string]*entry
	symbols  map[key]Symbol
	closed   bool
	sync.RWMutex
}

// NewPool create new pool, opts are used for every package opened.
func NewPool(opts ...Option) *Pool {
	return &Pool{
		opts:     opts,
		packages: make(map[string]*entry),
		symbols:  make(map[key]Symbol),
	}
}

// Package returns the opened package at path, opening it on first use.
func (p *Pool) Package(path, outDir string) (Package, error) {
	e, err := p.entry(path, outDir)
	if err != nil {
		return nil, err
	}
	return e.Package, nil
}

func (p *Pool) entry(path, outDir string) (*entry, error) {
	p.RLock()
	if p.closed {
		p.RUnlock()
		return nil, ErrPoolClosed
	}
	e, ok := p.packages[path]
	p.RUnlock()
	if ok {
		return e, nil
	}
	p.Lock()
	defer p.Unlock()
	return p.load(path, outDir)
}

func (p *Pool) load(path, outDir string) (*entry, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	if e, ok := p.packages[path]; ok {
		return e, nil
	}
	pkg, err := Open(path, outDir, p.opts...)
	if err != nil {
		return nil, err
	}
	e := &entry{Package: pkg}
	p.packages[path] = e
	return e, nil
}

func (p *Pool) symbol(e *entry, path, name string) (Symbol, error) {
	k := key{path: path, symbol: name}
	p.RLock()
	s, ok := p.symbols[k]
	p.RUnlock()
	if ok {
		return s, nil
	}
	s, err := Lookup(e.Package, name)
	if err != nil {
		return nil, err
	}
	p.Lock()
	defer p.Unlock()
	// dropped by Invalidate meanwhile, do not cache a symbol of a closed package
	if p.packages[path] == e {
		p.symbols[k] = s
	}
	return s, nil
}

// Resolve a fresh instance of symbol from the package at path.
func (p *Pool) Resolve(ctx context.Context, path, outDir, symbol string, host Host) (h *Handle, err error) {
	defer func() { ObserveResolve(err) }()
	if err = ctx.Err(); err != nil {
		return
	}
	var e *entry
	if e, err = p.entry(path, outDir); err != nil {
		return
	}
	var s Symbol
	if s, err = p.symbol(e, path, symbol); err != nil {
		return
	}
	if h, err = Instantiate(path, s, host, nil); err != nil {
		return
	}
	h.Bind(e.closed.Load)
	return
}

// ResolveAsync run Resolve off the calling goroutine.
func (p *Pool) ResolveAsync(ctx context.Context, path, outDir, symbol string, host Host, callback func(*Handle, error)) *Task[*Handle] {
	return Go(ctx, func(ctx context.Context) (*Handle, error) {
		return p.Resolve(ctx, path, outDir, symbol, host)
	}, callback)
}

// Invalidate drop and close the package at path with its cached symbols.
// Unknown paths are ignored, so it can be bound to [Stager.OnStaged].
func (p *Pool) Invalidate(path string) error {
	p.Lock()
	defer p.Unlock()
	return p.unload(path)
}

func (p *Pool) unload(path string) error {
	e, ok := p.packages[path]
	if !ok {
		return nil
	}
	e.closed.Store(true)
	delete(p.packages, path)
	for k := range p.symbols {
		if k.path == path {
			delete(p.symbols, k)
		}
	}
	return e.Close()
}

// Reload close the package at path and open it again.
func (p *Pool) Reload(path, outDir string) (err error) {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.packages[path]; !ok {
		return ErrNotLoaded
	}
	if err = p.unload(path); err != nil {
		return
	}
	_, err = p.load(path, outDir)
	return
}

// Loaded dump paths of opened packages.
func (p *Pool) Loaded() []string {
	p.RLock()
	defer p.RUnlock()
	v := fn.MapKeys(p.packages)
	slices.Sort(v)
	return v
}

// Close every package, the pool can not be used afterwards.
func (p *Pool) Close() (err error) {
	p.Lock()
	defer p.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for path := range p.packages {
		errs = append(errs, p.unload(path))
	}
	return errors.Join(errs...)
}
