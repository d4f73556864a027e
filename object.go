//go:build goloader

package secondary

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"github.com/ZenLiuCN/fn"
	"github.com/pkujhd/goloader"
)

// objectPackage links a relocatable go object (.o), archive (.a) or a serialized
// linker (.linkable) into the running process.
//
// The package path is the file name without extension. Constructor symbols must
// be func() any, goloader keeps no type information to verify it.
// The linker of an object is serialized into outDir and reused while it is
// newer than the object.
type objectPackage struct {
	path    string
	pkg     string
	mu      sync.Mutex
	symbols map[string]uintptr
	linker  *goloader.Linker
	module  *goloader.CodeModule
}

type objectSymbol struct {
	name string
	addr uintptr
}

var (
	runtimeOnce sync.Once
	runtimeSyms map[string]uintptr
	runtimeErr  error
)

func init() {
	RegisterFormat(".o", openObject)
	RegisterFormat(".a", openObject)
	RegisterFormat(".linkable", openObject)
}

func runtimeSymbols() (map[string]uintptr, error) {
	runtimeOnce.Do(func() {
		runtimeSyms = make(map[string]uintptr)
		runtimeErr = goloader.RegSymbol(runtimeSyms)
	})
	return runtimeSyms, runtimeErr
}

func openObject(path, outDir string, o *Options) (Package, error) {
	base, err := runtimeSymbols()
	if err != nil {
		return nil, fmt.Errorf("register runtime symbols: %w", err)
	}
	p := &objectPackage{
		path:    path,
		pkg:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		symbols: maps.Clone(base),
	}
	var lib Library
	var host Host
	goloader.RegTypes(p.symbols, &lib, &host)
	if err = p.initialize(outDir, o); err != nil {
		return nil, err
	}
	if p.module, err = goloader.Load(p.linker, p.symbols); err != nil {
		return nil, fmt.Errorf("link %s: %w", path, err)
	}
	if missing := goloader.UnresolvedSymbols(p.linker, p.symbols); len(missing) > 0 {
		o.Logger.Warn("unresolved symbols", "path", path, "symbols", missing)
	}
	return p, nil
}

func (p *objectPackage) initialize(outDir string, o *Options) (err error) {
	if filepath.Ext(p.path) == ".linkable" {
		return p.unserialize(p.path)
	}
	var cached string
	if outDir != "" {
		cached = filepath.Join(outDir, p.pkg+".linkable")
		if newer(cached, p.path) {
			if err = p.unserialize(cached); err == nil {
				o.Logger.Debug("reuse linker", "path", p.path, "linkable", cached)
				return
			}
			o.Logger.Warn("drop stale linker", "linkable", cached, "error", err)
		}
	}
	if p.linker, err = goloader.ReadObj(p.path, p.pkg); err != nil {
		return fmt.Errorf("read object %s: %w", p.path, err)
	}
	if cached != "" {
		if err = p.serialize(cached); err != nil {
			o.Logger.Warn("serialize linker", "linkable", cached, "error", err)
			err = nil
		}
	}
	return
}

func newer(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return ai.ModTime().After(bi.ModTime())
}

func (p *objectPackage) unserialize(file string) (err error) {
	var f *os.File
	if f, err = os.Open(file); err != nil {
		return
	}
	defer fn.IgnoreClose(f)()
	p.linker, err = goloader.UnSerialize(f)
	return
}

func (p *objectPackage) serialize(file string) (err error) {
	var f *os.File
	if f, err = os.Create(file); err != nil {
		return
	}
	defer fn.IgnoreClose(f)()
	return goloader.Serialize(p.linker, f)
}

func (p *objectPackage) Path() string {
	return p.path
}

func (p *objectPackage) qualify(sym string) string {
	if strings.IndexByte(sym, '.') < 0 {
		return p.pkg + "." + sym
	}
	return sym
}

func (p *objectPackage) Lookup(name string) (Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.module == nil {
		return nil, ErrClosed
	}
	q := p.qualify(name)
	addr, ok := p.module.Syms[q]
	if !ok {
		return nil, ErrSymbolNotFound
	}
	if !exported(q) {
		return nil, ErrAccessDenied
	}
	return objectSymbol{name: q, addr: addr}, nil
}

func (p *objectPackage) Symbols() (v []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.module == nil {
		return
	}
	prefix := p.pkg + "."
	for s := range p.module.Syms {
		if strings.HasPrefix(s, prefix) && exported(s) {
			v = append(v, s)
		}
	}
	slices.Sort(v)
	return
}

func (p *objectPackage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.module != nil {
		_ = os.Stdout.Sync()
		p.module.Unload()
		p.module = nil
	}
	p.linker = nil
	p.symbols = nil
	return nil
}

func (s objectSymbol) Name() string {
	return s.name
}

// New call the symbol as func() any. A func value points at a word holding the
// code address, the word lives on the heap so it does not move during the call.
func (s objectSymbol) New() (any, error) {
	word := new(uintptr)
	*word = s.addr
	f := *(*func() any)(unsafe.Pointer(&word))
	return construct(f)
}
