package secondary

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/ZenLiuCN/fn"
	"gopkg.in/yaml.v3"
)

// Catalog is the manifest of a catalog package. Each exported name is bound to
// a name inside the host [Symbols] table:
//
//	package: com.example.dex
//	symbols:
//	  lib.LibraryProvider: sample.LibraryProvider
//	  second.SecondaryActivity: sample.SecondaryActivity
//
// A name is looked up either relative to Package or fully qualified.
type Catalog struct {
	Package string            `yaml:"package"`
	Symbols map[string]string `yaml:"symbols"`
}

type catalogPackage struct {
	path    string
	catalog Catalog
	table   Symbols
	closed  atomic.Bool
}

func init() {
	RegisterFormat(".yaml", openCatalog)
	RegisterFormat(".yml", openCatalog)
}

// ReadCatalog parse a catalog manifest file.
func ReadCatalog(path string) (c Catalog, err error) {
	var b []byte
	if b, err = os.ReadFile(path); err != nil {
		return
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return
}

func openCatalog(path, _ string, o *Options) (Package, error) {
	c, err := ReadCatalog(path)
	if err != nil {
		return nil, err
	}
	return &catalogPackage{path: path, catalog: c, table: o.Symbols}, nil
}

func (c *catalogPackage) Path() string {
	return c.path
}

func (c *catalogPackage) target(name string) (string, bool) {
	if t, ok := c.catalog.Symbols[name]; ok {
		return t, true
	}
	if p := c.catalog.Package; p != "" && strings.HasPrefix(name, p+".") {
		t, ok := c.catalog.Symbols[strings.TrimPrefix(name, p+".")]
		return t, ok
	}
	return "", false
}

func (c *catalogPackage) Lookup(name string) (Symbol, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	t, ok := c.target(name)
	if !ok {
		return nil, ErrSymbolNotFound
	}
	if !exported(name) {
		return nil, ErrAccessDenied
	}
	s, err := c.table.Lookup(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is bound to %s", err, name, t)
	}
	return NewSymbol(name, s.(goSymbol).v), nil
}

func (c *catalogPackage) Symbols() []string {
	n := fn.MapKeys(c.catalog.Symbols)
	slices.Sort(n)
	return n
}

func (c *catalogPackage) Close() error {
	c.closed.Store(true)
	return nil
}
