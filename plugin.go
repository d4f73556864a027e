package secondary

import (
	"fmt"
	"plugin"
	"strings"
	"sync/atomic"
)

// pluginPackage wraps a Go plugin. Plugins can not be unloaded, Close only
// forbids further lookups. Exported plugin variables are pointers, they are
// default constructed into a fresh zero value of their type.
type pluginPackage struct {
	path   string
	plug   *plugin.Plugin
	closed atomic.Bool
}

func init() {
	RegisterFormat(".so", openPlugin)
}

func openPlugin(path, _ string, o *Options) (Package, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin: %w", err)
	}
	o.Logger.Debug("plugin opened", "path", path)
	return &pluginPackage{path: path, plug: p}, nil
}

func (p *pluginPackage) Path() string {
	return p.path
}

// Lookup accepts both bare and package qualified names, plugins always export from main.
func (p *pluginPackage) Lookup(name string) (Symbol, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	if !exported(name) {
		return nil, ErrAccessDenied
	}
	bare := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		bare = name[i+1:]
	}
	v, err := p.plug.Lookup(bare)
	if err != nil {
		return nil, cause(ErrSymbolNotFound, err)
	}
	return NewSymbol(name, v), nil
}

// Symbols of a plugin are not enumerable.
func (p *pluginPackage) Symbols() []string {
	return nil
}

func (p *pluginPackage) Close() error {
	p.closed.Store(true)
	return nil
}
