package secondary

import (
	"maps"
	"slices"

	"github.com/ZenLiuCN/fn"
)

// Symbols is a table of host provided values which catalog packages resolve into.
//
// Values are constructor funcs (func() T or func() (T, error)) or pointers
// whose element type is default constructed, typed nil pointers included.
type Symbols map[string]any

// NewSymbols create a Symbols with the global symbols
func NewSymbols() Symbols {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return maps.Clone(global)
}

// Register a value under name, replacing any previous one.
func (s Symbols) Register(name string, v any) {
	s[name] = v
}

// Names dump sorted symbol names inside Symbols
func (s Symbols) Names() []string {
	n := fn.MapKeys(s)
	slices.Sort(n)
	return n
}

// Lookup resolve a name inside the table.
func (s Symbols) Lookup(name string) (Symbol, error) {
	v, ok := s[name]
	if !ok {
		return nil, ErrSymbolNotFound
	}
	if !exported(name) {
		return nil, ErrAccessDenied
	}
	return NewSymbol(name, v), nil
}
