package secondary

import (
	"sync"
)

var (
	globalMu sync.RWMutex
	global   = make(Symbols)
)

// RegisterGlobal register a value into the process wide symbol table, usually
// from an init function of a package linked into the host.
func RegisterGlobal(name string, v any) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global[name] = v
}

// RegisterGlobalType register T as a default constructed type.
func RegisterGlobalType[T any](name string) {
	RegisterGlobal(name, (*T)(nil))
}

// UnregisterGlobal remove a name from the process wide symbol table.
func UnregisterGlobal(name string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	delete(global, name)
}

// GlobalSymbols dump names of the process wide symbol table.
func GlobalSymbols() []string {
	return NewSymbols().Names()
}
