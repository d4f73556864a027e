package secondary

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStaging occurs when a package can not be copied into storage.
	ErrStaging = errors.New("staging failed")
	// ErrNotStaged occurs when a package path does not exist.
	ErrNotStaged = errors.New("package not staged")
	// ErrUnsupportedFormat occurs when no backend handles the package extension.
	ErrUnsupportedFormat = errors.New("unsupported package format")
	// ErrSymbolNotFound occurs when a named symbol is absent from a package.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrInstantiation occurs when a symbol can not be default constructed.
	ErrInstantiation = errors.New("instantiation failure")
	// ErrAccessDenied occurs when a symbol or member is not exported.
	ErrAccessDenied = errors.New("access denied")
	// ErrTypeMismatch occurs when an instance does not implement the requested capability.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrMethodNotFound occurs when an instance has no method of the given name.
	ErrMethodNotFound = errors.New("method not found")
	// ErrArgumentMismatch occurs when invocation arguments do not fit the method signature.
	ErrArgumentMismatch = errors.New("argument mismatch")
	// ErrInvocation occurs when an invoked method panics or returns an error.
	ErrInvocation = errors.New("invocation failure")
	// ErrClosed occurs when a closed package or handle is used.
	ErrClosed = errors.New("package closed")
)

// LoadError carries the operation, package and symbol of a failure. Err is
// one of the sentinel errors of this package, possibly wrapping a cause.
type LoadError struct {
	Op     string
	Path   string
	Symbol string
	Err    error
}

func (e *LoadError) Error() string {
	s := strings.Builder{}
	s.WriteString(e.Op)
	if e.Path != "" {
		s.WriteByte(' ')
		s.WriteString(e.Path)
	}
	if e.Symbol != "" {
		s.WriteString(" [")
		s.WriteString(e.Symbol)
		s.WriteByte(']')
	}
	s.WriteString(": ")
	s.WriteString(e.Err.Error())
	return s.String()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Kind returns the sentinel error err belongs to, or nil if it is none of them.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

var kinds = []error{
	ErrStaging,
	ErrNotStaged,
	ErrUnsupportedFormat,
	ErrSymbolNotFound,
	ErrInstantiation,
	ErrAccessDenied,
	ErrTypeMismatch,
	ErrMethodNotFound,
	ErrArgumentMismatch,
	ErrInvocation,
	ErrClosed,
}

// cause joins a sentinel with its cause so both match errors.Is.
func cause(kind, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}
