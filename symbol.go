package secondary

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Symbol is a resolved name inside a package which is not instantiated yet.
// Symbols may be cached and reused, every New call returns a fresh instance.
type Symbol interface {
	Name() string
	New() (any, error) //default construct one instance, fails with ErrInstantiation
}

type goSymbol struct {
	name string
	v    any
}

// NewSymbol wraps a Go value as a Symbol, see [Symbols] for accepted values.
func NewSymbol(name string, v any) Symbol {
	return goSymbol{name: name, v: v}
}

func (g goSymbol) Name() string {
	return g.name
}

func (g goSymbol) New() (any, error) {
	return construct(g.v)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func construct(v any) (x any, err error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil symbol", ErrInstantiation)
	}
	// plugins expose func variables as pointers
	if rv.Kind() == reflect.Pointer && rv.Type().Elem().Kind() == reflect.Func {
		if rv.IsNil() || rv.Elem().IsNil() {
			return nil, fmt.Errorf("%w: nil constructor %s", ErrInstantiation, rv.Type())
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Func:
		return call(rv)
	case reflect.Pointer:
		return reflect.New(rv.Type().Elem()).Interface(), nil
	default:
		return reflect.New(rv.Type()).Elem().Interface(), nil
	}
}

func call(fv reflect.Value) (x any, err error) {
	t := fv.Type()
	if fv.IsNil() {
		return nil, fmt.Errorf("%w: nil constructor %s", ErrInstantiation, t)
	}
	if t.NumIn() != 0 {
		return nil, fmt.Errorf("%w: %s has no no-argument constructor", ErrInstantiation, t)
	}
	switch {
	case t.NumOut() == 1 && t.Out(0) != errorType:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return nil, fmt.Errorf("%w: unsupported constructor %s", ErrInstantiation, t)
	}
	defer func() {
		if r := recover(); r != nil {
			x = nil
			err = fmt.Errorf("%w: constructor panic: %v", ErrInstantiation, r)
		}
	}()
	out := fv.Call(nil)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, cause(ErrInstantiation, out[1].Interface().(error))
	}
	if nillable(out[0].Kind()) && out[0].IsNil() {
		return nil, fmt.Errorf("%w: constructor %s returned nil", ErrInstantiation, t)
	}
	return out[0].Interface(), nil
}

func nillable(k reflect.Kind) bool {
	switch k {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}

// exported reports whether the last dotted segment of name is an exported identifier.
func exported(name string) bool {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}
