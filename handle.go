package secondary

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Handle is an explicitly owned reference to one resolved instance.
//
// A Handle from [Resolve] owns its package and must be closed, handles created
// by a pool borrow the pool's package and Close only drops the instance.
type Handle struct {
	Path   string //package path
	Symbol string //resolved symbol
	Value  any    //the instance

	pkg     Package
	expired func() bool
	once    sync.Once
	mu      sync.RWMutex
	done    bool
}

// Instantiate default construct sym and attach host if the instance is an [Attacher].
// owned is closed with the handle, it may be nil.
func Instantiate(path string, sym Symbol, host Host, owned Package) (h *Handle, err error) {
	var v any
	if v, err = sym.New(); err != nil {
		if Kind(err) == nil {
			err = cause(ErrInstantiation, err)
		}
		return nil, &LoadError{Op: "instantiate", Path: path, Symbol: sym.Name(), Err: err}
	}
	if a, ok := v.(Attacher); ok && host != nil {
		if err = attach(a, host); err != nil {
			return nil, &LoadError{Op: "attach", Path: path, Symbol: sym.Name(), Err: err}
		}
	}
	return &Handle{Path: path, Symbol: sym.Name(), Value: v, pkg: owned}, nil
}

func attach(a Attacher, host Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: attach panic: %v", ErrInstantiation, r)
		}
	}()
	a.Attach(host)
	return
}

// Resolve open the package at path, look symbol up and default construct it.
// Every call re-resolves from scratch, see the pool package for a cached resolver.
func Resolve(ctx context.Context, path, outDir, symbol string, opts ...Option) (h *Handle, err error) {
	defer func() { ObserveResolve(err) }()
	if err = ctx.Err(); err != nil {
		return
	}
	o := NewOptions(opts...)
	var p Package
	if p, err = open(path, outDir, o); err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()
	var s Symbol
	if s, err = Lookup(p, symbol); err != nil {
		o.Logger.Debug("lookup failed", "path", path, "symbol", symbol, "error", err)
		return
	}
	if h, err = Instantiate(path, s, o.Host, p); err != nil {
		o.Logger.Debug("instantiate failed", "path", path, "symbol", symbol, "error", err)
		return
	}
	o.Logger.Debug("resolved", "path", path, "symbol", symbol, "type", fmt.Sprintf("%T", h.Value))
	return
}

// ResolveAsync run Resolve off the calling goroutine.
func ResolveAsync(ctx context.Context, path, outDir, symbol string, callback func(*Handle, error), opts ...Option) *Task[*Handle] {
	return Go(ctx, func(ctx context.Context) (*Handle, error) {
		return Resolve(ctx, path, outDir, symbol, opts...)
	}, callback)
}

// Lookup a symbol in p, wrapping failures into a [LoadError].
func Lookup(p Package, name string) (Symbol, error) {
	s, err := p.Lookup(name)
	if err != nil {
		if _, ok := err.(*LoadError); !ok {
			err = &LoadError{Op: "lookup", Path: p.Path(), Symbol: name, Err: err}
		}
		return nil, err
	}
	return s, nil
}

// Close release the instance and the owned package.
func (h *Handle) Close() (err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.done = true
		h.Value = nil
		h.mu.Unlock()
		if h.pkg != nil {
			err = h.pkg.Close()
			h.pkg = nil
		}
	})
	return
}

// Bind a borrowed handle to the lifetime of a package owned elsewhere: once
// expired reports true the handle fails with ErrClosed.
func (h *Handle) Bind(expired func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expired = expired
}

func (h *Handle) value() (any, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.done || (h.expired != nil && h.expired()) {
		return nil, &LoadError{Op: "use", Path: h.Path, Symbol: h.Symbol, Err: ErrClosed}
	}
	return h.Value, nil
}

// Invoke call method by name with args. A trailing error result is stripped
// from the returned values and reported as ErrInvocation when not nil.
func (h *Handle) Invoke(method string, args ...any) (out []any, err error) {
	defer func() {
		invokeTotal.WithLabelValues("reflective", resultLabel(err)).Inc()
	}()
	var v any
	if v, err = h.value(); err != nil {
		return
	}
	if inv, ok := v.(Invoker); ok {
		out, err = inv.Invoke(method, args...)
	} else {
		out, err = invoke(v, method, args)
	}
	if err != nil {
		if Kind(err) == nil {
			err = cause(ErrInvocation, err)
		}
		err = &LoadError{Op: "invoke " + method, Path: h.Path, Symbol: h.Symbol, Err: err}
	}
	return
}

// As cast the instance of h to the capability T.
func As[T any](h *Handle) (t T, err error) {
	var v any
	if h == nil {
		return t, &LoadError{Op: "cast", Err: fmt.Errorf("%w: nil handle", ErrTypeMismatch)}
	}
	if v, err = h.value(); err != nil {
		return
	}
	var ok bool
	if t, ok = v.(T); !ok {
		err = &LoadError{Op: "cast", Path: h.Path, Symbol: h.Symbol,
			Err: fmt.Errorf("%w: %T does not implement %s", ErrTypeMismatch, v, reflect.TypeOf((*T)(nil)).Elem())}
	}
	return
}

// Use cast the instance of h to T and run f with it, a panic inside f is
// reported as ErrInvocation.
func Use[T any](h *Handle, f func(t T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &LoadError{Op: "use", Path: h.Path, Symbol: h.Symbol, Err: fmt.Errorf("%w: panic: %v", ErrInvocation, r)}
		}
		invokeTotal.WithLabelValues("typed", resultLabel(err)).Inc()
	}()
	var t T
	if t, err = As[T](h); err != nil {
		return
	}
	if err = f(t); err != nil && Kind(err) == nil {
		err = &LoadError{Op: "use", Path: h.Path, Symbol: h.Symbol, Err: cause(ErrInvocation, err)}
	}
	return
}

func invoke(v any, method string, args []any) (out []any, err error) {
	if !exported(method) {
		return nil, fmt.Errorf("%w: method %s is not exported", ErrAccessDenied, method)
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: %s on nil instance", ErrMethodNotFound, method)
	}
	m := rv.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, rv.Type(), method)
	}
	var in []reflect.Value
	if in, err = arguments(m.Type(), args); err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %s panic: %v", ErrInvocation, method, r)
		}
	}()
	return results(m.Call(in))
}

func arguments(t reflect.Type, args []any) ([]reflect.Value, error) {
	n := t.NumIn()
	if t.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%w: want at least %d arguments, got %d", ErrArgumentMismatch, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ErrArgumentMismatch, n, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if t.IsVariadic() && i >= n-1 {
			pt = t.In(n - 1).Elem()
		} else {
			pt = t.In(i)
		}
		if a == nil {
			if !nillable(pt.Kind()) {
				return nil, fmt.Errorf("%w: argument %d: nil for %s", ErrArgumentMismatch, i, pt)
			}
			in[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(a)
		if !av.Type().AssignableTo(pt) {
			return nil, fmt.Errorf("%w: argument %d: %s is not assignable to %s", ErrArgumentMismatch, i, av.Type(), pt)
		}
		in[i] = av
	}
	return in, nil
}

func results(res []reflect.Value) ([]any, error) {
	if n := len(res); n > 0 && res[n-1].Type() == errorType {
		last := res[n-1]
		res = res[:n-1]
		if !last.IsNil() {
			return nil, cause(ErrInvocation, last.Interface().(error))
		}
	}
	out := make([]any, len(res))
	for i, r := range res {
		out[i] = r.Interface()
	}
	return out, nil
}
