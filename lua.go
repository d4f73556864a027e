package secondary

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// hostType is the metatable name of a Host passed into scripts. Scripts call
// host:notify(text) on it.
const hostType = "secondary.host"

type (
	// luaPackage runs a script package in its own state. A class is a global
	// table with a new function called without arguments, a global function is
	// a constructor on its own. Both must return a table, the instance.
	luaPackage struct {
		path   string
		mu     sync.Mutex
		state  *lua.LState
		closed bool
	}
	luaSymbol struct {
		pkg  *luaPackage
		name string
		v    lua.LValue
	}
	// luaObject is an instance created by a script, methods are dispatched by name with self.
	luaObject struct {
		pkg  *luaPackage
		name string
		self *lua.LTable
	}
)

func init() {
	RegisterFormat(".lua", openLua)
}

func openLua(path, _ string, o *Options) (Package, error) {
	L := lua.NewState()
	mt := L.NewTypeMetatable(hostType)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"notify": luaNotify,
	}))
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("run script %s: %w", path, err)
	}
	o.Logger.Debug("script loaded", "path", path)
	return &luaPackage{path: path, state: L}, nil
}

func luaNotify(L *lua.LState) int {
	ud := L.CheckUserData(1)
	h, ok := ud.Value.(Host)
	if !ok {
		L.ArgError(1, "host expected")
		return 0
	}
	h.Notify(L.CheckString(2))
	return 0
}

func (p *luaPackage) Path() string {
	return p.path
}

func (p *luaPackage) resolve(name string) lua.LValue {
	var v lua.LValue = p.state.G.Global
	for _, seg := range strings.Split(name, ".") {
		t, ok := v.(*lua.LTable)
		if !ok {
			return lua.LNil
		}
		v = t.RawGetString(seg)
	}
	return v
}

func (p *luaPackage) Lookup(name string) (Symbol, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	v := p.resolve(name)
	if v == lua.LNil {
		return nil, ErrSymbolNotFound
	}
	if !exported(name) {
		return nil, ErrAccessDenied
	}
	return &luaSymbol{pkg: p, name: name, v: v}, nil
}

func (p *luaPackage) Symbols() (v []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.state.G.Global.ForEach(func(k, x lua.LValue) {
		s, ok := k.(lua.LString)
		if !ok || !exported(string(s)) {
			return
		}
		switch x.(type) {
		case *lua.LTable, *lua.LFunction:
			v = append(v, string(s))
		}
	})
	slices.Sort(v)
	return
}

func (p *luaPackage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.state.Close()
	}
	return nil
}

func (s *luaSymbol) Name() string {
	return s.name
}

func (s *luaSymbol) New() (any, error) {
	p := s.pkg
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	var ctor *lua.LFunction
	switch x := s.v.(type) {
	case *lua.LFunction:
		ctor = x
	case *lua.LTable:
		f, ok := x.RawGetString("new").(*lua.LFunction)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no new function", ErrInstantiation, s.name)
		}
		ctor = f
	default:
		return nil, fmt.Errorf("%w: %s is a %s", ErrInstantiation, s.name, s.v.Type())
	}
	if !ctor.IsG && ctor.Proto.NumParameters > 0 {
		return nil, fmt.Errorf("%w: %s has no no-argument constructor", ErrInstantiation, s.name)
	}
	L := p.state
	top := L.GetTop()
	defer L.SetTop(top)
	if err := L.CallByParam(lua.P{Fn: ctor, NRet: 1, Protect: true}); err != nil {
		return nil, cause(ErrInstantiation, err)
	}
	self, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s constructor returned %s", ErrInstantiation, s.name, L.Get(-1).Type())
	}
	return &luaObject{pkg: p, name: s.name, self: self}, nil
}

func (o *luaObject) String() string {
	return "lua:" + o.name
}

// Invoke call self:method(args...).
func (o *luaObject) Invoke(method string, args ...any) ([]any, error) {
	p := o.pkg
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	L := p.state
	f, ok := L.GetField(o.self, method).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrMethodNotFound, o.name, method)
	}
	if !f.IsG && f.Proto.IsVarArg == 0 && int(f.Proto.NumParameters) != len(args)+1 {
		return nil, fmt.Errorf("%w: %s.%s wants %d arguments, got %d", ErrArgumentMismatch, o.name, method, int(f.Proto.NumParameters)-1, len(args))
	}
	in := make([]lua.LValue, 0, len(args)+1)
	in = append(in, o.self)
	for i, a := range args {
		v, err := toLua(L, a)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrArgumentMismatch, i, err)
		}
		in = append(in, v)
	}
	top := L.GetTop()
	defer L.SetTop(top)
	if err := L.CallByParam(lua.P{Fn: f, NRet: lua.MultRet, Protect: true}, in...); err != nil {
		return nil, cause(ErrInvocation, err)
	}
	n := L.GetTop() - top
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = fromLua(L.Get(top + 1 + i))
	}
	return out, nil
}

// Attach call self:attach(host) when the script defines it.
func (o *luaObject) Attach(h Host) {
	o.pkg.mu.Lock()
	_, ok := o.pkg.state.GetField(o.self, "attach").(*lua.LFunction)
	o.pkg.mu.Unlock()
	if !ok {
		return
	}
	if _, err := o.Invoke("attach", h); err != nil {
		panic(err)
	}
}

func toLua(L *lua.LState, v any) (lua.LValue, error) {
	switch x := v.(type) {
	case nil:
		return lua.LNil, nil
	case lua.LValue:
		return x, nil
	case bool:
		return lua.LBool(x), nil
	case string:
		return lua.LString(x), nil
	case int:
		return lua.LNumber(x), nil
	case int32:
		return lua.LNumber(x), nil
	case int64:
		return lua.LNumber(x), nil
	case float32:
		return lua.LNumber(x), nil
	case float64:
		return lua.LNumber(x), nil
	case Host:
		ud := L.NewUserData()
		ud.Value = x
		L.SetMetatable(ud, L.GetTypeMetatable(hostType))
		return ud, nil
	case map[string]any:
		t := L.NewTable()
		for k, e := range x {
			lv, err := toLua(L, e)
			if err != nil {
				return nil, err
			}
			t.RawSetString(k, lv)
		}
		return t, nil
	case []any:
		t := L.NewTable()
		for _, e := range x {
			lv, err := toLua(L, e)
			if err != nil {
				return nil, err
			}
			t.Append(lv)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// fromLua converts script values for Go callers. Tables become maps, a table
// met again within the same value yields the same map.
func fromLua(v lua.LValue) any {
	return convert(v, make(map[*lua.LTable]map[string]any))
}

func convert(v lua.LValue, seen map[*lua.LTable]map[string]any) any {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		return float64(x)
	case *lua.LUserData:
		return x.Value
	case *lua.LTable:
		if m, ok := seen[x]; ok {
			return m
		}
		m := make(map[string]any)
		seen[x] = m
		x.ForEach(func(k, e lua.LValue) {
			m[k.String()] = convert(e, seen)
		})
		return m
	default:
		return v
	}
}
