package bridge

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Operation describes one public operation of a host value, as reported by
// Introspectable.Operations and passed back to Introspectable.Invoke.
type Operation struct {
	// Name is the host-side operation name, e.g. "GetValue".
	Name string
	// Params are the parameter types, used to raise script arguments. A nil
	// entry (or a nil slice) means the argument is raised with ToHost.
	Params []reflect.Type
	// Results is the number of values the operation produces, excluding a
	// trailing error.
	Results int
	// Internal operations are never exposed on a proxy.
	Internal bool
	// Index is opaque to the bridge and identifies the operation to Invoke.
	Index int
}

// Introspectable is the capability a host value opts into to be exposed as
// a script proxy: enumerate its operations, and invoke one by descriptor.
type Introspectable interface {
	Operations() ([]Operation, error)
	Invoke(op Operation, args []any) (any, error)
}

// EnumMember is implemented by enum-like host types.
type EnumMember interface {
	EnumName() string
}

// ScriptEnum is the type-level annotation linking an enum type to the
// fully-qualified name of the script type holding its members.
type ScriptEnum interface {
	ScriptEnumType() string
}

// InternalOperations may be implemented by a host type to hide additional
// operations from its proxy.
type InternalOperations interface {
	InternalOperations() []string
}

// universal operations every host value answers to; never proxied.
var universalOperations = map[string]bool{
	"Equal":    true,
	"Hash":     true,
	"String":   true,
	"GoString": true,
	"Error":    true,
}

// synthetic operations belong to the bridge's own capability interfaces.
var syntheticOperations = map[string]bool{
	"ScriptRef":          true,
	"EnumName":           true,
	"ScriptEnumType":     true,
	"InternalOperations": true,
	"Operations":         true,
	"Invoke":             true,
}

var errorType = reflect.TypeFor[error]()

// typeSurface caches the reflected operation list per dynamic type. Entries
// are computed once and never mutated.
var typeSurface sync.Map // map[reflect.Type][]Operation

// reflectSurface adapts an arbitrary Go value to Introspectable using its
// exported method set.
type reflectSurface struct {
	v reflect.Value
}

func newReflectSurface(v any) (*reflectSurface, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Struct:
	default:
		return nil, fmt.Errorf("%T has no introspectable surface", v)
	}
	return &reflectSurface{v: rv}, nil
}

func (s *reflectSurface) Operations() ([]Operation, error) {
	t := s.v.Type()
	if cached, ok := typeSurface.Load(t); ok {
		return cached.([]Operation), nil
	}
	var hidden map[string]bool
	if h, ok := s.v.Interface().(InternalOperations); ok {
		hidden = make(map[string]bool)
		for _, name := range h.InternalOperations() {
			hidden[name] = true
		}
	}
	ops := make([]Operation, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		mt := m.Type
		params := make([]reflect.Type, 0, mt.NumIn()-1)
		for j := 1; j < mt.NumIn(); j++ {
			params = append(params, mt.In(j))
		}
		results := mt.NumOut()
		if results > 0 && mt.Out(results-1) == errorType {
			results--
		}
		ops = append(ops, Operation{
			Name:     m.Name,
			Params:   params,
			Results:  results,
			Internal: syntheticOperations[m.Name] || hidden[m.Name] || strings.HasPrefix(m.Name, "X_") || mt.IsVariadic() || results > 1,
			Index:    i,
		})
	}
	// the hidden set depends on the value only through its type
	actual, _ := typeSurface.LoadOrStore(t, ops)
	return actual.([]Operation), nil
}

func (s *reflectSurface) Invoke(op Operation, args []any) (result any, err error) {
	if op.Index < 0 || op.Index >= s.v.NumMethod() {
		return nil, fmt.Errorf("operation %s: index %d out of range", op.Name, op.Index)
	}
	m := s.v.Method(op.Index)
	mt := m.Type()
	if len(args) != mt.NumIn() {
		return nil, fmt.Errorf("operation %s: want %d arguments, got %d", op.Name, mt.NumIn(), len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		pt := mt.In(i)
		if arg == nil {
			in[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(pt) {
			if !av.Type().ConvertibleTo(pt) {
				return nil, fmt.Errorf("operation %s: argument %d: cannot use %T as %s", op.Name, i, arg, pt)
			}
			av = av.Convert(pt)
		}
		in[i] = av
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("operation %s panicked: %w", op.Name, e)
			} else {
				err = fmt.Errorf("operation %s panicked: %v", op.Name, r)
			}
		}
	}()
	out := m.Call(in)
	if n := len(out); n > 0 && mt.Out(n-1) == errorType {
		if e, _ := out[n-1].Interface().(error); e != nil {
			return nil, e
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// surfaceOf returns the introspection capability for v, preferring the
// explicit capability over reflection.
func surfaceOf(v any) (Introspectable, error) {
	if s, ok := v.(Introspectable); ok {
		return s, nil
	}
	s, err := newReflectSurface(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}
