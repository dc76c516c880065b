package bridge

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

var objectRefType = reflect.TypeFor[*ObjectRef]()

// ToHost raises a script value to a Go value without structural conversion.
//
// Null and undefined become nil, strings and booleans become Go primitives,
// and objects resolve through the identity maps: the original Go value for a
// proxy, or an *ObjectRef, minted on first sight and reused thereafter.
// Numbers, arrays and functions are rejected; use ToHostInto for those.
func (b *Bridge) ToHost(v goja.Value) (any, error) {
	if b.pending != nil {
		return nil, nil
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	if o, ok := v.(*goja.Object); ok {
		return b.hostPeer(o)
	}
	switch x := v.Export().(type) {
	case string:
		return x, nil
	case bool:
		return x, nil
	}
	return nil, Errorf(KindConversion, "toHost", "cannot raise script %s %q without a target type", typeOfScript(v), truncate(v.String(), 64))
}

func (b *Bridge) hostPeer(o *goja.Object) (any, error) {
	if p := b.forward[o]; p != nil {
		return p.host, nil
	}
	if isArray(o) {
		return nil, Errorf(KindConversion, "toHost", "cannot raise script array without a target type")
	}
	if _, ok := goja.AssertFunction(o); ok {
		return nil, Errorf(KindConversion, "toHost", "cannot raise script function")
	}
	ref := &ObjectRef{id: uuid.New()}
	b.track(o, &peer{id: ref.id, host: ref})
	b.debug("minted object reference", "id", ref.id, "class", o.ClassName())
	return ref, nil
}

// ToHostInto raises a script value into the Go value dst points to,
// converting structurally according to the destination type.
func (b *Bridge) ToHostInto(v goja.Value, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return Errorf(KindConversion, "toHost", "destination must be a non-nil pointer, got %T", dst)
	}
	if b.pending != nil {
		return nil
	}
	return b.into(v, rv.Elem(), 0)
}

func (b *Bridge) into(v goja.Value, dst reflect.Value, depth int) error {
	if b.pending != nil {
		return nil
	}
	t := dst.Type()
	if depth > b.maxDepth {
		return Errorf(KindConversion, "toHost", "nesting deeper than %d raising %s", b.maxDepth, t)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		switch t.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
			dst.SetZero()
			return nil
		}
		return b.mismatch(v, t)
	}

	if t == objectRefType {
		o, ok := v.(*goja.Object)
		if !ok {
			return b.mismatch(v, t)
		}
		h, err := b.hostPeer(o)
		if err != nil {
			return err
		}
		ref, ok := h.(*ObjectRef)
		if !ok {
			return Errorf(KindConversion, "toHost", "script object is a proxy for %T, not an object reference", h)
		}
		dst.Set(reflect.ValueOf(ref))
		return nil
	}

	o, isObject := v.(*goja.Object)
	switch t.Kind() {
	case reflect.Interface:
		return b.intoInterface(v, dst, depth)

	case reflect.Bool:
		if isObject || scalarKind(v) != reflect.Bool {
			return b.mismatch(v, t)
		}
		dst.SetBool(v.ToBoolean())
		return nil

	case reflect.String:
		if isObject || scalarKind(v) != reflect.String {
			return b.mismatch(v, t)
		}
		dst.SetString(v.String())
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, ok := number(v)
		if !ok {
			return b.mismatch(v, t)
		}
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 || dst.OverflowInt(int64(f)) {
			return Errorf(KindConversion, "toHost", "number %v does not fit %s", f, t)
		}
		dst.SetInt(int64(f))
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		f, ok := number(v)
		if !ok {
			return b.mismatch(v, t)
		}
		if f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 || dst.OverflowUint(uint64(f)) {
			return Errorf(KindConversion, "toHost", "number %v does not fit %s", f, t)
		}
		dst.SetUint(uint64(f))
		return nil

	case reflect.Float32, reflect.Float64:
		f, ok := number(v)
		if !ok {
			return b.mismatch(v, t)
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && dst.OverflowFloat(f) {
			return Errorf(KindConversion, "toHost", "number %v does not fit %s", f, t)
		}
		dst.SetFloat(f)
		return nil

	case reflect.Slice:
		if !isObject || !isArray(o) {
			return b.mismatch(v, t)
		}
		n := arrayLen(o)
		out := reflect.MakeSlice(t, n, n)
		if err := b.intoElements(o, out, depth); err != nil {
			return err
		}
		dst.Set(out)
		return nil

	case reflect.Array:
		if !isObject || !isArray(o) {
			return b.mismatch(v, t)
		}
		if n := arrayLen(o); n != t.Len() {
			return Errorf(KindConversion, "toHost", "script array of length %d does not fit %s", n, t)
		}
		return b.intoElements(o, dst, depth)

	case reflect.Map:
		if t.Key().Kind() != reflect.String || !isObject || isArray(o) {
			return b.mismatch(v, t)
		}
		if _, ok := goja.AssertFunction(o); ok {
			return b.mismatch(v, t)
		}
		out := reflect.MakeMapWithSize(t, len(o.Keys()))
		for _, k := range o.Keys() {
			elem := reflect.New(t.Elem()).Elem()
			if err := b.into(o.Get(k), elem, depth+1); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), elem)
		}
		dst.Set(out)
		return nil

	case reflect.Pointer, reflect.Struct:
		if !isObject {
			return b.mismatch(v, t)
		}
		p := b.forward[o]
		if p == nil || p.surface == nil {
			return Errorf(KindConversion, "toHost", "script object is not a proxy for %s", t)
		}
		hv := reflect.ValueOf(p.host)
		if !hv.Type().AssignableTo(t) {
			return Errorf(KindConversion, "toHost", "script object is a proxy for %T, not %s", p.host, t)
		}
		dst.Set(hv)
		return nil
	}
	return Errorf(KindConversion, "toHost", "unsupported destination type %s", t)
}

func (b *Bridge) intoElements(o *goja.Object, out reflect.Value, depth int) error {
	for i := 0; i < out.Len(); i++ {
		if err := b.into(o.Get(strconv.Itoa(i)), out.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// intoInterface raises into an interface type. For the empty interface,
// numbers become float64 and arrays become []any; everything else follows
// ToHost. A non-empty interface accepts any raised value implementing it.
func (b *Bridge) intoInterface(v goja.Value, dst reflect.Value, depth int) error {
	t := dst.Type()
	var raised any
	if o, ok := v.(*goja.Object); ok && isArray(o) && b.forward[o] == nil {
		if t.NumMethod() != 0 {
			return b.mismatch(v, t)
		}
		items := make([]any, arrayLen(o))
		if err := b.intoElements(o, reflect.ValueOf(items), depth); err != nil {
			return err
		}
		raised = items
	} else if f, ok := number(v); ok {
		raised = f
	} else {
		h, err := b.ToHost(v)
		if err != nil {
			return err
		}
		raised = h
	}
	if raised == nil {
		dst.SetZero()
		return nil
	}
	rv := reflect.ValueOf(raised)
	if !rv.Type().AssignableTo(t) {
		return Errorf(KindConversion, "toHost", "%T does not implement %s", raised, t)
	}
	dst.Set(rv)
	return nil
}

func (b *Bridge) mismatch(v goja.Value, t reflect.Type) *Error {
	return Errorf(KindConversion, "toHost", "cannot raise script %s into %s", typeOfScript(v), t)
}

// scalarKind returns the export kind of a primitive, or Invalid for objects.
func scalarKind(v goja.Value) reflect.Kind {
	if _, ok := v.(*goja.Object); ok {
		return reflect.Invalid
	}
	et := v.ExportType()
	if et == nil {
		return reflect.Invalid
	}
	return et.Kind()
}

func number(v goja.Value) (float64, bool) {
	switch scalarKind(v) {
	case reflect.Int64, reflect.Float64:
		return v.ToFloat(), true
	}
	return 0, false
}

func isArray(o *goja.Object) bool { return o.ClassName() == "Array" }

func arrayLen(o *goja.Object) int {
	return int(o.Get("length").ToInteger())
}

func typeOfScript(v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	switch {
	case goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	}
	if o, ok := v.(*goja.Object); ok {
		if isArray(o) {
			return "array"
		}
		if _, ok := goja.AssertFunction(o); ok {
			return "function"
		}
		return "object"
	}
	switch scalarKind(v) {
	case reflect.Int64, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	}
	return fmt.Sprintf("value(%s)", v.ExportType())
}
