// Package bridge converts values between Go and an embedded goja runtime
// while preserving object identity across repeated crossings.
//
// A Bridge owns two identity tables. The forward map goes from a script
// object to its Go peer (the proxied Go value, or an *ObjectRef minted for a
// script object that had none). The reverse map goes from an identity token
// back to the script object. Neither map ever evicts: entries live as long
// as the Bridge, which lives as long as its engine session.
//
// A Bridge is not safe for concurrent use. It must only be touched from the
// goroutine currently driving its goja.Runtime.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// DefaultMaxDepth bounds structural recursion in both directions.
const DefaultMaxDepth = 64

// StaticResolver reads a static property of a fully-qualified script type.
// It is the dispatcher's getStatic entry point, used to resolve enum members.
type StaticResolver func(fqn, property string) (goja.Value, error)

// Options configures a Bridge.
type Options struct {
	// Logger receives debug output. Nil disables logging.
	Logger *slog.Logger
	// MaxDepth bounds structural recursion. Zero means DefaultMaxDepth.
	MaxDepth int
	// Statics resolves enum members. May be set later via SetStaticResolver.
	Statics StaticResolver
}

// peer is the forward map entry for one script object.
type peer struct {
	id   uuid.UUID
	host any
	// surface is set for proxies; accessor closures hold their descriptors.
	surface Introspectable
}

// Bridge converts values for one goja runtime.
type Bridge struct {
	vm       *goja.Runtime
	logger   *slog.Logger
	maxDepth int
	statics  StaticResolver
	seal     goja.Callable

	forward map[*goja.Object]*peer
	reverse map[uuid.UUID]*goja.Object
	// byHost indexes pointer-identity Go values that have a proxy, so the
	// forward map is consulted before a second proxy is minted.
	byHost map[any]*goja.Object

	pending error
}

// New returns a Bridge bound to vm. It must be called on the goroutine
// driving vm, before any untrusted script has run.
func New(vm *goja.Runtime, opts Options) (*Bridge, error) {
	if vm == nil {
		return nil, Errorf(KindProtocol, "new", "nil runtime")
	}
	b := &Bridge{
		vm:       vm,
		logger:   opts.Logger,
		maxDepth: opts.MaxDepth,
		statics:  opts.Statics,
		forward:  make(map[*goja.Object]*peer),
		reverse:  make(map[uuid.UUID]*goja.Object),
		byHost:   make(map[any]*goja.Object),
	}
	if b.maxDepth <= 0 {
		b.maxDepth = DefaultMaxDepth
	}
	object := vm.Get("Object")
	if object == nil {
		return nil, Errorf(KindProtocol, "new", "runtime has no Object intrinsic")
	}
	seal, ok := goja.AssertFunction(object.ToObject(vm).Get("seal"))
	if !ok {
		return nil, Errorf(KindProtocol, "new", "runtime has no Object.seal")
	}
	b.seal = seal
	return b, nil
}

// Runtime returns the goja runtime the bridge is bound to.
func (b *Bridge) Runtime() *goja.Runtime { return b.vm }

// SetStaticResolver installs the resolver used for enum members.
func (b *Bridge) SetStaticResolver(fn StaticResolver) { b.statics = fn }

// Raise records a pending host error. The first error wins; while one is
// pending every conversion short-circuits to undefined.
func (b *Bridge) Raise(err error) {
	if err != nil && b.pending == nil {
		b.pending = err
	}
}

// Pending returns the pending host error, if any.
func (b *Bridge) Pending() error { return b.pending }

// TakePending returns and clears the pending host error.
func (b *Bridge) TakePending() error {
	err := b.pending
	b.pending = nil
	return err
}

// Identity returns the identity token of a tracked script object.
func (b *Bridge) Identity(v goja.Value) (uuid.UUID, bool) {
	o, ok := v.(*goja.Object)
	if !ok {
		return uuid.UUID{}, false
	}
	p := b.forward[o]
	if p == nil {
		return uuid.UUID{}, false
	}
	return p.id, true
}

// Tracked returns the number of script objects in the identity maps.
func (b *Bridge) Tracked() int { return len(b.forward) }

// Lookup resolves an identity handle to its script object.
func (b *Bridge) Lookup(ref *ObjectRef) (*goja.Object, error) {
	if ref == nil {
		return nil, Errorf(KindLookup, "lookup", "nil object reference")
	}
	o := b.reverse[ref.id]
	if o == nil {
		return nil, Errorf(KindLookup, "lookup", "no script object for %s", ref)
	}
	return o, nil
}

func (b *Bridge) lookupValue(ref *ObjectRef) (goja.Value, error) {
	o, err := b.Lookup(ref)
	if err != nil {
		return goja.Undefined(), err
	}
	return o, nil
}

func (b *Bridge) track(o *goja.Object, p *peer) {
	b.forward[o] = p
	b.reverse[p.id] = o
	if isPointerIdentity(p.host) {
		b.byHost[p.host] = o
	}
}

// ToScript lowers a Go value to a script value.
func (b *Bridge) ToScript(v any) (goja.Value, error) {
	return b.toScript(v, 0)
}

func (b *Bridge) toScript(v any, depth int) (goja.Value, error) {
	if b.pending != nil {
		return goja.Undefined(), nil
	}
	if depth > b.maxDepth {
		return goja.Undefined(), b.conversionError("toScript", v, fmt.Sprintf("nesting deeper than %d", b.maxDepth))
	}

	if isNil(v) {
		return goja.Undefined(), nil
	}

	switch x := v.(type) {
	case goja.Value:
		return x, nil
	case *ObjectRef:
		return b.lookupValue(x)
	case ReadOnlyList:
		return b.toScript(x.list, depth+1)
	case *ReadOnlyList:
		return b.toScript(x.list, depth+1)
	case json.RawMessage:
		return b.fromJSON(x)
	}
	if sb, ok := v.(ScriptBacked); ok {
		if ref := sb.ScriptRef(); ref != nil {
			return b.lookupValue(ref)
		}
	}

	if o := b.byHost[identityKey(v)]; o != nil {
		return o, nil
	}

	if s, ok := v.(Introspectable); ok {
		return b.proxy(v, s)
	}

	// named numeric and string types double as enums, so the enum
	// capability is checked before the kind-based conversions below
	if e, ok := v.(EnumMember); ok {
		return b.enumMember(v, e)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return b.toScriptList(rv, depth)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return goja.Undefined(), b.conversionError("toScript", v, "map keys must be strings")
		}
		return b.toScriptRecord(rv, depth)
	case reflect.Bool:
		return b.vm.ToValue(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return b.vm.ToValue(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return b.vm.ToValue(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return b.vm.ToValue(rv.Float()), nil
	case reflect.String:
		return b.vm.ToValue(rv.String()), nil
	case reflect.Pointer:
		if rv.Elem().Kind() != reflect.Struct && rv.NumMethod() == 0 {
			return b.toScript(rv.Elem().Interface(), depth+1)
		}
		fallthrough
	case reflect.Struct:
		s, err := surfaceOf(v)
		if err != nil {
			return goja.Undefined(), b.conversionError("toScript", v, err.Error())
		}
		return b.proxy(v, s)
	}
	return goja.Undefined(), b.conversionError("toScript", v, "unsupported kind "+rv.Kind().String())
}

func (b *Bridge) toScriptList(rv reflect.Value, depth int) (goja.Value, error) {
	items := make([]any, rv.Len())
	for i := range items {
		item, err := b.toScript(rv.Index(i).Interface(), depth+1)
		if err != nil {
			return goja.Undefined(), err
		}
		if b.pending != nil {
			return goja.Undefined(), nil
		}
		items[i] = item
	}
	return b.vm.NewArray(items...), nil
}

func (b *Bridge) toScriptRecord(rv reflect.Value, depth int) (goja.Value, error) {
	// a null prototype keeps Object.prototype methods off converted data
	obj := b.vm.NewObject()
	if err := obj.SetPrototype(nil); err != nil {
		return goja.Undefined(), Wrap(KindConversion, "toScript", err)
	}
	keys := make([]reflect.Value, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		switch x, y := a.String(), b.String(); {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	for _, k := range keys {
		val, err := b.toScript(rv.MapIndex(k).Interface(), depth+1)
		if err != nil {
			return goja.Undefined(), err
		}
		if b.pending != nil {
			return goja.Undefined(), nil
		}
		if err := obj.Set(k.String(), val); err != nil {
			return goja.Undefined(), Wrap(KindConversion, "toScript", err)
		}
	}
	return obj, nil
}

func (b *Bridge) enumMember(v any, e EnumMember) (goja.Value, error) {
	ann, ok := v.(ScriptEnum)
	if !ok {
		return goja.Undefined(), b.conversionError("toScript", v, "enum type has no ScriptEnumType annotation")
	}
	if b.statics == nil {
		return goja.Undefined(), Errorf(KindProtocol, "toScript", "no static resolver for enum %s", ann.ScriptEnumType())
	}
	val, err := b.statics(ann.ScriptEnumType(), e.EnumName())
	if err != nil {
		return goja.Undefined(), err
	}
	return val, nil
}

func (b *Bridge) fromJSON(raw json.RawMessage) (goja.Value, error) {
	if len(raw) == 0 {
		return goja.Undefined(), nil
	}
	if !json.Valid(raw) {
		return goja.Undefined(), Errorf(KindConversion, "toScript", "malformed JSON node %q", truncate(string(raw), 64))
	}
	// parenthesised so that an object literal parses as an expression
	val, err := b.vm.RunString("(" + string(raw) + ")")
	if err != nil {
		return goja.Undefined(), Wrap(KindConversion, "toScript", err)
	}
	return val, nil
}

func (b *Bridge) conversionError(op string, v any, reason string) *Error {
	return Errorf(KindConversion, op, "cannot convert %T<%s>: %s", v, truncate(fmt.Sprintf("%v", v), 64), reason)
}

func (b *Bridge) debug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// isPointerIdentity reports whether v has reference identity in Go.
func isPointerIdentity(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Pointer
}

// identityKey returns v when it can key byHost, or nil.
func identityKey(v any) any {
	if isPointerIdentity(v) {
		return v
	}
	return nil
}

func lenOf(v any) int {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len()
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
