package bridge

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// accessor pairs the cached descriptors behind one script property.
type accessor struct {
	name   string
	getter *Operation
	setter *Operation
}

// proxy builds the script stand-in for host. The result is tracked in both
// identity maps and sealed before it is returned.
func (b *Bridge) proxy(host any, s Introspectable) (goja.Value, error) {
	ops, err := s.Operations()
	if err != nil {
		b.Raise(Wrap(KindConversion, "proxy", err))
		return goja.Undefined(), nil
	}

	obj := b.vm.NewObject()
	if err := obj.SetPrototype(nil); err != nil {
		return goja.Undefined(), Wrap(KindProtocol, "proxy", err)
	}
	p := &peer{id: uuid.New(), host: host, surface: s}

	accessors, methods := classify(ops)
	for _, a := range accessors {
		var get, set goja.Value
		if a.getter != nil {
			get = b.vm.ToValue(b.getterFunc(p, *a.getter))
		}
		if a.setter != nil {
			set = b.vm.ToValue(b.setterFunc(p, *a.setter))
		}
		if err := obj.DefineAccessorProperty(a.name, get, set, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return goja.Undefined(), Wrap(KindProtocol, "proxy", err)
		}
	}
	for _, op := range methods {
		stub := b.vm.ToValue(b.stubFunc(host, op))
		if err := obj.DefineDataProperty(lowerFirst(op.Name), stub, goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return goja.Undefined(), Wrap(KindProtocol, "proxy", err)
		}
	}

	b.track(obj, p)
	if _, err := b.seal(goja.Undefined(), obj); err != nil {
		return goja.Undefined(), Wrap(KindProtocol, "proxy", err)
	}
	b.debug("proxied host value", "type", reflect.TypeOf(host).String(), "id", p.id, "accessors", len(accessors), "methods", len(methods))
	return obj, nil
}

// classify splits the visible operations into accessors and plain methods.
// Accessors win a name collision with a method.
func classify(ops []Operation) ([]*accessor, []Operation) {
	var (
		order    []string
		bySubj   = make(map[string]*accessor)
		regular  []Operation
		accessed = make(map[string]bool)
	)
	slot := func(subject string) *accessor {
		a := bySubj[subject]
		if a == nil {
			a = &accessor{name: lowerFirst(subject)}
			bySubj[subject] = a
			order = append(order, subject)
		}
		return a
	}
	for i := range ops {
		op := &ops[i]
		if op.Internal || universalOperations[op.Name] {
			continue
		}
		if subject, ok := accessorSubject(op.Name, "Get"); ok && len(op.Params) == 0 && op.Results == 1 {
			slot(subject).getter = op
			continue
		}
		if subject, ok := accessorSubject(op.Name, "Set"); ok && len(op.Params) == 1 && op.Results == 0 {
			slot(subject).setter = op
			continue
		}
		regular = append(regular, *op)
	}
	accessors := make([]*accessor, 0, len(order))
	for _, subject := range order {
		a := bySubj[subject]
		accessed[a.name] = true
		accessors = append(accessors, a)
	}
	methods := regular[:0]
	for _, op := range regular {
		if !accessed[lowerFirst(op.Name)] {
			methods = append(methods, op)
		}
	}
	return accessors, methods
}

// accessorSubject reports the capitalised subject following prefix.
func accessorSubject(name, prefix string) (string, bool) {
	subject, ok := strings.CutPrefix(name, prefix)
	if !ok || subject == "" {
		return "", false
	}
	r, _ := utf8.DecodeRuneInString(subject)
	return subject, unicode.IsUpper(r)
}

func (b *Bridge) getterFunc(captured *peer, op Operation) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if b.pending != nil {
			return goja.Undefined()
		}
		p := b.receiver(call.This, captured)
		res, err := p.surface.Invoke(op, nil)
		if err != nil {
			b.Raise(err)
			return goja.Undefined()
		}
		v, err := b.ToScript(res)
		if err != nil {
			b.Raise(err)
			return goja.Undefined()
		}
		return v
	}
}

func (b *Bridge) setterFunc(captured *peer, op Operation) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if b.pending != nil {
			return goja.Undefined()
		}
		p := b.receiver(call.This, captured)
		var arg any
		if t := op.Params[0]; t != nil {
			dst := reflect.New(t)
			if err := b.ToHostInto(call.Argument(0), dst.Interface()); err != nil {
				b.Raise(err)
				return goja.Undefined()
			}
			arg = dst.Elem().Interface()
		} else {
			v, err := b.ToHost(call.Argument(0))
			if err != nil {
				b.Raise(err)
				return goja.Undefined()
			}
			arg = v
		}
		if _, err := p.surface.Invoke(op, []any{arg}); err != nil {
			b.Raise(err)
		}
		return goja.Undefined()
	}
}

// receiver resolves the peer an accessor runs against. The accessor's
// Operation indexes the surface it was built from, so only a proxy over the
// same host and surface types may stand in for it; anything else falls back
// to the proxy the accessor was defined on.
func (b *Bridge) receiver(this goja.Value, captured *peer) *peer {
	o, ok := this.(*goja.Object)
	if !ok {
		return captured
	}
	p := b.forward[o]
	if p == nil || p.surface == nil ||
		reflect.TypeOf(p.host) != reflect.TypeOf(captured.host) ||
		reflect.TypeOf(p.surface) != reflect.TypeOf(captured.surface) {
		return captured
	}
	return p
}

// stubFunc returns the script function standing in for a regular method.
// Call-through of regular methods is not supported; the stub always throws.
func (b *Bridge) stubFunc(host any, op Operation) func(goja.FunctionCall) goja.Value {
	return func(goja.FunctionCall) goja.Value {
		panic(b.vm.NewGoError(Errorf(KindNotImplemented, "invoke", "%T.%s", host, op.Name)))
	}
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[n:]
}
