package bridge

import (
	"github.com/google/uuid"
)

// ObjectRef is the opaque host-side handle for a script object that has no
// Go peer. It carries only the identity token; the script object stays in
// the engine and is resolved through the bridge's reverse map.
type ObjectRef struct {
	id uuid.UUID
}

// ID returns the identity token.
func (r *ObjectRef) ID() uuid.UUID { return r.id }

func (r *ObjectRef) String() string { return "jsbridge.ObjectRef<" + r.id.String() + ">" }

// ScriptBacked is implemented by Go types that wrap a reference to a script
// object, such as generated bindings. A nil ScriptRef means the value has no
// script counterpart yet and will be proxied instead.
type ScriptBacked interface {
	ScriptRef() *ObjectRef
}

// ReadOnlyList is a read-only view over a list. It is the one wrapper the
// bridge unwraps before conversion, so a view over a list that is itself
// script-backed still resolves to the original script object.
type ReadOnlyList struct {
	list any
}

// NewReadOnlyList wraps list, which should be a slice, an array, or a value
// that converts to a script array.
func NewReadOnlyList(list any) ReadOnlyList { return ReadOnlyList{list: list} }

// Len returns the length of the underlying slice or array, or 0.
func (l ReadOnlyList) Len() int {
	if s, ok := l.list.([]any); ok {
		return len(s)
	}
	return lenOf(l.list)
}
