package bridge

import (
	"fmt"
	"strings"
)

// Kind classifies a bridge failure.
type Kind uint8

const (
	// KindConversion is an unsupported or malformed value crossing the boundary.
	KindConversion Kind = iota + 1
	// KindLookup is a dangling identity token or a missing member.
	KindLookup
	// KindProtocol is a missing or misbehaving dispatcher entry point.
	KindProtocol
	// KindConstruction is an unknown type or a failed constructor call.
	KindConstruction
	// KindArchive is a corrupt or mismatched package archive.
	KindArchive
	// KindNotImplemented is raised by proxy method stubs.
	KindNotImplemented
	// KindBusy is returned when a session is entered concurrently.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindConversion:
		return "conversion error"
	case KindLookup:
		return "lookup error"
	case KindProtocol:
		return "protocol error"
	case KindConstruction:
		return "construction error"
	case KindArchive:
		return "archive error"
	case KindNotImplemented:
		return "not implemented"
	case KindBusy:
		return "session busy"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error is the single caller-visible error type for every failure category
// other than exceptions raised by the target code itself, which are returned
// verbatim as *goja.Exception.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is. An *Error matches a sentinel when the kinds agree.
var (
	ErrConversion     = &Error{Kind: KindConversion}
	ErrLookup         = &Error{Kind: KindLookup}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrConstruction   = &Error{Kind: KindConstruction}
	ErrArchive        = &Error{Kind: KindArchive}
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
	ErrBusy           = &Error{Kind: KindBusy}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("jsbridge: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around err.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
