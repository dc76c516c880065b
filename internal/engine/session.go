// Package engine runs an embedded goja engine behind a fixed dispatch
// protocol, so Go code can load script packages and create, call, read and
// write script objects.
//
// A Session owns one event loop, one workspace and one value bridge. It
// admits a single operation at a time: a concurrent caller fails fast with
// bridge.ErrBusy, while a Go callback re-entering the session from inside an
// in-flight operation (for example a proxied getter) runs directly.
package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/jsbridge/internal/bridge"
	"github.com/joeycumines/jsbridge/internal/goroutineid"
	"github.com/joeycumines/jsbridge/internal/workspace"
)

//go:embed kernel.js
var kernelSource string

// kernelProgram is compiled once per process and shared by every session.
var kernelProgram = sync.OnceValues(func() (*goja.Program, error) {
	return goja.Compile("jsbridge:kernel.js", kernelSource, true)
})

// dispatcherGlobal is the global the kernel installs its dispatcher under.
const dispatcherGlobal = "bridge"

// State is the lifecycle state of a Session.
type State uint32

const (
	// StateUninitialized sessions start the engine on first use.
	StateUninitialized State = iota
	// StateReady sessions accept operations.
	StateReady
	// StateFaulted sessions failed to start, panicked, or were closed. The
	// state is terminal; every operation returns the recorded fault.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// errAborted unwinds an operation once a pending host error is observed.
// It never escapes: the pending error is returned in its place.
var errAborted = errors.New("aborted by pending host error")

// Options configures a Session.
type Options struct {
	// Logger receives debug output for every dispatch. Nil means slog.Default.
	Logger *slog.Logger
	// Workspace configures the directory packages are installed into.
	Workspace workspace.Options
	// Console exposes a console global to scripts.
	Console bool
	// MaxDepth bounds structural conversion. Zero means bridge.DefaultMaxDepth.
	MaxDepth int
}

// entryPoints are the dispatcher functions resolved at startup.
type entryPoints struct {
	load, create, call, callStatic, get, getStatic, set goja.Callable
}

// Session is one engine instance. Create it with New; it starts lazily.
type Session struct {
	opts   Options
	logger *slog.Logger

	// busy admits one top-level operation; owner is the goroutine holding it.
	busy  sync.Mutex
	owner atomic.Int64
	state atomic.Uint32

	// fields below are only touched while busy is held
	fault     error
	ws        *workspace.Workspace
	loop      *eventloop.EventLoop
	vm        *goja.Runtime
	bridge    *bridge.Bridge
	entry     entryPoints
	errorType *goja.Object
}

// New returns an uninitialized Session. The engine, workspace and kernel are
// started on first use.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{opts: opts, logger: logger}
}

// State reports the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Init starts the engine if it has not been started. Every operation calls it
// implicitly; it exists for callers who want startup failures up front.
func (s *Session) Init() error {
	return s.enter("init", func() error { return nil })
}

// Workspace returns the session's workspace, or nil before Init.
func (s *Session) Workspace() *workspace.Workspace {
	if s.State() != StateReady {
		return nil
	}
	return s.ws
}

// Close releases the workspace and faults the session. It fails with
// bridge.ErrBusy while an operation is in flight.
func (s *Session) Close() error {
	if !s.busy.TryLock() {
		return bridge.Errorf(bridge.KindBusy, "close", "an operation is in flight")
	}
	defer s.busy.Unlock()
	if s.State() == StateFaulted && s.ws == nil {
		return nil
	}
	var err error
	if s.ws != nil {
		err = s.ws.Close()
		s.ws = nil
	}
	if s.fault == nil {
		s.fault = bridge.Errorf(bridge.KindProtocol, "close", "session closed")
	}
	s.state.Store(uint32(StateFaulted))
	return err
}

// enter runs fn as one session operation. A call from the goroutine already
// running an operation is re-entry from a script callback, and runs fn
// inline; any other call must win the busy guard.
func (s *Session) enter(op string, fn func() error) error {
	id := goroutineid.Get()
	if id != 0 && s.owner.Load() == id {
		return s.guarded(op, fn, false)
	}

	if !s.busy.TryLock() {
		return bridge.Errorf(bridge.KindBusy, op, "another operation is in flight")
	}
	defer s.busy.Unlock()
	s.owner.Store(id)
	defer s.owner.Store(0)

	if err := s.start(); err != nil {
		return err
	}

	var err error
	// Run executes on this goroutine, then drains timers and immediates
	s.loop.Run(func(*goja.Runtime) {
		err = s.guarded(op, fn, true)
	})
	return err
}

// guarded runs fn, letting a pending host error take precedence over
// whatever fn returned, and faults the session if fn panics.
func (s *Session) guarded(op string, fn func() error, outermost bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := bridge.Errorf(bridge.KindProtocol, op, "engine panic: %v", r)
			s.logger.Error("jsbridge session faulted", "op", op, "panic", r)
			s.fault = perr
			s.state.Store(uint32(StateFaulted))
			err = perr
		}
	}()

	err = fn()

	var pending error
	if outermost {
		pending = s.bridge.TakePending()
	} else {
		pending = s.bridge.Pending()
	}
	if pending != nil {
		return pending
	}
	if errors.Is(err, errAborted) {
		return bridge.Errorf(bridge.KindProtocol, op, "operation aborted without a pending error")
	}
	return err
}

// start brings the session to StateReady, or returns the recorded fault.
func (s *Session) start() error {
	switch s.State() {
	case StateReady:
		return nil
	case StateFaulted:
		return s.fault
	}

	ws, err := workspace.Create(s.opts.Workspace)
	if err != nil {
		return s.faultWith(bridge.Wrap(bridge.KindProtocol, "init", err))
	}
	s.ws = ws

	registry := require.NewRegistry(require.WithGlobalFolders(ws.ModuleRoot()))
	s.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(s.opts.Console),
	)

	var bootErr error
	s.loop.Run(func(vm *goja.Runtime) {
		defer func() {
			if r := recover(); r != nil {
				bootErr = fmt.Errorf("kernel panic: %v", r)
			}
		}()
		bootErr = s.bootstrap(vm)
	})
	if bootErr != nil {
		var be *bridge.Error
		if !errors.As(bootErr, &be) {
			bootErr = bridge.Wrap(bridge.KindProtocol, "init", bootErr)
		}
		return s.faultWith(bootErr)
	}

	s.state.Store(uint32(StateReady))
	s.logger.Debug("jsbridge session ready", "workspace", ws.Dir())
	return nil
}

func (s *Session) bootstrap(vm *goja.Runtime) error {
	prg, err := kernelProgram()
	if err != nil {
		return fmt.Errorf("failed to compile kernel: %w", err)
	}
	b, err := bridge.New(vm, bridge.Options{
		Logger:   s.logger,
		MaxDepth: s.opts.MaxDepth,
	})
	if err != nil {
		return err
	}

	fv, err := vm.RunProgram(prg)
	if err != nil {
		return fmt.Errorf("failed to run kernel: %w", err)
	}
	kernel, ok := goja.AssertFunction(fv)
	if !ok {
		return bridge.Errorf(bridge.KindProtocol, "init", "kernel did not evaluate to a function")
	}
	if _, err := kernel(goja.Undefined(), vm.GlobalObject(), vm.ToValue(s.kernelLog)); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	dv := vm.GlobalObject().Get(dispatcherGlobal)
	d, ok := dv.(*goja.Object)
	if !ok {
		return bridge.Errorf(bridge.KindProtocol, "init", "kernel installed no %s global", dispatcherGlobal)
	}
	for _, ep := range []struct {
		name string
		dst  *goja.Callable
	}{
		{"load", &s.entry.load},
		{"create", &s.entry.create},
		{"call", &s.entry.call},
		{"callStatic", &s.entry.callStatic},
		{"get", &s.entry.get},
		{"getStatic", &s.entry.getStatic},
		{"set", &s.entry.set},
	} {
		fn, ok := goja.AssertFunction(d.Get(ep.name))
		if !ok {
			return bridge.Errorf(bridge.KindProtocol, "init", "dispatcher has no %s entry point", ep.name)
		}
		*ep.dst = fn
	}
	errorType, ok := d.Get("BridgeError").(*goja.Object)
	if !ok {
		return bridge.Errorf(bridge.KindProtocol, "init", "dispatcher has no BridgeError type")
	}

	s.vm = vm
	s.bridge = b
	s.errorType = errorType
	b.SetStaticResolver(func(fqn, property string) (goja.Value, error) {
		return s.invoke("getStatic", s.entry.getStatic, vm.ToValue(fqn), vm.ToValue(property))
	})
	return nil
}

func (s *Session) kernelLog(msg string) {
	s.logger.Debug(msg, "component", "kernel")
}

func (s *Session) faultWith(err error) error {
	s.fault = err
	s.state.Store(uint32(StateFaulted))
	s.logger.Error("jsbridge session faulted", "error", err)
	if s.ws != nil {
		if cerr := s.ws.Close(); cerr != nil {
			s.logger.Warn("failed to release workspace", "error", cerr)
		}
		s.ws = nil
	}
	return err
}

// invoke calls a dispatcher entry point and classifies what it throws.
func (s *Session) invoke(op string, fn goja.Callable, args ...goja.Value) (goja.Value, error) {
	res, err := fn(goja.Undefined(), args...)
	if s.bridge.Pending() != nil {
		return goja.Undefined(), errAborted
	}
	if err != nil {
		return goja.Undefined(), s.classify(op, err)
	}
	return res, nil
}

// classify maps a kernel BridgeError to a bridge.Error. Anything else the
// target code threw is returned as the *goja.Exception itself.
func (s *Session) classify(op string, err error) error {
	var exc *goja.Exception
	if !errors.As(err, &exc) {
		return bridge.Wrap(bridge.KindProtocol, op, err)
	}
	obj, ok := exc.Value().(*goja.Object)
	if !ok || !s.vm.InstanceOf(obj, s.errorType) {
		return exc
	}
	kind := bridge.KindProtocol
	switch obj.Get("kind").String() {
	case "construction":
		kind = bridge.KindConstruction
	case "lookup":
		kind = bridge.KindLookup
	}
	return bridge.Errorf(kind, op, "%s", obj.Get("message").String())
}

// lower converts Go arguments to a script array.
func (s *Session) lower(args []any) (goja.Value, error) {
	items := make([]any, len(args))
	for i, arg := range args {
		v, err := s.bridge.ToScript(arg)
		if err != nil {
			// script exceptions and pending host errors pass through untouched
			if be, ok := err.(*bridge.Error); ok {
				return nil, fmt.Errorf("argument %d: %w", i, be)
			}
			return nil, err
		}
		if s.bridge.Pending() != nil {
			return nil, errAborted
		}
		items[i] = v
	}
	return s.vm.NewArray(items...), nil
}

// lowerOne converts a single Go value, such as a receiver.
func (s *Session) lowerOne(v any) (goja.Value, error) {
	sv, err := s.bridge.ToScript(v)
	if err != nil {
		return nil, err
	}
	if s.bridge.Pending() != nil {
		return nil, errAborted
	}
	return sv, nil
}
