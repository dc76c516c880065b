package engine

import (
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/joeycumines/jsbridge/internal/bridge"
	"github.com/joeycumines/jsbridge/internal/pkginstall"
)

// raiser converts a dispatcher result into the caller's destination.
type raiser func(b *bridge.Bridge, v goja.Value) error

// Load installs the package archive at archivePath into the workspace and
// loads it into the engine under name. The archive's manifest must declare
// exactly name and version. Work the package schedules while loading (timers,
// promise jobs) completes before Load returns.
func (s *Session) Load(name, version, archivePath string) error {
	return s.enter("load", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "load", "name", name, "version", version, "archive", archivePath)
		pkg, err := pkginstall.Install(archivePath, name, version, s.ws.ModuleRoot())
		if err != nil {
			return bridge.Wrap(bridge.KindArchive, "load", err)
		}
		if pkg.Reused {
			s.logger.Debug("jsbridge package already installed", "name", name, "version", version)
		}
		_, err = s.invoke("load", s.entry.load, s.vm.ToValue(name), s.vm.ToValue(filepath.ToSlash(pkg.Entry)))
		return err
	})
}

// Create constructs fqn with args and returns a handle to the new object:
// an *bridge.ObjectRef, or the original Go value if the constructor returned
// a proxy. An unknown type or a failing constructor is bridge.ErrConstruction.
func (s *Session) Create(fqn string, args []any) (any, error) {
	var out any
	err := s.enter("create", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "create", "fqn", fqn, "args", len(args))
		argv, err := s.lower(args)
		if err != nil {
			return err
		}
		res, err := s.invoke("create", s.entry.create, s.vm.ToValue(fqn), argv)
		if err != nil {
			return err
		}
		if _, ok := res.(*goja.Object); !ok {
			return bridge.Errorf(bridge.KindProtocol, "create", "dispatcher returned a non-object for %s", fqn)
		}
		out, err = s.bridge.ToHost(res)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Call invokes method on receiver. The result is raised with the lean
// conversion: nil, string, bool, or an object handle. Use CallAs for numbers
// and structured results.
func (s *Session) Call(receiver any, method string, args []any) (any, error) {
	var out any
	err := s.call(receiver, method, args, lean(&out))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CallStatic invokes the static method of fqn.
func (s *Session) CallStatic(fqn, method string, args []any) (any, error) {
	var out any
	err := s.callStatic(fqn, method, args, lean(&out))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get reads property of receiver.
func (s *Session) Get(receiver any, property string) (any, error) {
	var out any
	err := s.get(receiver, property, lean(&out))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetStatic reads the static property of fqn.
func (s *Session) GetStatic(fqn, property string) (any, error) {
	var out any
	err := s.getStatic(fqn, property, lean(&out))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set writes value to property of receiver.
func (s *Session) Set(receiver any, property string, value any) error {
	return s.enter("set", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "set", "property", property)
		recv, err := s.lowerOne(receiver)
		if err != nil {
			return err
		}
		val, err := s.lowerOne(value)
		if err != nil {
			return err
		}
		_, err = s.invoke("set", s.entry.set, recv, s.vm.ToValue(property), val)
		return err
	})
}

// CallAs is Call with the result converted into T.
func CallAs[T any](s *Session, receiver any, method string, args []any) (T, error) {
	var out T
	if err := s.call(receiver, method, args, into(&out)); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// CallStaticAs is CallStatic with the result converted into T.
func CallStaticAs[T any](s *Session, fqn, method string, args []any) (T, error) {
	var out T
	if err := s.callStatic(fqn, method, args, into(&out)); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// GetAs is Get with the result converted into T.
func GetAs[T any](s *Session, receiver any, property string) (T, error) {
	var out T
	if err := s.get(receiver, property, into(&out)); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// GetStaticAs is GetStatic with the result converted into T.
func GetStaticAs[T any](s *Session, fqn, property string) (T, error) {
	var out T
	if err := s.getStatic(fqn, property, into(&out)); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (s *Session) call(receiver any, method string, args []any, raise raiser) error {
	return s.enter("call", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "call", "method", method, "args", len(args))
		recv, err := s.lowerOne(receiver)
		if err != nil {
			return err
		}
		argv, err := s.lower(args)
		if err != nil {
			return err
		}
		res, err := s.invoke("call", s.entry.call, recv, s.vm.ToValue(method), argv)
		if err != nil {
			return err
		}
		return raise(s.bridge, res)
	})
}

func (s *Session) callStatic(fqn, method string, args []any, raise raiser) error {
	return s.enter("callStatic", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "callStatic", "fqn", fqn, "method", method, "args", len(args))
		argv, err := s.lower(args)
		if err != nil {
			return err
		}
		res, err := s.invoke("callStatic", s.entry.callStatic, s.vm.ToValue(fqn), s.vm.ToValue(method), argv)
		if err != nil {
			return err
		}
		return raise(s.bridge, res)
	})
}

func (s *Session) get(receiver any, property string, raise raiser) error {
	return s.enter("get", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "get", "property", property)
		recv, err := s.lowerOne(receiver)
		if err != nil {
			return err
		}
		res, err := s.invoke("get", s.entry.get, recv, s.vm.ToValue(property))
		if err != nil {
			return err
		}
		return raise(s.bridge, res)
	})
}

func (s *Session) getStatic(fqn, property string, raise raiser) error {
	return s.enter("getStatic", func() error {
		s.logger.Debug("jsbridge dispatch", "op", "getStatic", "fqn", fqn, "property", property)
		res, err := s.invoke("getStatic", s.entry.getStatic, s.vm.ToValue(fqn), s.vm.ToValue(property))
		if err != nil {
			return err
		}
		return raise(s.bridge, res)
	})
}

func lean(dst *any) raiser {
	return func(b *bridge.Bridge, v goja.Value) error {
		h, err := b.ToHost(v)
		if err != nil {
			return err
		}
		*dst = h
		return nil
	}
}

func into[T any](dst *T) raiser {
	return func(b *bridge.Bridge, v goja.Value) error {
		return b.ToHostInto(v, dst)
	}
}
