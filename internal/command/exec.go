package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/joeycumines/jsbridge/internal/bridge"
	"github.com/joeycumines/jsbridge/internal/config"
	"github.com/joeycumines/jsbridge/internal/engine"
	"golang.org/x/term"
)

// refKey marks an object handle in exec input and in printed results.
const refKey = "$ref"

// step is one exec instruction. Which fields apply depends on Op.
type step struct {
	Op       string `json:"op"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Archive  string `json:"archive,omitempty"`
	FQN      string `json:"fqn,omitempty"`
	Target   string `json:"target,omitempty"`
	Method   string `json:"method,omitempty"`
	Property string `json:"property,omitempty"`
	Args     []any  `json:"args,omitempty"`
	Value    any    `json:"value,omitempty"`
	// As binds the result for later steps, as {"$ref": As} or Target.
	As string `json:"as,omitempty"`
	// Expect is a boolean expr-lang expression over result, which is the
	// printed form of the step's result. A false outcome fails the step.
	Expect string `json:"expect,omitempty"`
}

// stepResult is printed for every executed step.
type stepResult struct {
	Step   int    `json:"step"`
	Op     string `json:"op"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// execState is the set of bound handles for one exec run.
type execState struct {
	s     *engine.Session
	refs  map[string]any
	names map[*bridge.ObjectRef]string
}

// NewExecCommand creates the exec command, which runs a stream of JSON
// steps against one session so handles can be reused between steps.
//
//	{"op":"create","fqn":"pkg.Counter","args":[1],"as":"c"}
//	{"op":"call","target":"c","method":"increment"}
//	{"op":"set","target":"c","property":"count","value":{"$ref":"c"}}
func NewExecCommand(cfg *config.Config) Command {
	return &sessionCommand{
		BaseCommand: NewBaseCommand(
			"exec",
			"Run JSON steps (load, create, call, callStatic, get, getStatic, set) in one session",
			"exec [options] [file|-]",
		),
		session: sessionFlags{cfg: cfg},
		run: func(s *engine.Session, args []string, stdout io.Writer) error {
			var in io.Reader = os.Stdin
			if len(args) == 0 && term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("exec: no steps, pass a file or pipe steps on stdin")
			}
			if len(args) > 0 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runSteps(s, in, stdout)
		},
	}
}

// runSteps decodes and executes steps until EOF or the first failure. The
// failing step is printed before its error is returned.
func runSteps(s *engine.Session, in io.Reader, out io.Writer) error {
	st := &execState{
		s:     s,
		refs:  make(map[string]any),
		names: make(map[*bridge.ObjectRef]string),
	}
	dec := json.NewDecoder(in)
	for i := 1; ; i++ {
		var sp step
		if err := dec.Decode(&sp); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("step %d: %w", i, err)
		}

		res, err := st.run(sp)
		r := stepResult{Step: i, Op: sp.Op}
		if err == nil {
			r.Result = printable(res, st.names)
			err = checkExpect(sp.Expect, r.Result)
		}
		if err != nil {
			r.Error = err.Error()
		}
		if werr := writeJSON(out, r); werr != nil {
			return werr
		}
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, sp.Op, err)
		}
	}
}

func (st *execState) run(sp step) (any, error) {
	args, err := st.resolveAll(sp.Args)
	if err != nil {
		return nil, err
	}

	var res any
	switch sp.Op {
	case "load":
		err = st.s.Load(sp.Name, sp.Version, sp.Archive)
	case "create":
		res, err = st.s.Create(sp.FQN, args)
	case "call":
		var target any
		if target, err = st.target(sp.Target); err == nil {
			res, err = engine.CallAs[any](st.s, target, sp.Method, args)
		}
	case "callStatic":
		res, err = engine.CallStaticAs[any](st.s, sp.FQN, sp.Method, args)
	case "get":
		var target any
		if target, err = st.target(sp.Target); err == nil {
			res, err = engine.GetAs[any](st.s, target, sp.Property)
		}
	case "getStatic":
		res, err = engine.GetStaticAs[any](st.s, sp.FQN, sp.Property)
	case "set":
		var target, value any
		if target, err = st.target(sp.Target); err != nil {
			break
		}
		if value, err = st.resolve(sp.Value); err != nil {
			break
		}
		err = st.s.Set(target, sp.Property, value)
	default:
		err = fmt.Errorf("unknown op %q", sp.Op)
	}
	if err != nil {
		return nil, err
	}

	if sp.As != "" {
		st.refs[sp.As] = res
		if ref, ok := res.(*bridge.ObjectRef); ok {
			st.names[ref] = sp.As
		}
	}
	return res, nil
}

func (st *execState) target(name string) (any, error) {
	v, ok := st.refs[name]
	if !ok {
		return nil, fmt.Errorf("unbound target %q", name)
	}
	return v, nil
}

// resolve replaces every {"$ref": name} in v with the bound value.
func (st *execState) resolve(v any) (any, error) {
	switch v := v.(type) {
	case map[string]any:
		if name, ok := v[refKey].(string); ok && len(v) == 1 {
			return st.target(name)
		}
		out := make(map[string]any, len(v))
		for k, e := range v {
			r, err := st.resolve(e)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		return st.resolveAll(v)
	default:
		return v, nil
	}
}

func (st *execState) resolveAll(vs []any) ([]any, error) {
	out := make([]any, len(vs))
	for i, v := range vs {
		r, err := st.resolve(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// expectEnv declares the variables an expect expression may use.
var expectEnv = map[string]any{"result": nil}

// checkExpect evaluates expression against a printed step result.
func checkExpect(expression string, result any) error {
	if expression == "" {
		return nil
	}
	program, err := compileExpect(expression)
	if err != nil {
		return fmt.Errorf("expect %q: %w", expression, err)
	}
	out, err := expr.Run(program, map[string]any{"result": result})
	if err != nil {
		return fmt.Errorf("expect %q: %w", expression, err)
	}
	if ok, _ := out.(bool); !ok {
		return fmt.Errorf("expect %q: not satisfied by %v", expression, result)
	}
	return nil
}

func compileExpect(expression string) (*vm.Program, error) {
	return expr.Compile(expression, expr.Env(expectEnv), expr.AsBool())
}
