package command

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joeycumines/jsbridge/internal/bridge"
	"github.com/joeycumines/jsbridge/internal/config"
	"github.com/joeycumines/jsbridge/internal/engine"
	"github.com/joeycumines/jsbridge/internal/workspace"
)

// loadList collects repeated -load flags of the form name@version=archive.
type loadList []config.PackageSpec

func (l *loadList) String() string {
	parts := make([]string, len(*l))
	for i, p := range *l {
		parts[i] = p.Name + "@" + p.Version + "=" + p.Archive
	}
	return strings.Join(parts, ",")
}

func (l *loadList) Set(s string) error {
	spec, err := parseLoadFlag(s)
	if err != nil {
		return err
	}
	*l = append(*l, spec)
	return nil
}

// parseLoadFlag parses name@version=archive. The version separator is the
// last '@' before '=', so scoped names (@scope/name@1.0.0=...) work.
func parseLoadFlag(s string) (config.PackageSpec, error) {
	ref, archive, ok := strings.Cut(s, "=")
	if !ok || archive == "" {
		return config.PackageSpec{}, fmt.Errorf("expected name@version=archive, got %q", s)
	}
	at := strings.LastIndex(ref, "@")
	if at <= 0 || at == len(ref)-1 {
		return config.PackageSpec{}, fmt.Errorf("expected name@version=archive, got %q", s)
	}
	return config.PackageSpec{Name: ref[:at], Version: ref[at+1:], Archive: archive}, nil
}

// sessionFlags are shared by every command that starts an engine.
type sessionFlags struct {
	cfg *config.Config

	loads     loadList
	noPreload bool
	workspace string
	keep      bool
	logLevel  string
	logFormat string
	maxDepth  int
	noConsole bool
}

func (f *sessionFlags) register(fs *flag.FlagSet) {
	fs.Var(&f.loads, "load", "Load a package archive, as name@version=path (repeatable)")
	fs.BoolVar(&f.noPreload, "no-preload", false, "Skip the packages listed in the config file")
	fs.StringVar(&f.workspace, "workspace", "", "Fixed workspace directory (default: a temporary directory)")
	fs.BoolVar(&f.keep, "keep", false, "Keep the temporary workspace on exit")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text, json")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "Maximum conversion depth")
	fs.BoolVar(&f.noConsole, "no-console", false, "Do not expose console to scripts")
}

// options resolves session options from the flags and configuration.
func (f *sessionFlags) options(logger *slog.Logger) (engine.Options, error) {
	schema := config.DefaultSchema()

	keep, err := schema.ResolveBool(f.cfg, config.KeyWorkspaceKeep)
	if err != nil {
		return engine.Options{}, err
	}
	console, err := schema.ResolveBool(f.cfg, config.KeyEngineConsole)
	if err != nil {
		return engine.Options{}, err
	}
	maxDepth := f.maxDepth
	if maxDepth <= 0 {
		if maxDepth, err = schema.ResolveInt(f.cfg, config.KeyEngineMaxDepth); err != nil {
			return engine.Options{}, err
		}
	}
	dir := f.workspace
	if dir == "" {
		dir = schema.Resolve(f.cfg, config.KeyWorkspaceDir)
	}

	return engine.Options{
		Logger: logger,
		Workspace: workspace.Options{
			Parent: schema.Resolve(f.cfg, config.KeyWorkspaceParent),
			Path:   dir,
			Keep:   keep || f.keep,
		},
		Console:  console && !f.noConsole,
		MaxDepth: maxDepth,
	}, nil
}

// open starts a session and loads the configured packages, then those
// named by -load. The caller must Close the session.
func (f *sessionFlags) open(stderr io.Writer) (*engine.Session, error) {
	logger, err := resolveLogger(f.logLevel, f.logFormat, f.cfg, stderr)
	if err != nil {
		return nil, err
	}
	opts, err := f.options(logger)
	if err != nil {
		return nil, err
	}

	s := engine.New(opts)
	var specs []config.PackageSpec
	if !f.noPreload && f.cfg != nil {
		specs = append(specs, f.cfg.Packages...)
	}
	specs = append(specs, f.loads...)

	if err := s.Init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	for _, p := range specs {
		if err := s.Load(p.Name, p.Version, p.Archive); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("loading %s@%s: %w", p.Name, p.Version, err)
		}
	}
	return s, nil
}

// jsonArgs passes each argument to the engine as a JSON document.
func jsonArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = json.RawMessage(a)
	}
	return out
}

// printable replaces object handles with {"$ref": name}, naming each handle
// with names when it has one and its identity otherwise.
func printable(v any, names map[*bridge.ObjectRef]string) any {
	switch v := v.(type) {
	case *bridge.ObjectRef:
		name, ok := names[v]
		if !ok {
			name = v.ID().String()
		}
		return map[string]string{refKey: name}
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = printable(e, names)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = printable(e, names)
		}
		return out
	default:
		return v
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
