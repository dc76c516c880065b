package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/jsbridge/internal/config"
)

type nopCommand struct {
	*BaseCommand
	got []string
}

func (c *nopCommand) Execute(args []string, stdout, stderr io.Writer) error {
	c.got = args
	return nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	nop := &nopCommand{BaseCommand: NewBaseCommand("nop", "Does nothing", "nop [args]")}
	r.Register(nop)
	r.Register(NewHelpCommand(r))

	if got := strings.Join(r.List(), ","); got != "help,nop" {
		t.Fatalf("expected help,nop, got %s", got)
	}

	if err := r.Run([]string{"nop", "a", "b"}, io.Discard, io.Discard); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.Join(nop.got, ",") != "a,b" {
		t.Fatalf("expected args a,b, got %v", nop.got)
	}

	var stderr bytes.Buffer
	err := r.Run([]string{"missing"}, io.Discard, &stderr)
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if !strings.Contains(stderr.String(), "jsbridge help") {
		t.Fatalf("expected a hint on stderr, got %q", stderr.String())
	}
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()
	r := testRegistry(config.NewConfig())

	var stdout bytes.Buffer
	if err := r.Run(nil, &stdout, io.Discard); err != nil {
		t.Fatalf("help returned error: %v", err)
	}
	for _, want := range []string{"call-static", "exec", "get-static"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("expected %q in help output:\n%s", want, stdout.String())
		}
	}

	stdout.Reset()
	if err := r.Run([]string{"help", "exec"}, &stdout, io.Discard); err != nil {
		t.Fatalf("help exec returned error: %v", err)
	}
	if !strings.Contains(stdout.String(), "-workspace") {
		t.Errorf("expected session flags in exec help:\n%s", stdout.String())
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	var stdout bytes.Buffer
	if err := NewVersionCommand("1.2.3").Execute(nil, &stdout, io.Discard); err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if stdout.String() != "jsbridge version 1.2.3\n" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
	if err := NewVersionCommand("1.2.3").Execute([]string{"x"}, io.Discard, io.Discard); err == nil {
		t.Fatal("expected error for unexpected arguments")
	}
}

func TestConfigCommand_SetPersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config")
	cfg := config.NewConfig()
	cmd := NewConfigCommand(cfg, path)

	var stdout bytes.Buffer
	if err := cmd.Execute([]string{config.KeyEngineMaxDepth, "16"}, &stdout, io.Discard); err != nil {
		t.Fatalf("config set returned error: %v", err)
	}

	reloaded, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}
	if v, _ := reloaded.GetGlobalOption(config.KeyEngineMaxDepth); v != "16" {
		t.Fatalf("expected persisted max depth 16, got %q", v)
	}

	stdout.Reset()
	if err := cmd.Execute([]string{config.KeyEngineMaxDepth}, &stdout, io.Discard); err != nil {
		t.Fatalf("config get returned error: %v", err)
	}
	if stdout.String() != "engine.max-depth: 16\n" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestConfigCommand_Validate(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyWorkspaceKeep, "sometimes")
	cfg.Packages = []config.PackageSpec{
		{Name: "a", Version: "1", Archive: "a.tgz"},
		{Name: "a", Version: "2", Archive: "a2.tgz"},
	}

	var stdout bytes.Buffer
	if err := NewConfigCommand(cfg, "").Execute([]string{"validate"}, &stdout, io.Discard); err != nil {
		t.Fatalf("validate returned error: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "2 issue(s)") || !strings.Contains(out, `package "a" is listed more than once`) {
		t.Fatalf("unexpected validate output:\n%s", out)
	}
}

func TestResolveLogger(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyLogLevel, "warn")
	os.Unsetenv("JSBRIDGE_LOG_LEVEL")
	os.Unsetenv("JSBRIDGE_LOG_FORMAT")

	var buf bytes.Buffer
	logger, err := resolveLogger("", "json", cfg, &buf)
	if err != nil {
		t.Fatalf("resolveLogger returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("expected only the warning as JSON, got %q", buf.String())
	}

	logger, err = resolveLogger("debug", "", cfg, &buf)
	if err != nil {
		t.Fatalf("resolveLogger returned error: %v", err)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected the flag to override the config level")
	}

	if _, err := resolveLogger("loud", "", cfg, &buf); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := resolveLogger("", "xml", cfg, &buf); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
