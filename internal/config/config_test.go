package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
log.level debug
workspace.keep yes

[engine]
engine.console off

[packages]
lodash 4.17.21 /srv/archives/lodash-4.17.21.tgz
@acme/widgets 1.2.0 /srv/my archives/widgets.tgz`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if value, ok := config.GetGlobalOption("log.level"); !ok || value != "debug" {
		t.Errorf("Expected log.level=debug, got %s (exists: %v)", value, ok)
	}

	if value, ok := config.GetSectionOption("engine", "engine.console"); !ok || value != "off" {
		t.Errorf("Expected engine.console=off, got %s (exists: %v)", value, ok)
	}

	if value, ok := config.GetSectionOption("engine", "log.level"); !ok || value != "debug" {
		t.Errorf("Expected fallback to global log.level, got %s (exists: %v)", value, ok)
	}

	want := []PackageSpec{
		{Name: "lodash", Version: "4.17.21", Archive: "/srv/archives/lodash-4.17.21.tgz"},
		{Name: "@acme/widgets", Version: "1.2.0", Archive: "/srv/my archives/widgets.tgz"},
	}
	if len(config.Packages) != len(want) {
		t.Fatalf("Expected %d packages, got %+v", len(want), config.Packages)
	}
	for i := range want {
		if config.Packages[i] != want[i] {
			t.Errorf("package %d: expected %+v, got %+v", i, want[i], config.Packages[i])
		}
	}

	if config.HasWarnings() {
		t.Errorf("Expected no warnings, got %v", config.Warnings)
	}
}

func TestEmptyConfig(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}

	if len(config.Global) != 0 || len(config.Sections) != 0 || len(config.Packages) != 0 {
		t.Errorf("Expected empty config, got %+v", config)
	}
}

func TestInvalidPackageLine(t *testing.T) {
	for _, line := range []string{
		"lodash",
		"lodash 4.17.21",
	} {
		_, err := LoadFromReader(strings.NewReader("[packages]\n" + line))
		if err == nil {
			t.Errorf("expected error for %q", line)
			continue
		}
		if !strings.Contains(err.Error(), "line 2") {
			t.Errorf("expected error to name the line, got %v", err)
		}
	}
}

func TestUnknownOptionsWarn(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("verbose true\nengine.max-depth deep\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(config.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", config.Warnings)
	}
	if !strings.Contains(config.Warnings[0], "engine.max-depth") || !strings.Contains(config.Warnings[1], "verbose") {
		t.Errorf("unexpected warnings: %v", config.Warnings)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing-config"))
	if err != nil {
		t.Fatalf("expected no error loading missing config, got %v", err)
	}

	if len(cfg.Global) != 0 || len(cfg.Packages) != 0 {
		t.Fatalf("expected empty config for missing file, got %+v", cfg)
	}
}

func TestLoadFromPathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.WriteFile(target, []byte("log.level debug"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	link := filepath.Join(dir, "config")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := LoadFromPath(link); err == nil || !strings.Contains(err.Error(), "symlink") {
		t.Fatalf("expected symlink rejection, got %v", err)
	}
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("log.format json"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv(ConfigPathEnv, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected load success, got %v", err)
	}

	if got, ok := cfg.GetGlobalOption("log.format"); !ok || got != "json" {
		t.Fatalf("expected log.format from env-config, got %q exists=%v", got, ok)
	}
}
