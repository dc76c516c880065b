package main

import (
	"bytes"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/jsbridge/internal/command"
	"github.com/joeycumines/jsbridge/internal/config"
)

func TestRun(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, filepath.Join(t.TempDir(), "config"))

	for _, tc := range []struct {
		name string
		args []string
		want string
	}{
		{"no command shows help", nil, "Commands:"},
		{"help flag", []string{"--help"}, "Commands:"},
		{"version", []string{"version"}, "jsbridge version " + version},
		{"config path", []string{"config", "path"}, os.Getenv(config.ConfigPathEnv)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var stdout bytes.Buffer
			if err := run(tc.args, &stdout, &bytes.Buffer{}); err != nil {
				t.Fatalf("run returned error: %v", err)
			}
			if !strings.Contains(stdout.String(), tc.want) {
				t.Fatalf("expected %q in output, got %q", tc.want, stdout.String())
			}
		})
	}
}

func TestRunErrors(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, filepath.Join(t.TempDir(), "config"))

	if err := run([]string{"frobnicate"}, &bytes.Buffer{}, &bytes.Buffer{}); !errors.Is(err, command.ErrUnknownCommand) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
	if err := run([]string{"exec", "-h"}, &bytes.Buffer{}, &bytes.Buffer{}); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected flag.ErrHelp, got %v", err)
	}
}

func TestRunRejectsSymlinkedConfig(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.WriteFile(target, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "config")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	t.Setenv(config.ConfigPathEnv, link)

	if err := run([]string{"version"}, &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected symlinked config to be rejected")
	}
}
