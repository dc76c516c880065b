package command

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joeycumines/jsbridge/internal/bridge"
	"github.com/joeycumines/jsbridge/internal/config"
	"github.com/joeycumines/jsbridge/internal/testutil"
	"github.com/stretchr/testify/require"
)

const calcSource = `'use strict';
class Counter {
	constructor(start) { this.count = start; }
	increment() { return ++this.count; }
	self() { return this; }
}
class Util {
	static same(a, b) { return a === b; }
	static sum(...xs) { return xs.reduce((a, b) => a + b, 0); }
	static keys(record) { return Object.keys(record); }
}
Util.answer = 42;
module.exports = { Counter, Util };
`

// testConfig returns a config that loads calc and keeps workspaces under
// a test directory.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyWorkspaceParent, t.TempDir())
	cfg.Packages = append(cfg.Packages, config.PackageSpec{
		Name:    "calc",
		Version: "0.1.0",
		Archive: testutil.WriteArchive(t, testutil.Archive{
			Name:    "calc",
			Version: "0.1.0",
			Files:   map[string]string{"index.js": calcSource},
		}),
	})
	return cfg
}

func testRegistry(cfg *config.Config) *Registry {
	r := NewRegistry()
	r.Register(NewHelpCommand(r))
	r.Register(NewCreateCommand(cfg))
	r.Register(NewCallStaticCommand(cfg))
	r.Register(NewGetStaticCommand(cfg))
	r.Register(NewExecCommand(cfg))
	return r
}

func TestExec(t *testing.T) {
	cfg := testConfig(t)
	steps := filepath.Join(t.TempDir(), "steps.jsonl")
	require.NoError(t, os.WriteFile(steps, []byte(`
{"op":"create","fqn":"calc.Counter","args":[5],"as":"c"}
{"op":"call","target":"c","method":"increment","expect":"result == 6"}
{"op":"set","target":"c","property":"count","value":10}
{"op":"get","target":"c","property":"count"}
{"op":"callStatic","fqn":"calc.Util","method":"same","args":[{"$ref":"c"},{"$ref":"c"}]}
{"op":"call","target":"c","method":"self","expect":"result['$ref'] == 'c'"}
{"op":"getStatic","fqn":"calc.Util","property":"answer"}
{"op":"callStatic","fqn":"calc.Util","method":"keys","args":[{"b":1,"a":{"$ref":"c"}}]}
`), 0o644))

	var stdout, stderr bytes.Buffer
	require.NoError(t, testRegistry(cfg).Run([]string{"exec", steps}, &stdout, &stderr), stderr.String())
	require.Equal(t, strings.Join([]string{
		`{"step":1,"op":"create","result":{"$ref":"c"}}`,
		`{"step":2,"op":"call","result":6}`,
		`{"step":3,"op":"set"}`,
		`{"step":4,"op":"get","result":10}`,
		`{"step":5,"op":"callStatic","result":true}`,
		`{"step":6,"op":"call","result":{"$ref":"c"}}`,
		`{"step":7,"op":"getStatic","result":42}`,
		`{"step":8,"op":"callStatic","result":["a","b"]}`,
	}, "\n")+"\n", stdout.String())
}

func TestExec_StopsAtFirstFailure(t *testing.T) {
	cfg := testConfig(t)
	in := strings.NewReader(`{"op":"create","fqn":"calc.Missing"}
{"op":"getStatic","fqn":"calc.Util","property":"answer"}`)

	var out bytes.Buffer
	r := testRegistry(cfg)
	cmd, err := r.Get("exec")
	require.NoError(t, err)
	sc := cmd.(*sessionCommand)
	s, err := sc.session.open(&bytes.Buffer{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	err = runSteps(s, in, &out)
	require.ErrorIs(t, err, bridge.ErrConstruction)

	var res stepResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Equal(t, 1, res.Step)
	require.Contains(t, res.Error, "Missing")
}

func TestExec_ExpectFails(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	err := testRegistry(cfg).Run([]string{"exec", writeSteps(t, `{"op":"getStatic","fqn":"calc.Util","property":"answer","expect":"result > 100"}
{"op":"getStatic","fqn":"calc.Util","property":"answer"}`)}, &out, &bytes.Buffer{})
	require.ErrorContains(t, err, "not satisfied by 42")
	require.Equal(t, 1, strings.Count(out.String(), "\n"), "execution stops at the failed expectation")
	require.Contains(t, out.String(), `"result":42`)
}

func TestExec_UnboundTarget(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	err := testRegistry(cfg).Run([]string{"exec", "-no-preload", writeSteps(t, `{"op":"get","target":"x","property":"y"}`)}, &out, &bytes.Buffer{})
	require.ErrorContains(t, err, `unbound target "x"`)
}

func writeSteps(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steps.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestCallStaticCommand(t *testing.T) {
	cfg := testConfig(t)
	var stdout bytes.Buffer
	err := testRegistry(cfg).Run([]string{"call-static", "calc.Util", "sum", "1", "2", "3.5"}, &stdout, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "6.5\n", stdout.String())

	err = testRegistry(cfg).Run([]string{"call-static", "calc.Util", "sum", "{not json"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorIs(t, err, bridge.ErrConversion)
}

func TestGetStaticCommand(t *testing.T) {
	cfg := testConfig(t)
	var stdout bytes.Buffer
	require.NoError(t, testRegistry(cfg).Run([]string{"get-static", "calc.Util", "answer"}, &stdout, &bytes.Buffer{}))
	require.Equal(t, "42\n", stdout.String())

	err := testRegistry(cfg).Run([]string{"get-static", "calc.Util"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.ErrorContains(t, err, "expected at least 2 arguments")
}

func TestCreateCommand(t *testing.T) {
	cfg := testConfig(t)
	var stdout bytes.Buffer
	require.NoError(t, testRegistry(cfg).Run([]string{"create", "calc.Counter", "1"}, &stdout, &bytes.Buffer{}))

	var out map[string]string
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	require.Len(t, out[refKey], 36, "unbound handles print their identity")
}

func TestLoadFlag(t *testing.T) {
	t.Parallel()
	archive := testutil.WriteArchive(t, testutil.Archive{
		Name:    "@acme/tiny",
		Version: "2.0.0",
		Files:   map[string]string{"index.js": "exports.Box = class Box {}; exports.Box.size = 3;"},
	})

	var stdout bytes.Buffer
	err := testRegistry(config.NewConfig()).Run([]string{
		"get-static",
		"-workspace", filepath.Join(t.TempDir(), "ws"),
		"-load", "@acme/tiny@2.0.0=" + archive,
		"@acme/tiny#Box", "size",
	}, &stdout, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, "3\n", stdout.String())
}

func TestParseLoadFlag(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		in   string
		want config.PackageSpec
		ok   bool
	}{
		{"lodash@4.17.21=/a/lodash.tgz", config.PackageSpec{Name: "lodash", Version: "4.17.21", Archive: "/a/lodash.tgz"}, true},
		{"@s/n@1.0.0=x=y.tgz", config.PackageSpec{Name: "@s/n", Version: "1.0.0", Archive: "x=y.tgz"}, true},
		{"lodash=/a.tgz", config.PackageSpec{}, false},
		{"lodash@=/a.tgz", config.PackageSpec{}, false},
		{"@1.0.0=/a.tgz", config.PackageSpec{}, false},
		{"lodash@1.0.0", config.PackageSpec{}, false},
	} {
		got, err := parseLoadFlag(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}
