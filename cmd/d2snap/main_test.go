package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperifyio/d2snap/internal/adaptive"
	"github.com/hyperifyio/d2snap/internal/app"
	"github.com/hyperifyio/d2snap/internal/snapshot"
)

const calculator = `<main><h1>Calculator</h1><div><input/><button>Solve</button></div></main>`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--cache.dir", filepath.Join(t.TempDir(), "cache")))
	err := cmd.Execute()
	return out.String(), err
}

func writeInput(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "calc.html")
	require.NoError(t, os.WriteFile(p, []byte(calculator), 0o644))
	return p
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(fmt.Errorf("a.html: %w", adaptive.ErrBudgetUnreachable)))
	assert.Equal(t, 2, exitCode(fmt.Errorf("config: %w", snapshot.ErrInvalidParameter)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestSnapshot_File(t *testing.T) {
	out, err := execute(t, "", "snapshot", "--assign-ids", writeInput(t))
	require.NoError(t, err)
	assert.Equal(t, "<main data-uid=\"0\"># Calculator\n<div data-uid=\"1\"><input data-uid=\"2\"/><button data-uid=\"3\">Solve</button></div></main>\n", out)
}

func TestSnapshot_StdinByDefault(t *testing.T) {
	out, err := execute(t, calculator, "snapshot", "--k", "linearize")
	require.NoError(t, err)
	assert.Contains(t, out, "# Calculator")
	assert.NotContains(t, out, "<main")
}

func TestSnapshot_JSON(t *testing.T) {
	in := writeInput(t)
	out, err := execute(t, "", "snapshot", "--format", "json", "--l", "0", in)
	require.NoError(t, err)

	var res app.Output
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, in, res.Source)
	require.NotNil(t, res.Parameters)
	assert.Equal(t, 0.0, res.Parameters.L)
	assert.Equal(t, 0.6, res.Parameters.M)
}

func TestSnapshot_InvalidParameter(t *testing.T) {
	_, err := execute(t, "", "snapshot", "--m", "1.5", writeInput(t))
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestAdaptive_Unreachable(t *testing.T) {
	_, err := execute(t, "", "adaptive", "--max-tokens", "1", "--max-attempts", "2", writeInput(t))
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestAdaptive_ReserveExceedsModel(t *testing.T) {
	_, err := execute(t, "", "adaptive", "--model", "gpt-oss-20b", "--reserve", "4096", writeInput(t))
	require.ErrorIs(t, err, adaptive.ErrBudgetUnreachable)
	assert.Equal(t, 2, exitCode(err))
}

func TestAdaptive_Fits(t *testing.T) {
	out, err := execute(t, "", "adaptive", "--max-tokens", "500", "--format", "json", writeInput(t))
	require.NoError(t, err)
	var res app.Output
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.GreaterOrEqual(t, res.Attempts, 1)
	assert.LessOrEqual(t, res.Meta.EstimatedTokens, 500)
}

func TestSnapshot_MissingFile(t *testing.T) {
	_, err := execute(t, "", "snapshot", filepath.Join(t.TempDir(), "nope.html"))
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

// Flags win over the environment, which wins over the config file.
func TestPrecedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "d2snap.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("format: html\nsnapshot:\n  l: 0.1\n  m: 0.2\n"), 0o644))
	t.Setenv("D2SNAP_M", "0.3")
	t.Setenv("D2SNAP_L", "")

	out, err := execute(t, "", "snapshot", "--config", cfgPath, "--format", "json", writeInput(t))
	require.NoError(t, err)

	var res app.Output
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.NotNil(t, res.Parameters)
	assert.Equal(t, 0.1, res.Parameters.L, "file beats default")
	assert.Equal(t, 0.3, res.Parameters.M, "env beats file")
	assert.Equal(t, 0.4, res.Parameters.K.Value())
}

func TestCacheClear(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "snapshots"), 0o755))
	stale := filepath.Join(dir, "snapshots", "k.json")
	require.NoError(t, os.WriteFile(stale, []byte("{}"), 0o644))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"cache", "clear", "--cache.dir", dir})
	require.NoError(t, cmd.Execute())
	_, err := os.Stat(stale)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCachePurge_NeedsAge(t *testing.T) {
	_, err := execute(t, "", "cache", "purge")
	assert.Error(t, err)

	out, err := execute(t, "", "cache", "purge", "--max-age", "1h")
	require.NoError(t, err)
	assert.Equal(t, "removed 0 entries\n", out)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, app.VersionString()+"\n", out)
}

func TestServe_PrivateHostsNeedFlag(t *testing.T) {
	tests := map[string]struct {
		args []string
		want bool
	}{
		"default":       {nil, false},
		"flag":          {[]string{"--allow-private-hosts"}, true},
		"flag disabled": {[]string{"--allow-private-hosts=false"}, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			serve, _, err := newRootCmd().Find([]string{"serve"})
			require.NoError(t, err)
			require.NoError(t, serve.ParseFlags(tc.args))
			assert.Equal(t, tc.want, privateHostsOptIn(serve))
		})
	}
	assert.True(t, app.DefaultConfig().AllowPrivateHosts, "one-shot commands keep the permissive default")
}
