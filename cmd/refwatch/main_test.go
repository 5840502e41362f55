// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bassosimone/refwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

// Make sure an allowed write succeeds and reports nothing else.
func TestRunSetAllowed(t *testing.T) {
	out, err := execute(t, "run", "--path", "/users/alice", "--uid", "alice", "--value", `{"name":"Alice"}`)
	require.NoError(t, err)
	assert.Equal(t, "set: ok\n", out)
}

// Make sure a denied write is reported along with its rule trace.
func TestRunSetDeniedWithDebug(t *testing.T) {
	out, err := execute(t, "run", "--path", "/users/alice", "--uid", "bob",
		"--value", `"x"`, "--debug-permissions")
	require.Error(t, err)
	assert.Contains(t, out, "error: set(/users/alice): permission_denied: ")
	assert.Contains(t, out, " X write /users/$uid \"auth != null && auth.uid == $uid\"\n")
	assert.Contains(t, out, "Write was denied.")
}

// Make sure slow writes are reported with balanced counts.
func TestRunSlowWrite(t *testing.T) {
	out, err := execute(t, "run", "--path", "/public/x", "--uid", "alice",
		"--value", "1", "--latency", "100ms", "--slow", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "slow: count=1 delta=+1 set(/public/x) serial=")
	assert.Contains(t, out, "slow: count=0 delta=-1 set(/public/x) serial=")
}

// Make sure we load rules from a YAML file.
func TestRunRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  /:\n    read: \"false\"\n"), 0600))

	out, err := execute(t, "run", "--rules", path, "--op", "once")
	require.Error(t, err)
	assert.Contains(t, out, "error: once(/): permission_denied: ")
}

// Make sure we reject unknown operations.
func TestRunUnknownOperation(t *testing.T) {
	_, err := execute(t, "run", "--op", "frobnicate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown operation")
}

// Make sure wrapped watcher errors are still described with their trace.
func TestDescribeWrappedError(t *testing.T) {
	inner := &refwatch.Error{
		Err:   errors.New("boom"),
		Extra: refwatch.Extra{Description: "set(/a): boom", Debug: "trace"},
	}
	assert.Equal(t, "set(/a): boom\ntrace", describe(fmt.Errorf("run: %w", inner)))
	assert.Equal(t, "set(/a): boom\ntrace", describe(inner))
	assert.Equal(t, "plain", describe(errors.New("plain")))
}
