package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reverseScript = `package main

func Name() string { return "reverse" }

func Evaluate(input string) (string, error) {
	runes := []rune(input)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}
`

const shoutScript = `package main

import "strings"

func Name() string { return "shout" }

func Evaluate(input string) (string, error) {
	return strings.ToUpper(input), nil
}
`

const configuredScript = `package main

import "errors"

var prefix string

func Name() string { return "prefixer" }

func Configure(cfg map[string]string) error {
	prefix = cfg["prefix"]
	if prefix == "" {
		return errors.New("prefix credential required")
	}
	return nil
}

func Evaluate(input string) (string, error) {
	return prefix + input, nil
}
`

func writeScript(t *testing.T, dir, name, code string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	return path
}

func TestDiscoverDirLoadsScripts(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reverse.go", reverseScript)
	writeScript(t, dir, "shout.go", shoutScript)

	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), dir)

	require.Empty(t, report.Failures)
	assert.ElementsMatch(t, []string{"reverse", "shout"}, report.Loaded)

	in, ok := r.GetActive("reverse")
	require.True(t, ok)
	out, err := in.Capability().Evaluate(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "cba", out)
}

func TestDiscoverDirIsolatesBrokenScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reverse.go", reverseScript)
	writeScript(t, dir, "broken.go", "package main\n\nfunc Name() string {") // syntax error
	writeScript(t, dir, "shout.go", shoutScript)

	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), dir)

	assert.Len(t, r.Active(), 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "broken", report.Failures[0].Name)
}

func TestDiscoverDirRejectsForbiddenImports(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "sneaky.go", `package main

import "os/exec"

func Name() string { return "sneaky" }

func Evaluate(input string) (string, error) {
	out, err := exec.Command("id").Output()
	return string(out), err
}
`)

	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), dir)

	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "forbidden script imports")
	assert.Empty(t, r.Active())
}

func TestDiscoverDirMissingExports(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "nameless.go", `package main

func Evaluate(input string) (string, error) { return input, nil }
`)
	writeScript(t, dir, "evalless.go", `package main

func Name() string { return "evalless" }
`)

	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), dir)

	assert.Len(t, report.Failures, 2)
	assert.Empty(t, r.Active())
}

func TestDiscoverDirConfigureHook(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "prefixer.go", configuredScript)

	// Without the credential the candidate fails in isolation.
	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), dir)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "prefix credential required")

	// With the credential it loads and applies the configuration.
	r = NewRegistry(map[string]string{"prefix": ">> "})
	report = r.DiscoverDir(context.Background(), dir)
	require.Empty(t, report.Failures)

	in, _ := r.GetActive("prefixer")
	out, err := in.Capability().Evaluate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, ">> x", out)
}

func TestDiscoverDirSkipsHelpersAndNonGo(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "_helpers.go", "package main\n\nfunc shared() {}\n")
	writeScript(t, dir, "notes.txt", "not a plugin")
	writeScript(t, dir, "reverse.go", reverseScript)

	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), dir)

	assert.Equal(t, []string{"reverse"}, report.Loaded)
	assert.Empty(t, report.Failures)
}

func TestDiscoverDirMissingDirectory(t *testing.T) {
	r := NewRegistry(nil)
	report := r.DiscoverDir(context.Background(), filepath.Join(t.TempDir(), "nope"))

	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0].Reason, "failed to read plugin directory")
}

func TestScriptHotReloadReplaces(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reverse.go", reverseScript)

	r := NewRegistry(nil)
	r.DiscoverDir(context.Background(), dir)
	require.NoError(t, r.Disable("reverse"))

	// A second pass replaces the instance but keeps it disabled.
	r.DiscoverDir(context.Background(), dir)
	assert.False(t, r.IsActive("reverse"))
	assert.Equal(t, 1, r.Count())
}

func TestScriptCapabilityDeclinesMethods(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reverse.go", reverseScript)

	r := NewRegistry(nil)
	r.DiscoverDir(context.Background(), dir)

	in, _ := r.GetActive("reverse")
	_, err := in.Capability().Execute(context.Background(), "anything", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownMethod)
}

func TestScriptPluginThroughDispatcher(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "shout.go", shoutScript)

	r := NewRegistry(nil)
	r.DiscoverDir(context.Background(), dir)
	d := NewDispatcher(r, 5*time.Second)

	out, annotations := d.Run(context.Background(), "quiet")
	assert.Equal(t, "QUIET", out)
	require.Len(t, annotations, 1)
	assert.Equal(t, "shout", annotations[0].Plugin)
}
