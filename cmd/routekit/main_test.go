package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routekit/internal/project"
	"routekit/internal/subscribe"
	"routekit/internal/trace"
	"routekit/internal/version"
	"routekit/internal/wire"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newProjectCmd(t *testing.T, args ...string) (*cobra.Command, *projectFlags) {
	t.Helper()
	f := &projectFlags{}
	cmd := &cobra.Command{Use: "test"}
	f.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, f
}

func TestReadUIMode(t *testing.T) {
	mode, err := readUIMode(" ON ")
	require.NoError(t, err)
	assert.Equal(t, uiModeOn, mode)
	mode, err = readUIMode("")
	require.NoError(t, err)
	assert.Equal(t, uiModeAuto, mode)
	_, err = readUIMode("sometimes")
	assert.Error(t, err)

	assert.False(t, shouldUseTUI(uiModeOn, "json", true))
	assert.True(t, shouldUseTUI(uiModeOn, formatPretty, false))
}

func TestParseLogLevel(t *testing.T) {
	level, err := parseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
	level, err = parseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
	_, err = parseLogLevel("loud")
	assert.Error(t, err)
}

func TestResolveProjectConfigLayers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, project.ManifestName), `
[project]
path = "web"
watch = true
memory_limit = 4096

[next]
page_extensions = ["mdx"]
`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "web"), 0o755))

	t.Setenv(envMemoryLimit, "8192")
	cmd, f := newProjectCmd(t, "--watch=false")
	cfg, err := resolveProjectConfig(cmd, filepath.Join(dir, "web"), f)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.RootPath)
	assert.Equal(t, filepath.Join(dir, "web"), cfg.ProjectPath)
	assert.False(t, cfg.Watch, "flag overrides manifest")
	require.NotNil(t, cfg.MemoryLimit)
	assert.Equal(t, uint64(8192), *cfg.MemoryLimit, "environment overrides manifest")
	assert.JSONEq(t, `{"pageExtensions": ["mdx"]}`, cfg.NextConfig)
}

func TestResolveProjectConfigKeepsExplicitZeroLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, project.ManifestName), "[project]\nmemory_limit = 0\n")
	t.Setenv(envMemoryLimit, "")

	cmd, f := newProjectCmd(t)
	cfg, err := resolveProjectConfig(cmd, dir, f)
	require.NoError(t, err)
	require.NotNil(t, cfg.MemoryLimit)
	assert.Zero(t, *cfg.MemoryLimit)

	_, err = project.Open(cfg, project.Options{})
	var initErr *project.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "memoryLimit", initErr.Field)
}

func TestResolveProjectConfigWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	nextConfig := filepath.Join(t.TempDir(), "next.json")
	writeFile(t, nextConfig, `{"pageExtensions": ["tsx"]}`)

	cmd, f := newProjectCmd(t, "--next-config", nextConfig, "--memory-limit", "1024")
	cfg, err := resolveProjectConfig(cmd, dir, f)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.RootPath)
	assert.Equal(t, dir, cfg.ProjectPath)
	assert.False(t, cfg.Watch)
	assert.Equal(t, uint64(1024), *cfg.MemoryLimit)
	assert.JSONEq(t, `{"pageExtensions": ["tsx"]}`, cfg.NextConfig)
}

func TestStreamEntrypointsJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "pages", "index.tsx"), "")
	p, err := project.Open(project.Config{RootPath: dir, ProjectPath: dir}, project.Options{})
	require.NoError(t, err)
	defer p.Close()

	sub, err := subscribe.Entrypoints(context.Background(), p, subscribe.Options{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, streamEntrypoints(&out, "json", sub, false))

	var u wire.Update
	require.NoError(t, json.Unmarshal(out.Bytes(), &u))
	assert.Equal(t, uint64(1), u.Seq)
	require.NotNil(t, u.Payload)
	require.Len(t, u.Payload.Routes, 1)
	assert.Equal(t, "/", u.Payload.Routes[0].Pathname)
}

func TestPrintPretty(t *testing.T) {
	id := uint64(7)
	var out bytes.Buffer
	printPretty(&out, wire.Update{Seq: 1, Payload: &wire.Entrypoints{
		Routes:     []wire.Route{{Pathname: "/api/a", Type: "page-api", Endpoint: &id}},
		Middleware: &wire.Middleware{Endpoint: 8, Runtime: "nodejs", Matcher: []string{"/a"}},
	}}, false)
	assert.Contains(t, out.String(), "/api/a")
	assert.Contains(t, out.String(), "endpoint#7")
	assert.Contains(t, out.String(), "runtime=nodejs matcher=/a")

	out.Reset()
	printPretty(&out, wire.Update{Seq: 2, Error: &wire.ErrorPayload{Kind: "transient", Message: "boom"}}, true)
	assert.Contains(t, out.String(), "update 2")
	assert.Contains(t, out.String(), "boom")
}

func TestRenderVersionJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderVersionJSON(&out, version.Info{Version: "1.0.0"}, versionOptions{showHash: true}))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	assert.Equal(t, "routekit", payload["tool"])
	assert.Equal(t, "1.0.0", payload["version"])
	assert.Equal(t, "unknown", payload["git_commit"])
	_, hasDate := payload["build_date"]
	assert.False(t, hasDate)
}

func TestDumpRingToFile(t *testing.T) {
	ring := trace.NewRingTracer(4, trace.LevelSummary)
	span, _ := trace.Start(trace.WithTracer(context.Background(), ring), trace.ScopeSession, "open")
	span.End("ok")

	path := filepath.Join(t.TempDir(), "trace.ndjson")
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, dumpRing(cmd, ring, path, trace.FormatAuto))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"open"`)
}
