package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edital-crawler/internal/pipeline"
)

const testSources = `
sources:
  - id: banca-a
    name: Banca A
    listing_url: https://banca-a.example/concursos
  - id: banca-b
    listing_url: https://banca-b.example/editais
    render_mode: headless
`

func writeTestConfig(t *testing.T, sourcesBody string) string {
	t.Helper()
	dir := t.TempDir()
	sourcesPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sourcesPath, []byte(sourcesBody), 0o600))
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "db:\n  backend: memory\n" +
		"logging:\n  level: error\n" +
		"extraction:\n  api_key: sk-test\n" +
		"sources_file: " + sourcesPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSourcesCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "sources", "--config", writeTestConfig(t, testSources))
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "banca-a")
	assert.Contains(t, out, "Banca A")
	assert.Contains(t, out, "headless")
}

func TestReviewsCommandEmpty(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, testSources)
	out, err := execute(t, "reviews", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "STAGE")

	out, err = execute(t, "reviews", "--json", "--config", cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestReviewsCommandRejectsBadSince(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "reviews", "--since", "last week", "--config", writeTestConfig(t, testSources))
	require.ErrorContains(t, err, "--since")
}

func TestMigrateCommandMemoryBackend(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "migrate", "--config", writeTestConfig(t, testSources))
	require.NoError(t, err)
}

func TestRunCommandPrintsReport(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "run", "--config", writeTestConfig(t, "sources: []\n"))
	require.NoError(t, err)

	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Sources)
}

func TestDiscoverCommandUnknownSource(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "discover", "nobody", "--config", writeTestConfig(t, testSources))
	require.ErrorContains(t, err, `source "nobody"`)
}

func TestExtractCommandValidation(t *testing.T) {
	t.Parallel()

	cfg := writeTestConfig(t, testSources)
	_, err := execute(t, "extract", "abc", "--config", cfg)
	require.ErrorContains(t, err, "positive integer")

	_, err = execute(t, "extract", "42", "--config", cfg)
	require.ErrorContains(t, err, "load posting 42")
}

func TestMissingConfigFile(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "sources", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "failed to initialize application services")
}

func TestParseSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	got, err := parseSince("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseSince("2025-03-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseSince("-1h", now)
	require.Error(t, err)
}

func TestOneLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "resolve: no document found", oneLine("resolve:\n  no document\tfound"))
	long := oneLine(string(bytes.Repeat([]byte("a"), 300)))
	assert.Len(t, long, 160)
}
