package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/config"
	"github.com/JakeFAU/edital-crawler/internal/crawler"
	memorystore "github.com/JakeFAU/edital-crawler/internal/storage/memory"
)

const sourcesYAML = `
sources:
  - id: banca-a
    name: Banca A
    listing_url: https://banca-a.example/concursos
    link_patterns: ["/concursos/"]
`

func testConfig(t *testing.T, sourcesBody string) config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sourcesBody), 0o600))
	return config.Config{
		SourcesFile: path,
		Crawler: config.CrawlerConfig{
			UserAgent:   "edital-crawler-test",
			MaxPages:    2,
			PageSize:    10,
			MaxHops:     1,
			ResolveMode: string(crawler.RenderStatic),
		},
		HTTP: config.HTTPConfig{Timeout: time.Second, HeadTimeout: time.Second, MaxRetries: 0},
		Extraction: config.ExtractionConfig{
			APIKey:   "sk-test",
			Model:    "gpt-4o-mini",
			MaxChars: 15000,
			MaxPages: 30,
		},
		DB:      config.DBConfig{Backend: config.BackendMemory},
		Cache:   config.CacheConfig{Backend: config.BackendStore},
		Storage: config.StorageConfig{Backend: config.BackendNone, Prefix: "documents"},
	}
}

func TestOpenMemoryBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	app, err := Open(ctx, testConfig(t, sourcesYAML), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	require.IsType(t, &memorystore.Store{}, app.Store())
	require.NoError(t, app.Store().Ping(ctx))
	require.NoError(t, app.Migrate(ctx))
	assert.Equal(t, config.BackendMemory, app.Config().DB.Backend)
	assert.NotNil(t, app.Logger())
}

func TestOpenRejectsMissingDSN(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, sourcesYAML)
	cfg.DB = config.DBConfig{Backend: config.BackendPostgres}
	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "posting store init failed")
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, sourcesYAML)
	cfg.DB.Backend = "sqlite"
	_, err := Open(context.Background(), cfg, nil)
	require.ErrorContains(t, err, `unknown db backend "sqlite"`)
}

func TestSourcesLoadedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t, sourcesYAML)
	app, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	reg, err := app.Sources()
	require.NoError(t, err)
	require.Equal(t, 1, reg.Len())

	require.NoError(t, os.Remove(cfg.SourcesFile))
	again, err := app.Sources()
	require.NoError(t, err)
	assert.Same(t, reg, again)
}

func TestSourcesMissingFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t, sourcesYAML)
	cfg.SourcesFile = filepath.Join(t.TempDir(), "missing.yaml")
	app, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	_, err = app.Sources()
	require.ErrorContains(t, err, "load sources")
}

func TestRunnerRequiresExtractionCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t, sourcesYAML)
	cfg.Extraction.APIKey = ""
	app, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	_, err = app.Runner(ctx)
	require.ErrorContains(t, err, "extraction service init failed")
}

func TestRunnerWiresOptionalBackends(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, "sources: []\n")
	cfg.Cache = config.CacheConfig{Backend: config.BackendRedis, Addr: mr.Addr(), Prefix: "test:"}
	cfg.Storage = config.StorageConfig{Backend: config.BackendLocal, LocalDir: t.TempDir(), Prefix: "documents"}

	app, err := Open(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	runner, err := app.Runner(ctx)
	require.NoError(t, err)
	require.NotNil(t, app.cache)

	same, err := app.Runner(ctx)
	require.NoError(t, err)
	assert.Same(t, runner, same)

	report, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Sources)
	assert.NotEmpty(t, report.RunID)
}

func TestRunnerRejectsUnknownArchive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := testConfig(t, sourcesYAML)
	cfg.Storage.Backend = "s3"
	app, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	_, err = app.Runner(ctx)
	require.ErrorContains(t, err, `unknown storage backend "s3"`)
}

func TestServeRequiresAddr(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	app, err := Open(ctx, testConfig(t, sourcesYAML), nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(ctx) })

	require.ErrorContains(t, app.Serve(ctx), "server.addr is required")
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	cfg := testConfig(t, sourcesYAML)
	cfg.Server.Addr = addr
	app, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
