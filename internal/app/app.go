// Package app builds the long-lived services from configuration and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/edital-crawler/internal/api"
	rediscache "github.com/JakeFAU/edital-crawler/internal/cache/redis"
	"github.com/JakeFAU/edital-crawler/internal/classify"
	"github.com/JakeFAU/edital-crawler/internal/config"
	"github.com/JakeFAU/edital-crawler/internal/crawler"
	"github.com/JakeFAU/edital-crawler/internal/document"
	"github.com/JakeFAU/edital-crawler/internal/extractor"
	"github.com/JakeFAU/edital-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/edital-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/edital-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/edital-crawler/internal/hash/sha256"
	"github.com/JakeFAU/edital-crawler/internal/headless/detector"
	"github.com/JakeFAU/edital-crawler/internal/id/uuid"
	"github.com/JakeFAU/edital-crawler/internal/listing"
	"github.com/JakeFAU/edital-crawler/internal/llm/openai"
	"github.com/JakeFAU/edital-crawler/internal/metrics"
	"github.com/JakeFAU/edital-crawler/internal/pipeline"
	"github.com/JakeFAU/edital-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/edital-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/edital-crawler/internal/resolver"
	"github.com/JakeFAU/edital-crawler/internal/sources"
	gcsstorage "github.com/JakeFAU/edital-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/edital-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/edital-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/edital-crawler/internal/storage/postgres"
	"github.com/JakeFAU/edital-crawler/internal/telemetry"
)

// Store is everything the application needs from the posting store.
type Store interface {
	pipeline.Store
	crawler.ReviewQueue
	crawler.ValidatorStore
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store    Store
	pg       *pgstore.Store
	registry *sources.Registry

	runnerOnce sync.Once
	runner     *pipeline.Runner
	runnerErr  error

	headless     *headlessfetcher.Fetcher
	cache        *rediscache.Cache
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	tracer       *sdktrace.TracerProvider
}

// Open connects the posting store and tracing. The rest of the pipeline is built
// on first use by Runner, so light commands never need the extraction service.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("db_backend", cfg.DB.Backend),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitTracing(ctx, telemetry.Config{
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     cfg.Telemetry.Version,
			ProjectID:   cfg.Telemetry.ProjectID,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracer = tp
	}

	if err := setupStore(ctx, app); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Store returns the posting store, which is also the review queue.
func (a *App) Store() Store {
	return a.store
}

// Sources loads the source registry once.
func (a *App) Sources() (*sources.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := sources.Load(a.cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	a.logger.Info("sources loaded", zap.String("path", a.cfg.SourcesFile), zap.Int("count", reg.Len()))
	a.registry = reg
	return reg, nil
}

// Migrate applies the Postgres schema. The memory backend has nothing to migrate.
func (a *App) Migrate(ctx context.Context) error {
	if a.pg == nil {
		a.logger.Info("memory backend selected, nothing to migrate")
		return nil
	}
	if err := a.pg.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated")
	return nil
}

// Runner builds the pipeline on first call.
func (a *App) Runner(ctx context.Context) (*pipeline.Runner, error) {
	a.runnerOnce.Do(func() {
		a.runner, a.runnerErr = buildRunner(ctx, a)
	})
	return a.runner, a.runnerErr
}

// Serve runs the operations API until ctx is canceled. Runs started over HTTP
// are canceled with it and awaited before Serve returns.
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Server.Addr == "" {
		return errors.New("server.addr is required to serve")
	}
	runner, err := a.Runner(ctx)
	if err != nil {
		return err
	}
	reg, err := a.Sources()
	if err != nil {
		return err
	}
	metrics.Init()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	apiServer := api.NewServer(ctx, api.Deps{
		Runner:  runner,
		Store:   a.store,
		Reviews: a.store,
		Sources: reg,
	}, api.Config{APIKey: a.cfg.Server.APIKey}, a.logger.Named("api"))

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}
	a.logger.Info("shutdown initiated")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error("server shutdown error", zap.Error(serr))
	}
	apiServer.Wait()
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Close releases every client the application opened.
func (a *App) Close(ctx context.Context) {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func setupStore(ctx context.Context, app *App) error {
	switch app.cfg.DB.Backend {
	case config.BackendMemory:
		app.logger.Info("using in-memory posting store")
		app.store = memorystore.NewStore()
		return nil
	case config.BackendPostgres:
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:             app.cfg.DB.DSN,
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
		}, app.logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("posting store init failed: %w", err)
		}
		app.pg = pg
		app.store = pg
		if app.cfg.DB.AutoMigrate {
			if err := app.Migrate(ctx); err != nil {
				return err
			}
		}
		app.logger.Info("postgres posting store initialized", zap.Int32("max_conns", app.cfg.DB.MaxConns))
		return nil
	default:
		return fmt.Errorf("unknown db backend %q", app.cfg.DB.Backend)
	}
}

func setupValidators(app *App) (crawler.ValidatorStore, error) {
	switch app.cfg.Cache.Backend {
	case config.BackendRedis:
		app.cache = rediscache.New(rediscache.Options{
			Addr:     app.cfg.Cache.Addr,
			Password: app.cfg.Cache.Password,
			DB:       app.cfg.Cache.DB,
			Prefix:   app.cfg.Cache.Prefix,
			TTL:      app.cfg.Cache.TTL,
		})
		app.logger.Info("using redis validator cache", zap.String("addr", app.cfg.Cache.Addr))
		return app.cache, nil
	case config.BackendStore, "":
		return app.store, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", app.cfg.Cache.Backend)
	}
}

func setupArchive(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		var err error
		app.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.gcsClient, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving documents to GCS", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case config.BackendLocal:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving documents locally", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	case config.BackendNone, "":
		app.logger.Debug("document archive disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", app.cfg.Storage.Backend)
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if !app.cfg.PubSub.Enabled {
		app.logger.Debug("pubsub disabled, extraction events are not published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(app.pubsubClient)
	app.logger.Info("pubsub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupFetchLayer(app *App) *fetcher.Layer {
	cfg := app.cfg
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       cfg.HTTP.Timeout,
		HeadTimeout:   cfg.HTTP.HeadTimeout,
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
	})
	opts := []fetcher.Option{
		fetcher.WithBlockDetector(detector.NewBlock(cfg.Detector.BlockKeywords, cfg.Detector.BlockSelectors)),
		fetcher.WithPromoter(detector.NewHeuristic(cfg.Detector.PromotionThreshold, cfg.Detector.RequiredSelectors...)),
		fetcher.WithRetryPolicy(crawler.NewExponentialRetryPolicy(
			cfg.HTTP.MaxRetries, cfg.HTTP.BackoffInitial, cfg.HTTP.BackoffMax,
		)),
		fetcher.WithLimiter(ratelimit.New(ratelimit.Config{RPS: cfg.HTTP.HostRPS, Burst: cfg.HTTP.HostBurst})),
	}
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
			SettleTime:        cfg.Headless.SettleTime,
			DomainQPS:         cfg.Headless.DomainQPS,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			app.logger.Warn("headless fetcher init failed, headless sources will fail", zap.Error(err))
		} else {
			app.headless = headless
			opts = append(opts, fetcher.WithHeadless(headless))
			app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}
	return fetcher.New(static, app.logger.Named("fetcher"), opts...)
}

func buildRunner(ctx context.Context, app *App) (*pipeline.Runner, error) {
	cfg := app.cfg
	reg, err := app.Sources()
	if err != nil {
		return nil, err
	}
	validators, err := setupValidators(app)
	if err != nil {
		return nil, err
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	service, err := openai.New(openai.Config{
		Endpoint:    cfg.Extraction.Endpoint,
		APIKey:      cfg.Extraction.APIKey,
		Model:       cfg.Extraction.Model,
		Temperature: cfg.Extraction.Temperature,
		Timeout:     cfg.Extraction.Timeout,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("extraction service init failed: %w", err)
	}

	layer := setupFetchLayer(app)
	pauser := crawler.TimerPauser{}
	topic := ""
	if publisher != nil {
		topic = cfg.PubSub.TopicName
	}

	runner, err := pipeline.New(pipeline.Deps{
		Sources:    reg,
		Store:      app.store,
		Reviews:    app.store,
		Validators: validators,
		Listing: listing.New(layer, pauser, listing.Config{
			MaxPages:     cfg.Crawler.MaxPages,
			PageDelay:    cfg.Crawler.PageDelay,
			PageSize:     cfg.Crawler.PageSize,
			MinPageBytes: cfg.Crawler.MinPageBytes,
		}, app.logger.Named("listing")),
		Classifier: classify.New(cfg.Classifier),
		Resolver: resolver.New(layer, resolver.Config{
			MaxHops: cfg.Crawler.MaxHops,
			Mode:    crawler.RenderMode(cfg.Crawler.ResolveMode),
		}, app.logger.Named("resolver")),
		Fetcher: layer,
		Text: document.New(document.Config{
			MaxPages: cfg.Extraction.MaxPages,
			Markers:  cfg.Extraction.Markers,
		}, app.logger.Named("document")),
		Extractor: extractor.New(service, extractor.Config{MaxChars: cfg.Extraction.MaxChars},
			app.logger.Named("extractor")),
		Hasher:    sha256.New(),
		IDs:       uuid.New(),
		Clock:     crawler.SystemClock{},
		Pauser:    pauser,
		Archive:   archive,
		Publisher: publisher,
	}, pipeline.Config{
		PostingDelay:        cfg.Pipeline.PostingDelay,
		PersistUndocumented: cfg.Pipeline.PersistUndocumented,
		Sentinel:            cfg.Pipeline.Sentinel,
		ArchivePrefix:       cfg.Storage.Prefix,
		Topic:               topic,
	}, app.logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}
	return runner, nil
}
