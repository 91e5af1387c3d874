// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/api"
	memorycache "github.com/JakeFAU/crawlsearch/internal/cache/memory"
	rediscache "github.com/JakeFAU/crawlsearch/internal/cache/redis"
	"github.com/JakeFAU/crawlsearch/internal/clock/system"
	"github.com/JakeFAU/crawlsearch/internal/config"
	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/dedup"
	"github.com/JakeFAU/crawlsearch/internal/dispatcher"
	"github.com/JakeFAU/crawlsearch/internal/extract"
	"github.com/JakeFAU/crawlsearch/internal/fetcher/headless"
	"github.com/JakeFAU/crawlsearch/internal/id/uuid"
	"github.com/JakeFAU/crawlsearch/internal/indexer"
	"github.com/JakeFAU/crawlsearch/internal/links"
	"github.com/JakeFAU/crawlsearch/internal/logging"
	memorypublisher "github.com/JakeFAU/crawlsearch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/crawlsearch/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/crawlsearch/internal/queue/memory"
	"github.com/JakeFAU/crawlsearch/internal/scheduler"
	"github.com/JakeFAU/crawlsearch/internal/search"
	gcsstorage "github.com/JakeFAU/crawlsearch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawlsearch/internal/storage/local"
	memorystorage "github.com/JakeFAU/crawlsearch/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawlsearch/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/crawlsearch/internal/storage/sqlite"
	"github.com/JakeFAU/crawlsearch/internal/telemetry"
	"github.com/JakeFAU/crawlsearch/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     crawler.Store
	renderer  *headless.Renderer
	indexer   *indexer.Indexer
	engine    *search.Engine
	queue     *queuememory.Queue
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	memCache        *memorycache.Cache
	redisClient     *goredis.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
	tracerShutdown  telemetry.ShutdownFunc

	closeOnce sync.Once
}

// Build creates the application's dependencies. On error, everything built so far is
// closed before returning.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(ctx)
		}
	}()

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		ProjectID:      cfg.Telemetry.TraceProjectID,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	logger.Info("building application dependencies",
		zap.String("database", cfg.Database.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("scheduler", cfg.Crawler.SchedulerEnabled),
	)
	clock := system.New()

	if app.store, err = setupDatabase(ctx, app, clock); err != nil {
		return nil, err
	}
	cache, err := setupCache(ctx, app, clock)
	if err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupIndexer(app, blobStore, publisher, clock); err != nil {
		return nil, err
	}

	app.engine = search.NewEngine(app.store, cache, search.Config{
		MaxPageSize: cfg.Search.MaxPageSize,
		CacheTTL:    cfg.Search.CacheTTL,
	}, logger)

	app.queue = queuememory.NewQueue(cfg.Crawler.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		workers = append(workers, worker.New(
			app.queue,
			app.indexer,
			worker.Config{TaskTimeout: cfg.Crawler.TaskTimeout},
			logger.With(zap.Int("index", i)),
		))
	}
	app.dispatch = dispatcher.New(app.queue, workers, uuid.New(), clock, logger)

	if cfg.Crawler.SchedulerEnabled {
		app.scheduler = scheduler.New(app.store, app.indexer, scheduler.Config{
			Interval:   cfg.Crawler.Interval,
			BatchSize:  cfg.Crawler.BatchSize,
			URLTimeout: cfg.Crawler.URLTimeout,
		}, logger)
	}

	app.apiServer = api.NewServer(app.dispatch, app.engine, app.store, app.store, api.Config{
		DefaultPageSize: cfg.Search.DefaultPageSize,
		CORSOrigin:      cfg.Server.CORSOrigin,
		RequestTimeout:  cfg.Server.RequestTimeout,
	}, logger)

	return app, nil
}

// IndexURL indexes one URL synchronously, bypassing the queue.
func (a *App) IndexURL(ctx context.Context, url string) (indexer.Result, error) {
	return a.indexer.Index(ctx, url)
}

// Search runs a query through the search engine and its cache.
func (a *App) Search(ctx context.Context, q search.Query) (crawler.SearchResult, error) {
	return a.engine.Search(ctx, q)
}

// Handler returns the HTTP handler of the API server.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run starts the workers, the scheduler and the HTTP server and blocks until ctx is
// cancelled or a termination signal arrives. It closes the App before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))
		a.dispatch.Run(ctx)
	}()

	if a.memCache != nil {
		go a.memCache.RunSweeper(ctx, a.cfg.Cache.SweepInterval)
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			stop()
			<-dispatchDone
			_ = a.Close(context.Background())
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	return closeErr
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close stops background work and releases every client the App opened. Only the first
// call has an effect.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.scheduler != nil {
			a.scheduler.Stop(ctx)
		}
		if a.queue != nil {
			a.queue.Close()
		}
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
		if err := a.logger.Sync(); err != nil {
			// Syncing stderr fails with EINVAL on some platforms.
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
	})
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
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
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func setupDatabase(ctx context.Context, app *App, clock crawler.Clock) (crawler.Store, error) {
	dbCfg := app.cfg.Database
	switch dbCfg.Backend {
	case config.BackendPostgres:
		st, err := pgstore.Open(ctx, pgstore.Config{
			DSN:             dbCfg.DSN,
			MaxConns:        dbCfg.MaxConns,
			MinConns:        dbCfg.MinConns,
			MaxConnLifetime: dbCfg.MaxConnLifetime,
			Migrate:         dbCfg.Migrate,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.logger.Info("using postgres store", zap.Int32("max_conns", dbCfg.MaxConns))
		return st, nil
	case config.BackendSQLite:
		st, err := sqlitestore.Open(ctx, dbCfg.SQLitePath, clock)
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.logger.Info("using sqlite store", zap.String("path", dbCfg.SQLitePath))
		return st, nil
	default:
		app.logger.Warn("using in-memory store, pages are lost on restart")
		return memorystorage.NewStore(clock), nil
	}
}

func setupCache(ctx context.Context, app *App, clock crawler.Clock) (crawler.ResultCache, error) {
	if !app.cfg.Search.CacheEnabled {
		app.logger.Info("search result cache disabled")
		return nil, nil
	}
	if app.cfg.Cache.Backend == config.BackendRedis {
		client, err := rediscache.NewClient(ctx, rediscache.Config{
			Address:  app.cfg.Cache.RedisAddress,
			Password: app.cfg.Cache.RedisPassword,
			DB:       app.cfg.Cache.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		app.redisClient = client
		app.logger.Info("using redis result cache", zap.String("address", app.cfg.Cache.RedisAddress))
		return rediscache.New(client, app.cfg.Cache.KeyPrefix, app.logger), nil
	}
	app.memCache = memorycache.New(clock)
	app.logger.Info("using in-memory result cache", zap.Duration("ttl", app.cfg.Search.CacheTTL))
	return app.memCache, nil
}

func setupStorage(ctx context.Context, app *App) (crawler.BlobStore, error) {
	stCfg := app.cfg.Storage
	if !stCfg.SnapshotsEnabled {
		return nil, nil
	}
	switch stCfg.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       stCfg.GCSBucket,
			CacheControl: stCfg.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving snapshots to GCS", zap.String("bucket", stCfg.GCSBucket))
		return blobStore, nil
	case config.BackendLocal:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: stCfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving snapshots locally", zap.String("path", stCfg.LocalDir))
		return blobStore, nil
	default:
		app.logger.Info("archiving snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	psCfg := app.cfg.PubSub
	if psCfg.TopicName == "" {
		return nil, nil
	}
	if psCfg.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, psCfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPublisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", psCfg.ProjectID),
		zap.String("topic", psCfg.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupIndexer(app *App, blobStore crawler.BlobStore, publisher crawler.Publisher, clock crawler.Clock) error {
	hCfg := app.cfg.Headless
	renderer, err := headless.NewChromedp(headless.Config{
		MaxParallel:       hCfg.MaxParallel,
		UserAgent:         hCfg.UserAgent,
		NavigationTimeout: hCfg.NavTimeout,
		IdleTimeout:       hCfg.IdleTimeout,
		SettleDelay:       hCfg.SettleDelay,
		RenderQPS:         hCfg.RenderQPS,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("headless renderer init failed: %w", err)
	}
	app.renderer = renderer

	normalizer := links.New(app.logger, app.cfg.Crawler.BlockedHosts...)
	app.indexer = indexer.New(indexer.Deps{
		Renderer:  renderer,
		Extractor: extract.New(normalizer, app.logger),
		Dedup:     dedup.New(app.store, app.logger),
		Frontier:  app.store,
		BlobStore: blobStore,
		Publisher: publisher,
		Clock:     clock,
	}, indexer.Config{
		SnapshotPrefix: app.cfg.Storage.Prefix,
		ContentType:    app.cfg.Storage.ContentType,
		Topic:          app.cfg.PubSub.TopicName,
	}, app.logger)
	app.logger.Info("indexer ready",
		zap.Int("max_parallel", hCfg.MaxParallel),
		zap.Duration("nav_timeout", hCfg.NavTimeout),
		zap.Bool("snapshots", blobStore != nil),
		zap.Bool("publish", publisher != nil),
	)
	return nil
}
