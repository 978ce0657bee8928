package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"litigation-backend/internal/browser"
	"litigation-backend/internal/credentials"
	"litigation-backend/internal/pricing"
	"litigation-backend/internal/queue"
	"litigation-backend/internal/quotes"
	"litigation-backend/internal/retrieval"
	"litigation-backend/internal/services/health"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/server"
	"litigation-backend/internal/shared/storage/db"
	"litigation-backend/internal/shared/storage/object"
	localstore "litigation-backend/internal/shared/storage/object/local"
	miniostore "litigation-backend/internal/shared/storage/object/minio"
	s3store "litigation-backend/internal/shared/storage/object/s3"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/tokens"
)

const defaultReadyTimeout = 2 * time.Second

// App holds shared dependencies.
type App struct {
	Config     config.Config
	Router     *gin.Engine
	DB         *sql.DB
	Store      object.ObjectStore
	Queue      queue.Client
	Catalog    config.Catalog
	TokenCache *credentials.MemoryCache

	Tokens    *tokens.Manager
	Quotes    *quotes.Service
	Documents *retrieval.Service

	QuoteHandler    *quotes.Handler
	DocumentHandler *retrieval.Handler
	TokenHandler    *tokens.Handler
}

// Options adjusts Build for the calling process.
type Options struct {
	// Worker builds services that only ever run jobs; submitted work is never
	// executed in-process.
	Worker bool
	// Migrate applies pending migrations after connecting.
	Migrate bool
	// NoQueue skips the job queue even when QUEUE_URL is set. The caller runs
	// jobs itself.
	NoQueue bool
}

// Build prepares shared dependencies and the router.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}

	sqlDB, err := buildDB(ctx, cfg, opts.Migrate)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var queueClient queue.Client
	if !opts.NoQueue {
		queueClient, err = buildQueue(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	catalog, err := config.LoadCatalog(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:     cfg,
		DB:         sqlDB,
		Store:      store,
		Queue:      queueClient,
		Catalog:    catalog,
		TokenCache: credentials.NewMemoryCache(nil),
	}

	if err := buildServices(app, opts); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		QuoteHandler:    app.QuoteHandler,
		DocumentHandler: app.DocumentHandler,
		TokenHandler:    app.TokenHandler,
		Health:          app.health(),
	})

	return app, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func (a *App) health() *health.Service {
	checks := []health.Check{{
		Name: "catalog",
		Fn: func(ctx context.Context) error {
			if len(a.Catalog.EnabledCodes()) == 0 {
				return errors.New("no providers enabled")
			}
			return nil
		},
	}}
	if a.DB != nil {
		checks = append(checks, health.Check{
			Name: "database",
			Fn: func(ctx context.Context) error {
				if err := a.DB.PingContext(ctx); err != nil {
					return errors.New("database unreachable")
				}
				return nil
			},
		})
	}
	svc := health.NewService(checks...)
	svc.Timeout = defaultReadyTimeout
	return svc
}

func buildDB(ctx context.Context, cfg config.Config, migrate bool) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err != nil {
		if config.IsDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repositories", map[string]any{"reason": "database connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	if migrate {
		if err := db.RunMigrations(ctx, sqlDB, db.DialectFor(cfg.DatabaseURL)); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
			Endpoint: cfg.S3Endpoint,
		})
	case "minio":
		return miniostore.New(ctx, miniostore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildServices(app *App, opts Options) error {
	cfg := app.Config

	var (
		credSource credentials.CredentialSource
		tokenStore credentials.TokenStore
		quoteRepo  quotes.Repo
		docRepo    retrieval.Repo
	)
	if app.DB != nil {
		credSource = &credentials.PGSource{DB: app.DB}
		tokenStore = &credentials.PGTokenStore{DB: app.DB}
		quoteRepo = &quotes.PGRepo{DB: app.DB}
		docRepo = &retrieval.PGRepo{DB: app.DB}
	} else {
		seed, err := credentials.ParseSeed(cfg.CredentialsSeed)
		if err != nil {
			return fmt.Errorf("CREDENTIALS_SEED: %w", err)
		}
		credSource = credentials.NewMemorySource(seed...)
		tokenStore = credentials.NewMemoryTokenStore()
		quoteRepo = quotes.NewMemoryRepo()
		docRepo = retrieval.NewMemoryRepo()
	}

	browserOpts := browser.Options{
		ExecPath:  cfg.Browser.ExecPath,
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
	}
	loginSpec := browser.LoginSpec{
		URL:             cfg.Browser.LoginURL,
		TokenPattern:    cfg.Browser.TokenPattern,
		TokenPath:       cfg.Browser.TokenPath,
		StorageKey:      cfg.Browser.StorageKey,
		AccountSelector: cfg.Browser.AccountSelector,
		SecretSelector:  cfg.Browser.SecretSelector,
	}
	mgr := &tokens.Manager{
		Credentials: credSource,
		Store:       tokenStore,
		Cache:       app.TokenCache,
		Driver:      browser.NewChromeDriver(browserOpts),
		Specs: map[string]browser.LoginSpec{
			cfg.Pricing.Site:   loginSpec,
			cfg.Retrieval.Site: loginSpec,
		},
		TTL:          cfg.Tokens.TTL,
		LoginTimeout: cfg.Tokens.LoginTimeout,
	}

	prices, err := pricing.NewClient(pricing.Config{
		BaseURL:        cfg.Pricing.BaseURL,
		Path:           cfg.Pricing.Path,
		TokenHeader:    cfg.Pricing.TokenHeader,
		Timeout:        cfg.Pricing.Timeout,
		RequestsPerSec: cfg.Pricing.RequestsPerSec,
		Burst:          cfg.Pricing.Burst,
	})
	if err != nil {
		return err
	}

	inProcess := app.Queue == nil && !opts.Worker
	quoteSvc := &quotes.Service{
		Repo:             quoteRepo,
		Tokens:           mgr,
		Prices:           prices,
		Catalog:          app.Catalog,
		Queue:            app.Queue,
		Site:             cfg.Pricing.Site,
		InstitutionCode:  cfg.Pricing.InstitutionCode,
		MaxConcurrency:   cfg.Pricing.MaxConcurrency,
		ExecuteInProcess: inProcess,
	}
	docSvc := &retrieval.Service{
		Repo:             docRepo,
		Tokens:           mgr,
		Capturer:         browser.NewInterceptor(browserOpts),
		Scraper:          browser.NewScraper(browserOpts),
		Downloader:       &retrieval.Downloader{Store: app.Store, Timeout: cfg.Retrieval.DownloadTimeout},
		Queue:            app.Queue,
		ExecuteInProcess: inProcess,
		Site:             cfg.Retrieval.Site,
		TaskURLTemplate:  cfg.Retrieval.TaskURLTemplate,
		DocumentsPattern: cfg.Retrieval.DocumentsPattern,
		StorageKey:       cfg.Browser.StorageKey,
		InterceptTimeout: cfg.Retrieval.InterceptTimeout,
		ScrapeTimeout:    cfg.Retrieval.ScrapeTimeout,
		DelayMin:         cfg.Retrieval.DelayMin,
		DelayMax:         cfg.Retrieval.DelayMax,
	}

	app.Tokens = mgr
	app.Quotes = quoteSvc
	app.Documents = docSvc
	app.QuoteHandler = quotes.NewHandler(quoteSvc)
	app.DocumentHandler = retrieval.NewHandler(docSvc)
	app.TokenHandler = tokens.NewHandler(mgr)
	return nil
}
