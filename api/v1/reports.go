package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"carbon-scribe/report-engine/internal/auth"
	"carbon-scribe/report-engine/internal/config"
	"carbon-scribe/report-engine/internal/reports/cache"
	"carbon-scribe/report-engine/internal/reports/datasource"
	"carbon-scribe/report-engine/internal/reports/definitions"
	"carbon-scribe/report-engine/internal/reports/engine"
	"carbon-scribe/report-engine/internal/reports/export"
	"carbon-scribe/report-engine/internal/reports/expression"
	"carbon-scribe/report-engine/internal/reports/handler"
	"carbon-scribe/report-engine/internal/reports/scheduler"
	"carbon-scribe/report-engine/internal/reports/sections"
	"carbon-scribe/report-engine/pkg/storage"
)

// ReportsAPI holds the report engine and everything wired around it
type ReportsAPI struct {
	Engine      *engine.Engine
	Handler     *handler.Handler
	Definitions *definitions.Store
	Services    *datasource.Registry
	Scheduler   *scheduler.ScheduleManager

	// Optional collaborators, nil when disabled by configuration
	Cache      *cache.Layer
	Database   *definitions.GormSource
	Tokens     *auth.TokenManager
	Artifacts  storage.Store
	Expression *expression.Engine

	cfg     *config.Config
	logger  *zap.Logger
	watcher *definitions.Watcher
	closers []func() error
}

// SetupReportsAPI builds the report engine from cfg
func SetupReportsAPI(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ReportsAPI, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &ReportsAPI{
		Services:   datasource.NewRegistry(),
		Expression: expression.NewEngine(),
		cfg:        cfg,
		logger:     logger,
	}
	fail := func(err error) (*ReportsAPI, error) {
		api.Close()
		return nil, err
	}

	var querier datasource.Querier
	if cfg.Database.Enabled() {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.GetDatabaseURL())
		if err != nil {
			return fail(fmt.Errorf("failed to connect to database: %w", err))
		}
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.MaxLifetime)
		api.closers = append(api.closers, db.Close)
		querier = datasource.NewSQLQuerier(db)

		if cfg.Reports.DefinitionSource != "file" {
			gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
			if err != nil {
				return fail(fmt.Errorf("failed to open gorm session: %w", err))
			}
			api.Database = definitions.NewGormSource(gdb)
			if err := api.Database.Migrate(); err != nil {
				return fail(fmt.Errorf("failed to migrate report definitions: %w", err))
			}
		}
	}

	files := definitions.NewFileSource(cfg.Reports.DefinitionsDir)
	var source definitions.Source = files
	switch cfg.Reports.DefinitionSource {
	case "database":
		source = api.Database
	case "both":
		source = definitions.Chain(api.Database, files)
	}
	api.Definitions = definitions.NewStore(source, definitions.NewValidator(api.Expression), logger.Named("definitions"))

	layer, err := api.openCache()
	if err != nil {
		return fail(err)
	}
	api.Cache = layer

	artifacts, err := api.openStorage(ctx)
	if err != nil {
		return fail(err)
	}
	api.Artifacts = artifacts

	deps := engine.Deps{
		Definitions: api.Definitions,
		Resolver: datasource.NewResolver(querier, api.Services, api.Expression, logger.Named("datasource"),
			datasource.Options{Parallelism: cfg.Reports.Parallelism}),
		Renderer:       sections.NewRenderer(api.Expression),
		Exporters:      export.DefaultRegistry(),
		ArtifactPrefix: cfg.Storage.Prefix,
		Logger:         logger.Named("engine"),
	}
	// nil pointers must not become non-nil interfaces
	if layer != nil {
		deps.Cache = layer
	}
	if artifacts != nil {
		deps.Artifacts = artifacts
	}
	api.Engine, err = engine.New(deps)
	if err != nil {
		return fail(err)
	}

	if cfg.Security.JWTSecret != "" {
		api.Tokens, err = auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)
		if err != nil {
			return fail(err)
		}
	}

	executor := scheduler.NewExecutor(api.Engine, scheduler.NewDeliveryManager(nil, logger.Named("delivery")), logger.Named("executor"),
		scheduler.ExecutorConfig{
			Timeout:          cfg.Scheduler.Timeout,
			WebhookRetries:   cfg.Scheduler.WebhookRetries,
			MaxFileSizeBytes: cfg.Scheduler.MaxFileSize,
		})
	api.Scheduler = scheduler.NewScheduleManager(executor, logger.Named("scheduler"))

	api.Handler = handler.NewHandler(api.Engine, logger.Named("http"))
	return api, nil
}

func (a *ReportsAPI) openCache() (*cache.Layer, error) {
	switch a.cfg.Reports.CacheBackend {
	case "none":
		return nil, nil
	case "sqlite":
		backend, err := cache.OpenSQLite(a.cfg.Reports.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		a.closers = append(a.closers, backend.Close)
		return cache.NewLayer(backend, a.logger.Named("cache")), nil
	default:
		return cache.NewLayer(cache.NewMemoryBackend(), a.logger.Named("cache")), nil
	}
}

func (a *ReportsAPI) openStorage(ctx context.Context) (storage.Store, error) {
	sc := a.cfg.Storage
	switch sc.Backend {
	case "local":
		s, err := storage.NewLocalStore(sc.LocalDir, sc.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open local storage: %w", err)
		}
		return s, nil
	case "s3":
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKey,
			SecretAccessKey: sc.SecretKey,
			URLExpiry:       sc.URLExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 storage: %w", err)
		}
		return s, nil
	}
	return nil, nil
}

// StartBackground starts the definition watcher, the cache sweep and, when
// withSchedules is set, the configured schedules. The in-memory cache runs
// its own cleanup ticker; persistent backends are swept by the scheduler.
func (a *ReportsAPI) StartBackground(ctx context.Context, withSchedules bool) error {
	if a.cfg.Reports.WatchDefinitions && a.cfg.Reports.DefinitionSource != "database" {
		w, err := definitions.NewWatcher(a.cfg.Reports.DefinitionsDir, a.logger.Named("watcher"),
			a.Definitions.Reload,
			func(code string) {
				if _, err := a.Engine.Invalidate(context.Background(), code); err != nil {
					a.logger.Warn("Failed to invalidate cache after reload", zap.String("report_code", code), zap.Error(err))
				}
			})
		if err != nil {
			return fmt.Errorf("failed to create definition watcher: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch definitions: %w", err)
		}
		a.watcher = w
	}

	if a.Cache != nil && a.cfg.Reports.CleanupInterval > 0 {
		if mem, ok := a.Cache.Backend().(*cache.MemoryBackend); ok {
			mem.StartCleanup(a.cfg.Reports.CleanupInterval)
			a.closers = append(a.closers, func() error { mem.Stop(); return nil })
		} else if err := a.Scheduler.AddCacheSweep(a.cfg.Reports.CleanupInterval, a.Cache); err != nil {
			return err
		}
	}

	if withSchedules && a.cfg.Scheduler.Enabled {
		if err := a.Scheduler.LoadSchedules(a.cfg.Scheduler.Schedules); err != nil {
			a.logger.Error("Some schedules were not registered", zap.Error(err))
		}
	}
	return a.Scheduler.Start()
}

// Close stops background work and releases connections
func (a *ReportsAPI) Close() error {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.Scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		a.Scheduler.Stop(ctx)
		cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RegisterReportsRoutes registers the reports routes on the router group.
// Without a JWT secret every caller runs with an empty principal.
func RegisterReportsRoutes(router *gin.RouterGroup, api *ReportsAPI) {
	if api.Tokens != nil {
		auth.RegisterRoutes(router, auth.NewHandler(), api.Tokens)
		router = router.Group("", api.Tokens.Middleware())
	} else {
		api.logger.Warn("JWT secret not configured, report routes are unauthenticated")
	}
	api.Handler.RegisterRoutes(router)
	registerAdminRoutes(router, api)
}

// registerAdminRoutes exposes cache counters and the service catalog to
// superusers
func registerAdminRoutes(router *gin.RouterGroup, api *ReportsAPI) {
	admin := router.Group("/reports", auth.RequireSuperuser())

	admin.GET("/cache/stats", func(c *gin.Context) {
		if api.Cache == nil {
			c.JSON(http.StatusOK, gin.H{"enabled": false})
			return
		}
		body := gin.H{"enabled": true, "stats": api.Cache.Stats()}
		if n, ok := api.Cache.Entries(); ok {
			body["entries"] = n
		}
		c.JSON(http.StatusOK, body)
	})

	admin.DELETE("/cache/stats", func(c *gin.Context) {
		if api.Cache != nil {
			api.Cache.ResetStats()
		}
		c.Status(http.StatusNoContent)
	})

	admin.GET("/services", func(c *gin.Context) {
		names := api.Services.Names()
		c.JSON(http.StatusOK, gin.H{"services": names, "total_count": len(names)})
	})
}
