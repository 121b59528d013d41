package container

import (
	"context"
	"fmt"
	"time"

	"shopino/crawler/internal/config"
	"shopino/crawler/internal/extractor"
	"shopino/crawler/internal/fetcher"
	"shopino/crawler/internal/report"
	"shopino/crawler/internal/repository"
	"shopino/crawler/internal/service"
	"shopino/crawler/internal/state"
	"shopino/crawler/internal/store"
	"shopino/crawler/internal/walker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Container holds all initialized components
type Container struct {
	Config     *config.Config
	Fetcher    *fetcher.Client
	Repository repository.ProductRepository
	Ledger     state.Ledger
	Store      *store.Store

	Service *service.Service
}

// New creates a new container with all dependencies initialized. Any error is
// a setup failure: the store or the ledger could not be reached, or the
// configuration is unusable.
func New(ctx context.Context, cfg *config.Config, resume bool) (*Container, error) {
	container := &Container{
		Config: cfg,
	}

	schema, err := extractor.DefaultSchema().WithOverrides(cfg.Selectors.Product)
	if err != nil {
		return nil, fmt.Errorf("invalid product selectors: %w", err)
	}

	repo, err := newRepository(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	container.Repository = repo

	if err := repo.Ping(ctx); err != nil {
		container.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	log.Infof("✅ Connected to %s database", cfg.Database.Driver)

	ledger, err := newLedger(ctx, cfg)
	if err != nil {
		container.Close()
		return nil, err
	}
	container.Ledger = ledger

	gate := fetcher.NewGate(cfg.RequestDelay())

	var proxies fetcher.ProxySupplier
	if len(cfg.Fetch.Proxies) > 0 {
		proxies = fetcher.NewProxySupplier(ctx, cfg.Fetch.Proxies, cfg.BaseURL, gate)
	}

	client := fetcher.NewClient(fetcher.Options{
		RequestDelay:   cfg.RequestDelay(),
		MaxRetries:     cfg.MaxRetries,
		Timeout:        time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
		BackoffInitial: time.Duration(cfg.Fetch.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Fetch.BackoffMaxMs) * time.Millisecond,
		UserAgent:      cfg.Fetch.UserAgent,
		Proxies:        proxies,
		Gate:           gate,
	})
	container.Fetcher = client

	productStore := store.New(repo, client, store.Options{
		AssetsDir:   cfg.Images.Dir,
		MaxFilename: cfg.Images.MaxFilename,
		Fs:          afero.NewOsFs(),
		Ledger:      ledger,
	})
	container.Store = productStore

	// The service is created last; the walker callback only runs during a crawl
	var svc *service.Service

	sel := cfg.Selectors.Listing
	categoryWalker := walker.New(client, walker.Options{
		BaseURL: cfg.BaseURL,
		Selectors: walker.Selectors{
			TopLevel:    sel.TopLevel,
			Subcategory: sel.Subcategory,
			Product:     sel.Product,
			NextPage:    sel.NextPage,
			PageParam:   sel.PageParam,
		},
		MaxTopLevel:            cfg.Crawl.MaxTopLevel,
		MaxDepth:               cfg.Crawl.MaxDepth,
		MaxPages:               cfg.Crawl.MaxPages,
		ProductsPerSubcategory: cfg.ProductsPerSubcategory,
		OnSkip: func(topLevel, _, url string, err error) {
			svc.RecordSkippedSubcategory(topLevel, url, err)
		},
	})

	svc = service.NewService(
		categoryWalker,
		client,
		extractor.New(schema),
		productStore,
		repo,
		ledger,
		service.Options{
			WorkerCount:          cfg.WorkerCount,
			MaxPersistenceErrors: cfg.Crawl.MaxPersistenceErrors,
			ShutdownGrace:        cfg.Crawl.ShutdownGrace,
			Resume:               resume,
		},
	)
	container.Service = svc

	return container, nil
}

func newRepository(ctx context.Context, cfg config.DatabaseConfig) (repository.ProductRepository, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := pgxpool.New(ctx, cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		repo, err := repository.NewPostgresRepository(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return repo, nil
	default:
		repo, err := repository.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database %s: %w", cfg.Path, err)
		}
		return repo, nil
	}
}

func newLedger(ctx context.Context, cfg *config.Config) (state.Ledger, error) {
	if !cfg.Redis.Enabled {
		ledger, err := state.OpenFileLedger(afero.NewOsFs(), cfg.State.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open skip ledger: %w", err)
		}
		return ledger, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})

	// Test connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info("✅ Connected to Redis successfully")

	return state.NewRedisLedger(rdb, cfg.Redis.KeyPrefix), nil
}

// Run executes one crawl and writes the report when one is configured
func (c *Container) Run(ctx context.Context) error {
	summary, err := c.Service.Run(ctx)

	if c.Config.Report.Path != "" && !summary.StartedAt.IsZero() {
		if reportErr := report.WriteFile(c.Config.Report.Path, summary); reportErr != nil {
			log.Errorf("❌ Failed to write report: %v", reportErr)
		} else {
			log.Infof("📝 Report written to %s", c.Config.Report.Path)
		}
	}

	return err
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	var firstErr error
	if c.Ledger != nil {
		if err := c.Ledger.Close(); err != nil {
			log.Errorf("❌ Failed to close skip ledger: %v", err)
			firstErr = err
		}
	}
	if c.Repository != nil {
		if err := c.Repository.Close(); err != nil {
			log.Errorf("❌ Failed to close database: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	log.Info("Container shut down successfully")
	return firstErr
}
