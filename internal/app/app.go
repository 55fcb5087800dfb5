// Package app wires configuration into a running analysis service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kamilpajak/diffscope/internal/analysis"
	"github.com/kamilpajak/diffscope/internal/analyzer"
	"github.com/kamilpajak/diffscope/internal/api"
	"github.com/kamilpajak/diffscope/internal/auth"
	"github.com/kamilpajak/diffscope/internal/background"
	"github.com/kamilpajak/diffscope/internal/cache"
	"github.com/kamilpajak/diffscope/internal/config"
	"github.com/kamilpajak/diffscope/internal/database"
	"github.com/kamilpajak/diffscope/internal/docs"
	"github.com/kamilpajak/diffscope/internal/gitdiff"
	"github.com/kamilpajak/diffscope/internal/llm"
	"github.com/kamilpajak/diffscope/internal/progress"
	"github.com/kamilpajak/diffscope/internal/store"
	"github.com/kamilpajak/diffscope/pkg/models"
)

// App holds the long-lived components built from a Config.
type App struct {
	Config    *config.Config
	Service   *analysis.Service
	Cache     *cache.AnalysisCache
	Runner    *background.Runner
	Documents *docs.Retriever
	Store     store.Store
	// DB is nil when no database is configured.
	DB *database.DB

	logger  *slog.Logger
	closers []func()
}

// New builds an App. Background work started by the App stops when ctx is
// done, so ctx should live as long as the process.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	a.Cache = cache.NewAnalysisCache(cache.Options{
		Capacity:    cfg.Cache.Capacity,
		SlidingTTL:  cfg.Cache.SlidingTTL,
		AbsoluteTTL: cfg.Cache.AbsoluteTTL,
	}, logger)
	a.Cache.StartJanitor(ctx, cfg.Cache.SweepInterval)

	a.Runner = background.NewRunner(ctx, logger)
	a.Documents = docs.NewRetriever(logger)

	if cfg.Store.Path != "" {
		bolt, err := store.NewBoltStore(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		a.Store = bolt
		a.closers = append(a.closers, func() {
			if err := bolt.Close(); err != nil {
				logger.Warn("failed to close store", "error", err)
			}
		})
	} else {
		a.Store = store.NewMemoryStore()
	}

	var archive analysis.Archiver
	if cfg.Database.URL != "" {
		db, err := database.New(ctx, cfg.Database.URL, database.WithMaxConns(cfg.Database.MaxConns))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		archive = db
		a.closers = append(a.closers, db.Close)
	}

	a.Service = analysis.NewService(analysis.Deps{
		Cache:       a.Cache,
		Broadcaster: progress.NewBroadcaster(progress.NewHub(), a.Cache),
		Runner:      a.Runner,
		Extractor:   gitdiff.NewExtractor(),
		Documents:   a.Documents,
		Reviewers:   Reviewers(cfg, logger),
		Store:       a.Store,
		Archive:     archive,
		Defaults: models.Settings{
			DocsFolder:    cfg.Analysis.DocsFolder,
			Language:      cfg.Analysis.Language,
			Provider:      cfg.Analysis.Provider,
			Model:         cfg.Analysis.Model,
			FallbackModel: cfg.Analysis.FallbackModel,
		},
		APIKeys: cfg.APIKey,
		Logger:  logger,
	})
	return a, nil
}

// Reviewers returns a factory building an analyzer per provider.
func Reviewers(cfg *config.Config, logger *slog.Logger) analysis.ReviewerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(p llm.Provider) (analysis.Reviewer, error) {
		client, err := llm.NewClient(p)
		if err != nil {
			return nil, err
		}
		return analyzer.New(client,
			analyzer.WithTimeout(cfg.Analysis.Timeout),
			analyzer.WithLogger(logger),
		), nil
	}
}

// Handler builds the HTTP API. A configured auth issuer makes every API
// route require a bearer token.
func (a *App) Handler(ctx context.Context) (*api.Server, error) {
	cfg := a.Config
	apiCfg := api.Config{
		Service:        a.Service,
		Documents:      a.Documents,
		Store:          a.Store,
		DocsFolder:     cfg.Analysis.DocsFolder,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RatePerMinute:  cfg.Server.RatePerMinute,
		Burst:          cfg.Server.Burst,
	}
	if a.DB != nil {
		apiCfg.History = a.DB
	}
	if cfg.Auth.Issuer != "" {
		verifier, err := auth.NewVerifier(ctx, auth.Config{
			Issuer:   cfg.Auth.Issuer,
			Audience: cfg.Auth.Audience,
			JWKSURL:  cfg.Auth.JWKSURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create auth verifier: %w", err)
		}
		apiCfg.AuthVerifier = verifier
	}
	return api.NewServer(apiCfg), nil
}

// Close waits for running analyses, then releases storage.
func (a *App) Close() {
	if a.Runner != nil {
		a.Runner.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
