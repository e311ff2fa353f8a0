package bootstrap

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rulebook/app/internal/assistant"
	"rulebook/app/internal/auth"
	"rulebook/app/internal/bgg"
	"rulebook/app/internal/catalog"
	"rulebook/app/internal/config"
	appdb "rulebook/app/internal/db"
	"rulebook/app/internal/games"
	apphttp "rulebook/app/internal/http"
	"rulebook/app/internal/ingest"
	"rulebook/app/internal/llm"
	"rulebook/app/internal/prompts"
	"rulebook/app/internal/realtime"
	"rulebook/app/internal/storage"
)

type Dependencies struct {
	Config    *config.Config
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
	Version   string
}

type Result struct {
	Database   *gorm.DB
	Repository *games.GormRepository
	Games      games.Service
	Ingest     *ingest.Service
	Runner     *ingest.Runner
	Sweeper    *ingest.Sweeper
	Catalog    *catalog.Service
	Assistant  *assistant.Service
	Tokens     *auth.Verifier
	HTTPServer *apphttp.Server
	// Cleanup waits for running ingestion jobs until ctx ends, then releases
	// the feed and the database.
	Cleanup func(ctx context.Context) error
}

// Build composes the rulebook application layers and returns the constructed components.
func Build(ctx context.Context, deps Dependencies) (Result, error) {
	cfg := deps.Config
	if cfg == nil {
		return Result{}, eris.New("configuration is required")
	}

	db, err := OpenDatabase(ctx, cfg, deps.Logger)
	if err != nil {
		return Result{}, err
	}

	var closers []func() error
	closers = append(closers, func() error { return appdb.Close(db) })
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i](); closeErr != nil && deps.Logger != nil {
				deps.Logger.WithError(closeErr).Error("releasing resource after bootstrap failure")
			}
		}
	}
	fail := func(wrapped error) (Result, error) {
		closeAll()
		return Result{}, wrapped
	}

	repo, err := games.NewRepository(db, deps.Logger)
	if err != nil {
		return fail(eris.Wrap(err, "creating games repository"))
	}

	blobs, err := storage.NewDiskStore(cfg.StoragePath, deps.Logger)
	if err != nil {
		return fail(eris.Wrap(err, "opening image storage"))
	}

	promptSet, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return fail(eris.Wrap(err, "loading prompts"))
	}

	models, err := buildModels(ctx, cfg, promptSet, deps.Logger)
	if err != nil {
		return fail(err)
	}

	var (
		feed     realtime.Broker
		bggCache bgg.Cache
	)
	if cfg.RedisURL != "" {
		broker, err := realtime.NewRedisBroker(ctx, cfg.RedisURL, deps.Logger)
		if err != nil {
			return fail(eris.Wrap(err, "connecting to redis"))
		}
		closers = append(closers, broker.Close)
		feed = broker
		bggCache = bgg.NewRedisCache(broker.Client())
	} else {
		hub := realtime.NewHub(deps.Logger)
		closers = append(closers, func() error { hub.Close(); return nil })
		feed = hub
	}

	gameService, err := games.NewService(games.ServiceOptions{
		Repository:     repo,
		Blobs:          blobs,
		Logger:         deps.Logger,
		SentryHub:      deps.SentryHub,
		DefaultAIModel: cfg.DefaultAIModel,
		AllowedModels:  cfg.AllowedModels(),
	})
	if err != nil {
		return fail(eris.Wrap(err, "creating games service"))
	}

	runner := ingest.NewRunner(deps.Logger)
	ingestService, err := ingest.NewService(ingest.Options{
		Repository:    repo,
		Blobs:         blobs,
		Models:        models,
		Publisher:     feed,
		Runner:        runner,
		Logger:        deps.Logger,
		SentryHub:     deps.SentryHub,
		RulesModel:    cfg.RulesModel,
		GameInfoModel: cfg.GameInfoModel,
	})
	if err != nil {
		return fail(eris.Wrap(err, "creating ingestion service"))
	}

	sweeper, err := ingest.NewSweeper(ingest.SweeperOptions{
		Repository: repo,
		Publisher:  feed,
		Logger:     deps.Logger,
		SentryHub:  deps.SentryHub,
		Schedule:   cfg.SweepSchedule,
		StaleAfter: cfg.StaleRuleAfter,
	})
	if err != nil {
		return fail(eris.Wrap(err, "creating rule sweeper"))
	}

	bggClient, err := bgg.NewClient(bgg.Options{
		BaseURL:  cfg.BGGBaseURL,
		RPS:      cfg.BGGRPS,
		Cache:    bggCache,
		CacheTTL: cfg.BGGCacheTTL,
		Logger:   deps.Logger,
	})
	if err != nil {
		return fail(eris.Wrap(err, "creating bgg client"))
	}

	catalogService, err := catalog.NewService(catalog.Options{
		Repository: repo,
		BGG:        bggClient,
		Logger:     deps.Logger,
		SentryHub:  deps.SentryHub,
	})
	if err != nil {
		return fail(eris.Wrap(err, "creating catalog service"))
	}

	assistantService, err := assistant.NewService(assistant.Options{
		Repository:   repo,
		Blobs:        blobs,
		Models:       models,
		Prompts:      promptSet,
		Logger:       deps.Logger,
		SentryHub:    deps.SentryHub,
		DefaultModel: cfg.DefaultAIModel,
	})
	if err != nil {
		return fail(eris.Wrap(err, "creating assistant service"))
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return fail(eris.Wrap(err, "creating token verifier"))
	}

	httpServer, err := apphttp.NewServer(apphttp.Options{
		Games:     gameService,
		Pipeline:  ingestService,
		Catalog:   catalogService,
		Assistant: assistantService,
		Blobs:     blobs,
		Feed:      feed,
		Tokens:    verifier,
		Database:  db,
		Logger:    deps.Logger,
		SentryHub: deps.SentryHub,
		RateLimiter: apphttp.RateLimiterSettings{
			Burst:             cfg.RateLimitBurst,
			RequestsPerSecond: cfg.RateLimitRPS,
			ClientTTL:         cfg.RateLimitTTL,
		},
		Version: deps.Version,
	})
	if err != nil {
		return fail(eris.Wrap(err, "initialising http server"))
	}
	closers = append(closers, func() error { httpServer.Close(); return nil })

	cleanup := func(ctx context.Context) error {
		var first error
		if err := sweeper.Stop(ctx); err != nil {
			first = err
		}
		if err := runner.Shutdown(ctx); err != nil && first == nil {
			first = eris.Wrap(err, "waiting for ingestion jobs")
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	return Result{
		Database:   db,
		Repository: repo,
		Games:      gameService,
		Ingest:     ingestService,
		Runner:     runner,
		Sweeper:    sweeper,
		Catalog:    catalogService,
		Assistant:  assistantService,
		Tokens:     verifier,
		HTTPServer: httpServer,
		Cleanup:    cleanup,
	}, nil
}

// OpenDatabase connects to Postgres when DATABASE_URL is set, otherwise to
// the SQLite file, and migrates the schema.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	opts := appdb.Options{Path: cfg.DBPath}
	if cfg.UsesPostgres() {
		opts = appdb.Options{DSN: cfg.DatabaseURL}
	}

	db, err := appdb.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "opening database")
	}

	if err := games.Migrate(ctx, db, logger); err != nil {
		if closeErr := appdb.Close(db); closeErr != nil && logger != nil {
			logger.WithError(closeErr).Error("closing database after migration failure")
		}
		return nil, eris.Wrap(err, "running migrations")
	}
	return db, nil
}

func buildModels(ctx context.Context, cfg *config.Config, promptSet *prompts.Set, logger *logrus.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	if cfg.OpenAIAPIKey != "" {
		client, err := llm.NewClient(llm.ClientOptions{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIEndpoint,
			Logger:  logger,
		})
		if err != nil {
			return nil, eris.Wrap(err, "creating openai client")
		}
		provider, err := llm.NewOpenAIProvider(llm.OpenAIOptions{Client: client, Prompts: promptSet})
		if err != nil {
			return nil, eris.Wrap(err, "initialising openai provider")
		}
		registry.Register(llm.ProviderOpenAI, provider)
	}

	if cfg.GeminiAPIKey != "" {
		provider, err := llm.NewGeminiProvider(ctx, llm.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			Logger:  logger,
			Prompts: promptSet,
		})
		if err != nil {
			return nil, eris.Wrap(err, "initialising gemini provider")
		}
		registry.Register(llm.ProviderGemini, provider)
	}

	if len(registry.Providers()) == 0 {
		return nil, eris.New("OPENAI_API_KEY or GEMINI_API_KEY must be set")
	}
	for _, model := range []string{cfg.DefaultAIModel, cfg.RulesModel, cfg.GameInfoModel} {
		if !registry.Supports(model) {
			return nil, eris.Errorf("model %q has no configured provider", model)
		}
	}
	return registry, nil
}
