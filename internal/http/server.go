package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"rulebook/app/internal/assistant"
	"rulebook/app/internal/catalog"
	"rulebook/app/internal/games"
	"rulebook/app/internal/ingest"
	"rulebook/app/internal/realtime"
	"rulebook/app/internal/storage"
)

const bearerScheme = "bearer"

// RulesPipeline queues rule extraction runs.
type RulesPipeline interface {
	ProcessRules(ctx context.Context, userID, gameID string, images []ingest.ImageRef) (*ingest.QueueResult, error)
	CreateGame(ctx context.Context, userID string, images []ingest.ImageRef) (*ingest.CreateResult, error)
}

// Catalog searches and imports BoardGameGeek games.
type Catalog interface {
	Search(ctx context.Context, userID, query string, page, pageSize int) (*catalog.SearchPage, error)
	Fetch(ctx context.Context, userID string, bggID int, importGame bool) (*catalog.FetchResult, error)
}

// Assistant answers questions about a game.
type Assistant interface {
	Ask(ctx context.Context, userID string, q assistant.Question) (*assistant.Answer, error)
}

// BlobStore stores uploaded images.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte) (*storage.Object, error)
	Download(ctx context.Context, path string) (*storage.Object, error)
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Options configures the HTTP server wiring.
type Options struct {
	Games       games.Service
	Pipeline    RulesPipeline
	Catalog     Catalog
	Assistant   Assistant
	Blobs       BlobStore
	Feed        realtime.Subscriber
	Tokens      TokenVerifier
	Database    *gorm.DB
	Logger      *logrus.Logger
	SentryHub   *sentry.Hub
	RateLimiter RateLimiterSettings
	Version     string
}

// RateLimiterSettings configures the HTTP rate limiter behaviour.
type RateLimiterSettings struct {
	RequestsPerSecond float64
	Burst             int
	ClientTTL         time.Duration
}

// Server exposes the rulebook API through Huma.
type Server struct {
	api         huma.API
	mux         *stdhttp.ServeMux
	games       games.Service
	pipeline    RulesPipeline
	catalog     Catalog
	assistant   Assistant
	blobs       BlobStore
	feed        realtime.Subscriber
	tokens      TokenVerifier
	logger      *logrus.Logger
	sentry      *sentry.Hub
	db          *gorm.DB
	rateLimiter *RateLimiter
}

// NewServer constructs the HTTP server.
func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Games == nil:
		return nil, eris.New("games service is required")
	case opts.Pipeline == nil:
		return nil, eris.New("rules pipeline is required")
	case opts.Catalog == nil:
		return nil, eris.New("catalog is required")
	case opts.Assistant == nil:
		return nil, eris.New("assistant is required")
	case opts.Blobs == nil:
		return nil, eris.New("blob store is required")
	case opts.Feed == nil:
		return nil, eris.New("realtime feed is required")
	case opts.Tokens == nil:
		return nil, eris.New("token verifier is required")
	case opts.Database == nil:
		return nil, eris.New("database is required")
	}

	settings := opts.RateLimiter
	if settings.Burst <= 0 {
		return nil, eris.New("rate limiter burst must be greater than zero")
	}
	if settings.RequestsPerSecond <= 0 {
		return nil, eris.New("rate limiter requests per second must be greater than zero")
	}
	if settings.ClientTTL <= 0 {
		return nil, eris.New("rate limiter client TTL must be greater than zero")
	}

	version := opts.Version
	if version == "" {
		version = "1.0.0"
	}

	mux := stdhttp.NewServeMux()
	config := huma.DefaultConfig("Rulebook API", version)
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		bearerScheme: {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	srv := &Server{
		api:         humago.New(mux, config),
		mux:         mux,
		games:       opts.Games,
		pipeline:    opts.Pipeline,
		catalog:     opts.Catalog,
		assistant:   opts.Assistant,
		blobs:       opts.Blobs,
		feed:        opts.Feed,
		tokens:      opts.Tokens,
		logger:      opts.Logger,
		sentry:      opts.SentryHub,
		db:          opts.Database,
		rateLimiter: NewRateLimiter(settings.Burst, settings.RequestsPerSecond, settings.ClientTTL),
	}

	srv.registerMiddlewares()
	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the underlying HTTP handler for wiring into the application.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// API exposes the underlying Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
}

func (s *Server) registerMiddlewares() {
	s.api.UseMiddleware(
		s.sentryMiddleware(),
		s.recoveryMiddleware(),
		s.requestIDMiddleware(),
		s.rateLimitMiddleware(),
		s.loggingMiddleware(),
		s.authMiddleware(),
	)
}

func (s *Server) registerRoutes() {
	s.registerFunctionRoutes()
	s.registerGameRoutes()
	s.registerImageRoutes()
	s.registerRuleRoutes()
	s.registerStorageRoutes()
	s.registerPreferenceRoutes()
	s.registerHealthRoute()
}

func (s *Server) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	s.mux.ServeHTTP(w, r)
}

// secured marks an operation as requiring a bearer token.
func secured(op huma.Operation) huma.Operation {
	op.Security = []map[string][]string{{bearerScheme: {}}}
	return op
}
