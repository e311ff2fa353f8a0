package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Config holds runtime configuration values for the rulebook server.
type Config struct {
	DBPath        string
	DatabaseURL   string
	ServerPort    int
	LogLevel      string
	SentryDSN     string
	Environment   string
	ShutdownGrace time.Duration

	JWTSecret   string
	StoragePath string

	OpenAIAPIKey   string
	OpenAIEndpoint string
	GeminiAPIKey   string
	AIModels       []string
	DefaultAIModel string
	RulesModel     string
	GameInfoModel  string
	PromptsFile    string

	BGGBaseURL  string
	BGGRPS      float64
	BGGCacheTTL time.Duration
	RedisURL    string

	RateLimitRPS   float64
	RateLimitBurst int
	RateLimitTTL   time.Duration

	SweepSchedule  string
	StaleRuleAfter time.Duration
}

const (
	defaultDBPath         = "./data/rulebook.db"
	defaultServerPort     = 8080
	defaultLogLevel       = "info"
	defaultEnvironment    = "development"
	defaultShutdownGrace  = 10 * time.Second
	defaultStoragePath    = "./data/game_images"
	defaultAIModel        = "openai__gpt-4o-mini"
	defaultRulesModel     = "openai__gpt-4o"
	defaultBGGBaseURL     = "https://boardgamegeek.com/xmlapi2"
	defaultBGGRPS         = 2
	defaultBGGCacheTTL    = 6 * time.Hour
	defaultRateLimitRPS   = 5
	defaultRateLimitBurst = 20
	defaultRateLimitTTL   = 10 * time.Minute
	defaultSweepSchedule  = "@every 5m"
	defaultStaleRuleAfter = 30 * time.Minute
)

// Load reads configuration values from environment variables, applying defaults where necessary.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:         getEnv("DB_PATH", defaultDBPath),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getEnv("LOG_LEVEL", defaultLogLevel),
		SentryDSN:      os.Getenv("SENTRY_DSN"),
		Environment:    getEnv("ENV", defaultEnvironment),
		ShutdownGrace:  defaultShutdownGrace,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		StoragePath:    getEnv("STORAGE_PATH", defaultStoragePath),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIEndpoint: os.Getenv("OPENAI_ENDPOINT"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		DefaultAIModel: getEnv("DEFAULT_AI_MODEL", defaultAIModel),
		RulesModel:     getEnv("RULES_MODEL", defaultRulesModel),
		PromptsFile:    os.Getenv("PROMPTS_FILE"),
		BGGBaseURL:     getEnv("BGG_BASE_URL", defaultBGGBaseURL),
		RedisURL:       os.Getenv("REDIS_URL"),
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", defaultSweepSchedule),
	}
	cfg.GameInfoModel = getEnv("GAME_INFO_MODEL", cfg.RulesModel)

	if modelsJSON := os.Getenv("AI_MODELS"); modelsJSON != "" {
		models, err := parseModels(modelsJSON)
		if err != nil {
			return nil, eris.Wrap(err, "parsing AI_MODELS")
		}
		cfg.AIModels = models
	}

	portValue := getEnv("SERVER_PORT", strconv.Itoa(defaultServerPort))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid SERVER_PORT value: %s", portValue)
	}
	cfg.ServerPort = port

	if cfg.ShutdownGrace, err = getDuration("SHUTDOWN_GRACE", defaultShutdownGrace); err != nil {
		return nil, err
	}
	if cfg.BGGCacheTTL, err = getDuration("BGG_CACHE_TTL", defaultBGGCacheTTL); err != nil {
		return nil, err
	}
	if cfg.RateLimitTTL, err = getDuration("RATE_LIMIT_TTL", defaultRateLimitTTL); err != nil {
		return nil, err
	}
	if cfg.StaleRuleAfter, err = getDuration("STALE_RULE_AFTER", defaultStaleRuleAfter); err != nil {
		return nil, err
	}
	if cfg.BGGRPS, err = getFloat("BGG_RPS", defaultBGGRPS); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", defaultRateLimitRPS); err != nil {
		return nil, err
	}

	burstValue := getEnv("RATE_LIMIT_BURST", strconv.Itoa(defaultRateLimitBurst))
	burst, err := strconv.Atoi(burstValue)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid RATE_LIMIT_BURST value: %s", burstValue)
	}
	cfg.RateLimitBurst = burst

	return cfg, nil
}

// UsesPostgres reports whether a Postgres DSN was configured.
func (c *Config) UsesPostgres() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// AllowedModels returns the configured model allow-list, falling back to the models in use.
func (c *Config) AllowedModels() []string {
	if len(c.AIModels) > 0 {
		return c.AIModels
	}

	seen := map[string]bool{}
	models := make([]string, 0, 3)
	for _, model := range []string{c.DefaultAIModel, c.RulesModel, c.GameInfoModel} {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true
		models = append(models, model)
	}
	return models
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "invalid %s value: %s", key, raw)
	}
	return value, nil
}

func parseModels(raw string) ([]string, error) {
	// Accept either a JSON array of strings or an object with a `models` field.
	var arrayInput []string
	if err := json.Unmarshal([]byte(raw), &arrayInput); err == nil {
		return arrayInput, nil
	}

	var objectInput struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal([]byte(raw), &objectInput); err != nil {
		return nil, eris.Wrap(err, "decoding JSON")
	}

	if len(objectInput.Models) == 0 {
		return nil, eris.New("models list is empty")
	}

	return objectInput.Models, nil
}
