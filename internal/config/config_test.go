package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_PATH", "DATABASE_URL", "SERVER_PORT", "LOG_LEVEL", "SENTRY_DSN", "ENV", "SHUTDOWN_GRACE",
		"JWT_SECRET", "STORAGE_PATH", "OPENAI_API_KEY", "OPENAI_ENDPOINT", "GEMINI_API_KEY",
		"AI_MODELS", "DEFAULT_AI_MODEL", "RULES_MODEL", "GAME_INFO_MODEL", "PROMPTS_FILE",
		"BGG_BASE_URL", "BGG_RPS", "BGG_CACHE_TTL", "REDIS_URL",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_TTL", "SWEEP_SCHEDULE", "STALE_RULE_AFTER",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DBPath != defaultDBPath {
		t.Errorf("expected default DB path %q, got %q", defaultDBPath, cfg.DBPath)
	}

	if cfg.UsesPostgres() {
		t.Errorf("expected sqlite when DATABASE_URL is unset")
	}

	if cfg.ServerPort != defaultServerPort {
		t.Errorf("expected default server port %d, got %d", defaultServerPort, cfg.ServerPort)
	}

	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("expected default log level %q, got %q", defaultLogLevel, cfg.LogLevel)
	}

	if cfg.Environment != defaultEnvironment {
		t.Errorf("expected default environment %q, got %q", defaultEnvironment, cfg.Environment)
	}

	if cfg.ShutdownGrace != defaultShutdownGrace {
		t.Errorf("expected shutdown grace %s, got %s", defaultShutdownGrace, cfg.ShutdownGrace)
	}

	if cfg.AIModels != nil {
		t.Errorf("expected nil AIModels, got %v", cfg.AIModels)
	}

	if cfg.RulesModel != defaultRulesModel {
		t.Errorf("expected rules model %q, got %q", defaultRulesModel, cfg.RulesModel)
	}

	if cfg.GameInfoModel != defaultRulesModel {
		t.Errorf("expected game info model to follow rules model, got %q", cfg.GameInfoModel)
	}

	if cfg.RateLimitBurst != defaultRateLimitBurst {
		t.Errorf("expected burst %d, got %d", defaultRateLimitBurst, cfg.RateLimitBurst)
	}

	if cfg.StaleRuleAfter != defaultStaleRuleAfter {
		t.Errorf("expected stale rule threshold %s, got %s", defaultStaleRuleAfter, cfg.StaleRuleAfter)
	}

	if cfg.SentryDSN != "" {
		t.Errorf("expected empty Sentry DSN, got %q", cfg.SentryDSN)
	}

	allowed := cfg.AllowedModels()
	if len(allowed) != 2 || allowed[0] != defaultAIModel || allowed[1] != defaultRulesModel {
		t.Errorf("unexpected fallback allow-list %v", allowed)
	}
}

func TestLoadWithExplicitValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://rulebook@localhost/rulebook")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("OPENAI_ENDPOINT", "https://example.com/llm")
	t.Setenv("OPENAI_API_KEY", "secret")
	t.Setenv("AI_MODELS", `["openai__gpt-4o","gemini__gemini-2.0-flash"]`)
	t.Setenv("SENTRY_DSN", "dsn")
	t.Setenv("ENV", "production")
	t.Setenv("BGG_RPS", "0.5")
	t.Setenv("STALE_RULE_AFTER", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if !cfg.UsesPostgres() {
		t.Errorf("expected postgres when DATABASE_URL is set")
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("expected server port 9090, got %d", cfg.ServerPort)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %q", cfg.LogLevel)
	}

	if cfg.OpenAIEndpoint != "https://example.com/llm" {
		t.Errorf("expected OpenAI endpoint https://example.com/llm, got %q", cfg.OpenAIEndpoint)
	}

	if cfg.OpenAIAPIKey != "secret" {
		t.Errorf("expected OpenAI API key secret, got %q", cfg.OpenAIAPIKey)
	}

	expectedModels := []string{"openai__gpt-4o", "gemini__gemini-2.0-flash"}
	if len(cfg.AIModels) != len(expectedModels) {
		t.Fatalf("expected %d models, got %d", len(expectedModels), len(cfg.AIModels))
	}

	for i, model := range cfg.AIModels {
		if model != expectedModels[i] {
			t.Errorf("expected model %q at index %d, got %q", expectedModels[i], i, model)
		}
	}

	if cfg.BGGRPS != 0.5 {
		t.Errorf("expected BGG rps 0.5, got %v", cfg.BGGRPS)
	}

	if cfg.StaleRuleAfter != time.Hour {
		t.Errorf("expected stale rule threshold 1h, got %s", cfg.StaleRuleAfter)
	}

	if cfg.Environment != "production" {
		t.Errorf("expected environment production, got %q", cfg.Environment)
	}
}

func TestLoadWithModelObject(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_MODELS", `{"models":["openai__gpt-4o-mini","gemini__gemini-1.5-pro"]}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	expected := []string{"openai__gpt-4o-mini", "gemini__gemini-1.5-pro"}
	if len(cfg.AIModels) != len(expected) {
		t.Fatalf("expected %d models, got %d", len(expected), len(cfg.AIModels))
	}

	for i, model := range cfg.AIModels {
		if model != expected[i] {
			t.Errorf("expected model %q at index %d, got %q", expected[i], i, model)
		}
	}
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_PORT", "invalid")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for invalid port, got nil")
	}

	if !strings.Contains(err.Error(), "invalid SERVER_PORT value") {
		t.Fatalf("expected error to mention invalid SERVER_PORT value, got %v", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("STALE_RULE_AFTER", "soon")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error for invalid duration, got nil")
	}

	if !strings.Contains(err.Error(), "invalid STALE_RULE_AFTER value") {
		t.Fatalf("expected error to mention STALE_RULE_AFTER, got %v", err)
	}
}

func TestLoadInvalidModels(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_MODELS", `{"models":null}`)

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error when models JSON is invalid, got nil")
	}

	if !strings.Contains(err.Error(), "parsing AI_MODELS") {
		t.Fatalf("expected error to mention parsing AI_MODELS, got %v", err)
	}
}
