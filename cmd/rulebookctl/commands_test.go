package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rulebook/app/internal/auth"
	"rulebook/app/internal/config"
)

func runCLI(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd(&out, func() (*config.Config, error) { return cfg, nil })
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		DBPath:         filepath.Join(t.TempDir(), "rulebook.db"),
		JWTSecret:      "secret",
		SweepSchedule:  "@every 5m",
		StaleRuleAfter: time.Minute,
		BGGRPS:         100,
	}
}

func TestMigrateCreatesSchema(t *testing.T) {
	out, err := runCLI(t, testConfig(t), "migrate")
	if err != nil {
		t.Fatalf("migrate returned error: %v", err)
	}
	if !strings.Contains(out, "schema is up to date") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTokenIssuesVerifiableToken(t *testing.T) {
	cfg := testConfig(t)
	out, err := runCLI(t, cfg, "token", "--user", "user-7", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token returned error: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		t.Fatalf("creating verifier: %v", err)
	}
	subject, err := verifier.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("verifying issued token: %v", err)
	}
	if subject != "user-7" {
		t.Fatalf("expected subject user-7, got %q", subject)
	}
}

func TestTokenRequiresUser(t *testing.T) {
	if _, err := runCLI(t, testConfig(t), "token"); err == nil {
		t.Fatalf("expected missing --user to fail")
	}
}

func TestSweepReportsCount(t *testing.T) {
	out, err := runCLI(t, testConfig(t), "sweep")
	if err != nil {
		t.Fatalf("sweep returned error: %v", err)
	}
	if !strings.Contains(out, "marked 0 stale rules") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestBGGSearchPrintsHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<items total="1"><item type="boardgame" id="13"><name type="primary" value="CATAN"/><yearpublished value="1995"/></item></items>`))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.BGGBaseURL = srv.URL

	out, err := runCLI(t, cfg, "bgg", "search", "catan")
	if err != nil {
		t.Fatalf("bgg search returned error: %v", err)
	}
	if !strings.Contains(out, "13\tCATAN (1995)") {
		t.Fatalf("unexpected output %q", out)
	}
}
