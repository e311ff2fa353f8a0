package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"gorm.io/gorm"

	"rulebook/app/internal/assistant"
	"rulebook/app/internal/auth"
	"rulebook/app/internal/catalog"
	"rulebook/app/internal/db"
	"rulebook/app/internal/games"
	"rulebook/app/internal/ingest"
	applog "rulebook/app/internal/log"
	"rulebook/app/internal/realtime"
	"rulebook/app/internal/storage"
)

const testSecret = "test-secret"

type stubPipeline struct {
	gameID string
	images []ingest.ImageRef
	err    error
}

func (s *stubPipeline) ProcessRules(_ context.Context, _ string, gameID string, images []ingest.ImageRef) (*ingest.QueueResult, error) {
	s.gameID = gameID
	s.images = images
	if s.err != nil {
		return nil, s.err
	}
	return &ingest.QueueResult{Message: "Processing queued", GameID: gameID, RequestID: "req-1", RuleID: "rule-1"}, nil
}

func (s *stubPipeline) CreateGame(_ context.Context, userID string, images []ingest.ImageRef) (*ingest.CreateResult, error) {
	s.images = images
	if s.err != nil {
		return nil, s.err
	}
	return &ingest.CreateResult{Game: &games.Game{ID: "game-new", AuthorID: userID, Name: "Azul"}, Message: "Game created"}, nil
}

type stubCatalog struct {
	page  *catalog.SearchPage
	fetch *catalog.FetchResult
	err   error
}

func (s *stubCatalog) Search(context.Context, string, string, int, int) (*catalog.SearchPage, error) {
	return s.page, s.err
}

func (s *stubCatalog) Fetch(context.Context, string, int, bool) (*catalog.FetchResult, error) {
	return s.fetch, s.err
}

type stubAssistant struct {
	answer *assistant.Answer
	err    error
}

func (s *stubAssistant) Ask(context.Context, string, assistant.Question) (*assistant.Answer, error) {
	return s.answer, s.err
}

type testEnv struct {
	server    *Server
	repo      *games.GormRepository
	hub       *realtime.Hub
	blobs     *storage.Store
	pipeline  *stubPipeline
	catalog   *stubCatalog
	assistant *stubAssistant
	verifier  *auth.Verifier
	database  *gorm.DB
}

func newTestEnv(t *testing.T, limiter RateLimiterSettings) *testEnv {
	t.Helper()

	database, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "rulebook.db")})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })

	if err := games.Migrate(context.Background(), database, applog.Discard()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	repo, err := games.NewRepository(database, applog.Discard())
	if err != nil {
		t.Fatalf("creating repository: %v", err)
	}

	blobs := storage.NewMemoryStore(applog.Discard())
	service, err := games.NewService(games.ServiceOptions{
		Repository:     repo,
		Blobs:          blobs,
		Logger:         applog.Discard(),
		DefaultAIModel: "gpt-4o",
		AllowedModels:  []string{"gemini-2.5-flash"},
	})
	if err != nil {
		t.Fatalf("creating games service: %v", err)
	}

	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("creating verifier: %v", err)
	}

	hub := realtime.NewHub(applog.Discard())
	t.Cleanup(hub.Close)

	env := &testEnv{
		repo:      repo,
		hub:       hub,
		blobs:     blobs,
		pipeline:  &stubPipeline{},
		catalog:   &stubCatalog{},
		assistant: &stubAssistant{answer: &assistant.Answer{Suggestion: "Roll again.", Model: "gpt-4o"}},
		verifier:  verifier,
		database:  database,
	}

	if limiter.Burst == 0 {
		limiter = RateLimiterSettings{RequestsPerSecond: 100, Burst: 100, ClientTTL: time.Minute}
	}

	srv, err := NewServer(Options{
		Games:       service,
		Pipeline:    env.pipeline,
		Catalog:     env.catalog,
		Assistant:   env.assistant,
		Blobs:       blobs,
		Feed:        hub,
		Tokens:      verifier,
		Database:    database,
		Logger:      applog.Discard(),
		RateLimiter: limiter,
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	t.Cleanup(srv.Close)

	env.server = srv
	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()

	token, err := e.verifier.Issue(userID, time.Hour)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, target, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}

	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestSecuredRoutesRequireToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})

	rec := env.do(t, "GET", "/games", "", nil)
	if rec.Code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Fatalf("expected bearer challenge, got %q", got)
	}

	req := httptest.NewRequest("GET", "/games", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	bad := httptest.NewRecorder()
	env.server.ServeHTTP(bad, req)
	if bad.Code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected status 401 for invalid token, got %d", bad.Code)
	}
	if !strings.Contains(bad.Body.String(), "Invalid authorization token") {
		t.Fatalf("expected invalid token message, got %q", bad.Body.String())
	}
}

func TestOperationsDeclareBearerSecurity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	paths := env.server.API().OpenAPI().Paths
	if len(paths) == 0 {
		t.Fatalf("expected registered paths")
	}

	for path, item := range paths {
		for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete} {
			if op == nil {
				continue
			}
			if path == "/healthz" {
				if requiresBearer(op) {
					t.Fatalf("expected %s to be public", path)
				}
				continue
			}
			if !requiresBearer(op) {
				t.Fatalf("expected %s %s to require a bearer token", op.Method, path)
			}
		}
	}
}

func TestHealthRouteReportsDatabase(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	rec := env.do(t, "GET", "/healthz", "", nil)

	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
	decode(t, rec, &body)
	if body.Status != "ok" || body.Database != "ok" {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{RequestsPerSecond: 0.001, Burst: 1, ClientTTL: time.Minute})

	if rec := env.do(t, "GET", "/healthz", "", nil); rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec := env.do(t, "GET", "/healthz", "", nil)
	if rec.Code != stdhttp.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "trace-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestGameLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})

	rec := env.do(t, "POST", "/games", "user-1", map[string]any{"name": "Catan", "min_players": 3, "max_players": 4})
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created gameBody
	decode(t, rec, &created)
	if created.Status != string(games.StatusDraft) || created.AuthorID != "user-1" {
		t.Fatalf("unexpected created game %+v", created)
	}

	if rec := env.do(t, "GET", "/games/"+created.ID, "user-2", nil); rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected drafts to be hidden from other users, got %d", rec.Code)
	}

	if rec := env.do(t, "PATCH", "/games/"+created.ID, "user-2", map[string]any{"name": "Stolen"}); rec.Code != stdhttp.StatusForbidden {
		t.Fatalf("expected status 403 for other users, got %d", rec.Code)
	}

	rec = env.do(t, "PUT", "/games/"+created.ID+"/status", "user-1", map[string]any{"status": "published"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/games/"+created.ID, "user-2", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected published game to be visible, got %d", rec.Code)
	}
	var details gameDetailsBody
	decode(t, rec, &details)
	if details.Game.Name != "Catan" {
		t.Fatalf("unexpected details %+v", details)
	}

	rec = env.do(t, "GET", "/games?q=cat", "user-2", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var list struct {
		Games []gameBody `json:"games"`
		Total int64      `json:"total"`
	}
	decode(t, rec, &list)
	if list.Total != 1 || len(list.Games) != 1 {
		t.Fatalf("expected one listed game, got %+v", list)
	}

	if rec := env.do(t, "DELETE", "/games/"+created.ID, "user-1", nil); rec.Code != stdhttp.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, "GET", "/games/"+created.ID, "user-1", nil); rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected deleted game to be gone, got %d", rec.Code)
	}
}

func TestImagesAndCover(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	game := &games.Game{AuthorID: "user-1", Name: "Azul"}
	if err := env.repo.CreateGame(context.Background(), game); err != nil {
		t.Fatalf("creating game: %v", err)
	}

	rec := env.do(t, "POST", "/games/"+game.ID+"/images", "user-1", map[string]any{
		"images": []map[string]any{
			{"path": "user-1/box.png", "image_type": "cover"},
			{"path": "user-1/page-1.png", "image_type": "rules", "order_index": 0},
		},
	})
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var added struct {
		Images []imageBody `json:"images"`
	}
	decode(t, rec, &added)
	if len(added.Images) != 2 {
		t.Fatalf("expected two images, got %d", len(added.Images))
	}

	rec = env.do(t, "GET", "/games/"+game.ID+"/images?type=rules", "user-1", nil)
	var listed struct {
		Images []imageBody `json:"images"`
	}
	decode(t, rec, &listed)
	if len(listed.Images) != 1 || listed.Images[0].ImageType != "rules" {
		t.Fatalf("expected one rules image, got %+v", listed.Images)
	}

	coverID := added.Images[0].ID
	rec = env.do(t, "PUT", "/games/"+game.ID+"/cover", "user-1", map[string]any{"image_id": coverID})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated gameBody
	decode(t, rec, &updated)
	if updated.CoverImageID == nil || *updated.CoverImageID != coverID {
		t.Fatalf("expected cover %q, got %v", coverID, updated.CoverImageID)
	}

	if rec := env.do(t, "DELETE", "/games/"+game.ID+"/images/missing", "user-1", nil); rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestProcessRulesQueues(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	rec := env.do(t, "POST", "/functions/process-game-rules", "user-1", map[string]any{
		"gameId": "game-1",
		"images": []map[string]any{{"path": "user-1/p2.png", "order_index": 1}, {"path": "user-1/p1.png"}},
	})

	if rec.Code != stdhttp.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		GameID    string `json:"gameId"`
		RequestID string `json:"requestId"`
		RuleID    string `json:"ruleId"`
	}
	decode(t, rec, &body)
	if body.GameID != "game-1" || body.RequestID != "req-1" || body.RuleID != "rule-1" {
		t.Fatalf("unexpected response %+v", body)
	}
	if len(env.pipeline.images) != 2 || env.pipeline.images[1].OrderIndex != nil {
		t.Fatalf("expected images to be forwarded unchanged, got %+v", env.pipeline.images)
	}
}

func TestFunctionErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: eris.Wrap(games.ErrGameNotFound, "loading"), status: stdhttp.StatusNotFound},
		{name: "forbidden", err: eris.Wrap(games.ErrForbidden, "checking owner"), status: stdhttp.StatusForbidden},
		{name: "invalid", err: eris.Wrap(games.ErrInvalidInput, "images are required"), status: stdhttp.StatusBadRequest},
		{name: "unexpected", err: eris.New("database exploded"), status: stdhttp.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, RateLimiterSettings{})
			env.pipeline.err = tc.err

			rec := env.do(t, "POST", "/functions/process-game-rules", "user-1", map[string]any{
				"gameId": "game-1",
				"images": []map[string]any{{"path": "user-1/p1.png"}},
			})
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status == stdhttp.StatusInternalServerError && strings.Contains(rec.Body.String(), "exploded") {
				t.Fatalf("expected internal error text to stay hidden, got %q", rec.Body.String())
			}
		})
	}
}

func TestAskQuestionNotReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	env.assistant.err = assistant.ErrRulesNotReady

	rec := env.do(t, "POST", "/functions/ask-question", "user-1", map[string]any{"gameId": "game-1", "userPrompt": "How do I win?"})
	if rec.Code != stdhttp.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}

	env.assistant.err = nil
	rec = env.do(t, "POST", "/functions/ask-question", "user-1", map[string]any{"gameId": "game-1", "userPrompt": "How do I win?"})
	var body struct {
		Suggestion string `json:"suggestion"`
	}
	decode(t, rec, &body)
	if body.Suggestion != "Roll again." {
		t.Fatalf("unexpected suggestion %q", body.Suggestion)
	}
}

func TestSearchAndFetch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	bggID := 13
	env.catalog.page = &catalog.SearchPage{
		Results: []catalog.Result{
			{Source: "local", GameID: "game-1", Name: "Catan Junior"},
			{Source: "bgg", BGGID: &bggID, Name: "CATAN"},
		},
		LocalCount: 1,
		BGGCount:   1,
		Page:       1,
		PageSize:   20,
	}

	rec := env.do(t, "POST", "/functions/search-bgg", "user-1", map[string]any{"query": "catan"})
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var search struct {
		Count      int `json:"count"`
		LocalCount int `json:"localCount"`
		BGGCount   int `json:"bggCount"`
	}
	decode(t, rec, &search)
	if search.Count != 2 || search.LocalCount != 1 || search.BGGCount != 1 {
		t.Fatalf("unexpected search counts %+v", search)
	}

	if rec := env.do(t, "POST", "/functions/fetch-bgg-game", "user-1", map[string]any{"bggId": "abc"}); rec.Code != stdhttp.StatusBadRequest {
		t.Fatalf("expected status 400 for non numeric id, got %d", rec.Code)
	}

	env.catalog.fetch = &catalog.FetchResult{
		Game:        &games.Game{ID: "game-13", Name: "CATAN", Status: games.StatusPublished},
		Imported:    true,
		CanAddRules: true,
		Message:     "Game imported from BoardGameGeek",
	}
	rec = env.do(t, "POST", "/functions/fetch-bgg-game", "user-1", map[string]any{"bggId": "13", "importGame": true})
	var fetched struct {
		Imported      bool   `json:"imported"`
		RulesEndpoint string `json:"rulesEndpoint"`
	}
	decode(t, rec, &fetched)
	if !fetched.Imported || fetched.RulesEndpoint != "/functions/process-game-rules" {
		t.Fatalf("unexpected fetch response %+v", fetched)
	}
}

func TestStorageUploadAndDownload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	png := []byte("\x89PNG\r\n\x1a\n0000")

	upload := func(path, userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("PUT", "/storage/objects?path="+path, bytes.NewReader(png))
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Authorization", "Bearer "+env.token(t, userID))
		rec := httptest.NewRecorder()
		env.server.ServeHTTP(rec, req)
		return rec
	}

	if rec := upload("user-2/page.png", "user-1"); rec.Code != stdhttp.StatusForbidden {
		t.Fatalf("expected status 403 outside own folder, got %d", rec.Code)
	}

	rec := upload("user-1/page.png", "user-1")
	if rec.Code != stdhttp.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, "GET", "/storage/objects?path=user-1/page.png", "user-2", nil)
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Fatalf("downloaded bytes differ")
	}

	if rec := env.do(t, "GET", "/storage/objects?path=user-1/missing.png", "user-1", nil); rec.Code != stdhttp.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestPreferences(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})

	rec := env.do(t, "GET", "/me/preferences", "user-1", nil)
	var pref preferenceBody
	decode(t, rec, &pref)
	if pref.AIModel != "gpt-4o" {
		t.Fatalf("expected default model, got %q", pref.AIModel)
	}

	if rec := env.do(t, "PUT", "/me/preferences", "user-1", map[string]any{"ai_model": "unknown-model"}); rec.Code != stdhttp.StatusBadRequest {
		t.Fatalf("expected status 400 for unknown model, got %d", rec.Code)
	}

	rec = env.do(t, "PUT", "/me/preferences", "user-1", map[string]any{"ai_model": "gemini-2.5-flash"})
	decode(t, rec, &pref)
	if pref.AIModel != "gemini-2.5-flash" {
		t.Fatalf("expected saved model, got %q", pref.AIModel)
	}
}

func TestRuleEventsStream(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	ctx := context.Background()

	game := &games.Game{AuthorID: "user-1", Name: "Azul"}
	if err := env.repo.CreateGame(ctx, game); err != nil {
		t.Fatalf("creating game: %v", err)
	}
	if _, err := env.repo.QueueRule(ctx, game.ID, "req-1", games.RuleProgress{Stage: games.StageQueued}, time.Now()); err != nil {
		t.Fatalf("queueing rule: %v", err)
	}

	ts := httptest.NewServer(env.server)
	defer ts.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := stdhttp.NewRequestWithContext(reqCtx, "GET", ts.URL+"/games/"+game.ID+"/rules/events?access_token="+env.token(t, "user-1"), nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("expected event stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	event, data := readEvent(t, reader)
	if event != "snapshot" || !strings.Contains(data, `"processing_status":"queued"`) {
		t.Fatalf("unexpected snapshot %q %q", event, data)
	}

	// The subscription exists before the snapshot is written.
	topic := realtime.RulesTopic(game.ID)
	if n := env.hub.Subscribers(topic); n != 1 {
		t.Fatalf("expected the stream to be subscribed once the snapshot arrives, got %d subscribers", n)
	}

	if err := env.hub.Publish(ctx, topic, realtime.Event{Table: "game_rules", Type: realtime.TypeUpdate, Timestamp: time.Now()}); err != nil {
		t.Fatalf("publishing: %v", err)
	}

	event, data = readEvent(t, reader)
	if event != "change" || !strings.Contains(data, `"type":"UPDATE"`) {
		t.Fatalf("unexpected change event %q %q", event, data)
	}
}

func TestRuleEventsStreamEndsWhenFeedCloses(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	ctx := context.Background()

	game := &games.Game{AuthorID: "user-1", Name: "Azul"}
	if err := env.repo.CreateGame(ctx, game); err != nil {
		t.Fatalf("creating game: %v", err)
	}
	if _, err := env.repo.QueueRule(ctx, game.ID, "req-1", games.RuleProgress{Stage: games.StageQueued}, time.Now()); err != nil {
		t.Fatalf("queueing rule: %v", err)
	}

	ts := httptest.NewServer(env.server)
	defer ts.Close()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := stdhttp.NewRequestWithContext(reqCtx, "GET", ts.URL+"/games/"+game.ID+"/rules/events?access_token="+env.token(t, "user-1"), nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if event, _ := readEvent(t, reader); event != "snapshot" {
		t.Fatalf("expected snapshot first, got %q", event)
	}

	// A dropped subscription closes its channel; the client sees the stream end and reconnects.
	env.hub.Close()

	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("expected the stream to end cleanly, got %v", err)
	}
}

func TestRuleEventsStreamHidesOtherDrafts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, RateLimiterSettings{})
	game := &games.Game{AuthorID: "user-1", Name: "Azul"}
	if err := env.repo.CreateGame(context.Background(), game); err != nil {
		t.Fatalf("creating game: %v", err)
	}

	rec := env.do(t, "GET", "/games/"+game.ID+"/rules/events", "user-2", nil)
	if !strings.Contains(rec.Body.String(), "event: error") || !strings.Contains(rec.Body.String(), "404") {
		t.Fatalf("expected an error event, got %q", rec.Body.String())
	}
}

func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()

	var event, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "" && data != "":
			return event, data
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}
