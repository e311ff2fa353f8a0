package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rulebook/app/internal/games"
	"rulebook/app/internal/games/gamestest"
	"rulebook/app/internal/llm"
	applog "rulebook/app/internal/log"
	"rulebook/app/internal/realtime"
	"rulebook/app/internal/storage"
)

func TestMain(m *testing.M) {
	// The genai dependency chain starts the opencensus stats worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fakeModels struct {
	mu         sync.Mutex
	rules      *llm.RulesExtraction
	info       *llm.GameInfo
	err        error
	rulesCalls int
	lastImages []llm.Image
	lastModel  string
}

func (f *fakeModels) ExtractRules(_ context.Context, modelID string, images []llm.Image) (*llm.RulesExtraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rulesCalls++
	f.lastImages = images
	f.lastModel = modelID
	if f.err != nil {
		return nil, f.err
	}
	return f.rules, nil
}

func (f *fakeModels) ExtractGameInfo(_ context.Context, modelID string, images []llm.Image) (*llm.GameInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastModel = modelID
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

type fixture struct {
	repo   *games.GormRepository
	store  *storage.Store
	models *fakeModels
	hub    *realtime.Hub
	runner *Runner
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := applog.Discard()
	f := &fixture{
		repo:  gamestest.OpenRepository(t),
		store: storage.NewMemoryStore(logger),
		models: &fakeModels{
			rules: &llm.RulesExtraction{
				RawText: "Players take turns drafting tiles.",
				Metadata: llm.RulesMetadata{
					KeyMechanics: []string{"tile drafting"},
					PlayerCount:  &llm.PlayerCount{Min: 2, Max: 4},
				},
			},
			info: &llm.GameInfo{Title: "Azul", Description: "Tile drafting for 2-4 players.", EstimatedPlayTime: games.IntPtr(45)},
		},
		hub:    realtime.NewHub(logger),
		runner: NewRunner(logger),
	}
	t.Cleanup(f.hub.Close)

	svc, err := NewService(Options{
		Repository:    f.repo,
		Blobs:         f.store,
		Models:        f.models,
		Publisher:     f.hub,
		Runner:        f.runner,
		Logger:        logger,
		RulesModel:    "openai__gpt-4o",
		GameInfoModel: "openai__gpt-4o-mini",
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) upload(t *testing.T, paths ...string) {
	t.Helper()
	for _, path := range paths {
		_, err := f.store.Upload(context.Background(), path, []byte("page "+path))
		require.NoError(t, err)
	}
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Wait(ctx))
}

func (f *fixture) rule(t *testing.T, gameID string) *games.GameRule {
	t.Helper()
	rule, err := f.repo.GetRuleByGame(context.Background(), gameID)
	require.NoError(t, err)
	require.NotNil(t, rule)
	return rule
}

func TestProcessRulesCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	game := gamestest.CreateGame(t, f.repo, "user-1", "Azul")
	f.upload(t, "user-1/a.jpg", "user-1/b.jpg")

	events, cancel, err := f.hub.Subscribe(ctx, realtime.RulesTopic(game.ID))
	require.NoError(t, err)
	defer cancel()

	result, err := f.svc.ProcessRules(ctx, "user-1", game.ID, []ImageRef{
		{Path: "user-1/b.jpg", OrderIndex: games.IntPtr(1)},
		{Path: "user-1/a.jpg", OrderIndex: games.IntPtr(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, game.ID, result.GameID)
	assert.NotEmpty(t, result.RequestID)
	assert.NotEmpty(t, result.RuleID)
	assert.Equal(t, "Game rules processing started", result.Message)

	f.wait(t)

	rule := f.rule(t, game.ID)
	assert.Equal(t, games.ProcessingCompleted, rule.ProcessingStatus)
	assert.Equal(t, 1, rule.ProcessingAttempts)
	assert.Equal(t, "Players take turns drafting tiles.", rule.RawText)
	assert.Nil(t, rule.ErrorMessage)
	assert.NotNil(t, rule.ProcessedAt)
	assert.Equal(t, result.RequestID, rule.ProcessingRequestID)

	var metadata llm.RulesMetadata
	require.NoError(t, json.Unmarshal(rule.StructuredContent, &metadata))
	assert.Equal(t, []string{"tile drafting"}, metadata.KeyMechanics)

	progress, err := games.DecodeProgress(rule.ProcessingProgress)
	require.NoError(t, err)
	assert.Equal(t, games.StageCompleted, progress.Stage)
	assert.Equal(t, "success", progress.Status)

	require.Len(t, f.models.lastImages, 2)
	assert.Equal(t, []byte("page user-1/a.jpg"), f.models.lastImages[0].Data)
	assert.Equal(t, "openai__gpt-4o", f.models.lastModel)

	images, err := f.repo.ListImages(ctx, game.ID, games.ImageTypeRules)
	require.NoError(t, err)
	assert.Len(t, images, 2)

	stored, err := f.repo.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasCompleteRules)

	var stages []string
	for len(events) > 0 {
		ev := <-events
		record, ok := ev.Record.(games.RuleRecord)
		require.True(t, ok)
		if record.ProcessingProgress != nil {
			stages = append(stages, record.ProcessingProgress.Stage)
		}
	}
	require.NotEmpty(t, stages)
	assert.Equal(t, games.StageQueued, stages[0])
	assert.Contains(t, stages, games.StageDownloadingImages)
	assert.Contains(t, stages, games.StageAIProcessing)
	assert.Equal(t, games.StageCompleted, stages[len(stages)-1])
}

func TestProcessRulesTwiceCountsBothAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	game := gamestest.CreateGame(t, f.repo, "user-1", "Azul")
	f.upload(t, "user-1/a.jpg")
	refs := []ImageRef{{Path: "user-1/a.jpg"}}

	_, err := f.svc.ProcessRules(ctx, "user-1", game.ID, refs)
	require.NoError(t, err)
	f.wait(t)
	second, err := f.svc.ProcessRules(ctx, "user-1", game.ID, refs)
	require.NoError(t, err)
	f.wait(t)

	rule := f.rule(t, game.ID)
	assert.Equal(t, 2, rule.ProcessingAttempts)
	assert.Equal(t, second.RequestID, rule.ProcessingRequestID)
	assert.Equal(t, 2, f.models.rulesCalls)

	images, err := f.repo.ListImages(ctx, game.ID)
	require.NoError(t, err)
	assert.Len(t, images, 1, "an already registered path must not be duplicated")
}

func TestProcessRulesRecordsModelFailure(t *testing.T) {
	f := newFixture(t)
	f.models.err = eris.New("model overloaded")
	game := gamestest.CreateGame(t, f.repo, "user-1", "Azul")
	f.upload(t, "user-1/a.jpg")

	_, err := f.svc.ProcessRules(context.Background(), "user-1", game.ID, []ImageRef{{Path: "user-1/a.jpg"}})
	require.NoError(t, err, "background failures are not surfaced to the caller")
	f.wait(t)

	rule := f.rule(t, game.ID)
	assert.Equal(t, games.ProcessingError, rule.ProcessingStatus)
	require.NotNil(t, rule.ErrorMessage)
	assert.Contains(t, *rule.ErrorMessage, "model overloaded")
	assert.NotNil(t, rule.ProcessedAt)

	progress, err := games.DecodeProgress(rule.ProcessingProgress)
	require.NoError(t, err)
	assert.Equal(t, games.StageError, progress.Stage)
	assert.NotNil(t, progress.Timestamp)
}

func TestProcessRulesRecordsMissingImage(t *testing.T) {
	f := newFixture(t)
	game := gamestest.CreateGame(t, f.repo, "user-1", "Azul")

	_, err := f.svc.ProcessRules(context.Background(), "user-1", game.ID, []ImageRef{{Path: "user-1/missing.jpg"}})
	require.NoError(t, err)
	f.wait(t)

	rule := f.rule(t, game.ID)
	assert.Equal(t, games.ProcessingError, rule.ProcessingStatus)
	assert.Equal(t, 0, f.models.rulesCalls)
}

func TestProcessRulesValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	game := gamestest.CreateGame(t, f.repo, "owner", "Azul")

	_, err := f.svc.ProcessRules(ctx, "owner", "", []ImageRef{{Path: "a.jpg"}})
	assert.True(t, eris.Is(err, games.ErrInvalidInput))

	_, err = f.svc.ProcessRules(ctx, "owner", game.ID, nil)
	assert.True(t, eris.Is(err, games.ErrInvalidInput))

	_, err = f.svc.ProcessRules(ctx, "owner", game.ID, []ImageRef{{Path: "../etc/passwd"}})
	assert.True(t, eris.Is(err, games.ErrInvalidInput))

	_, err = f.svc.ProcessRules(ctx, "owner", "missing", []ImageRef{{Path: "a.jpg"}})
	assert.True(t, eris.Is(err, games.ErrGameNotFound))

	_, err = f.svc.ProcessRules(ctx, "intruder", game.ID, []ImageRef{{Path: "a.jpg"}})
	assert.True(t, eris.Is(err, games.ErrForbidden))

	rule, err := f.repo.GetRuleByGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Nil(t, rule, "rejected calls must not queue a rule")
}

func TestProcessRulesAfterShutdownMarksError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	game := gamestest.CreateGame(t, f.repo, "user-1", "Azul")
	require.NoError(t, f.runner.Shutdown(ctx))

	_, err := f.svc.ProcessRules(ctx, "user-1", game.ID, []ImageRef{{Path: "user-1/a.jpg"}})
	assert.True(t, eris.Is(err, ErrRunnerClosed))
	assert.Equal(t, games.ProcessingError, f.rule(t, game.ID).ProcessingStatus)
}

func TestCreateGameFromImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "user-1/cover.jpg", "user-1/page.jpg")

	result, err := f.svc.CreateGame(ctx, "user-1", []ImageRef{
		{Path: "user-1/cover.jpg", IsCover: true},
		{Path: "user-1/page.jpg"},
	})
	require.NoError(t, err)
	f.wait(t)

	assert.Equal(t, createdMessage, result.Message)
	assert.Equal(t, "Azul", result.Game.Name)
	assert.Equal(t, games.StatusDraft, result.Game.Status)
	require.NotNil(t, result.Game.EstimatedTime)
	assert.Equal(t, 45, *result.Game.EstimatedTime)
	require.NotNil(t, result.Game.CoverImageID)

	cover, err := f.repo.GetImage(ctx, result.Game.ID, *result.Game.CoverImageID)
	require.NoError(t, err)
	require.NotNil(t, cover)
	assert.Equal(t, "user-1/cover.jpg", cover.ImageURL)

	images, err := f.repo.ListImages(ctx, result.Game.ID)
	require.NoError(t, err)
	assert.Len(t, images, 2)

	rule := f.rule(t, result.Game.ID)
	assert.Equal(t, games.ProcessingCompleted, rule.ProcessingStatus)
	assert.Equal(t, 1, rule.ProcessingAttempts)
}

func TestCreateGameSurfacesInfoFailure(t *testing.T) {
	f := newFixture(t)
	f.models.err = eris.New("no vision today")
	f.upload(t, "user-1/page.jpg")

	_, err := f.svc.CreateGame(context.Background(), "user-1", []ImageRef{{Path: "user-1/page.jpg"}})
	assert.Error(t, err)
	assert.Equal(t, 0, f.models.rulesCalls)
}

func TestCreateGameDiscardsDraftOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "user-1/page.jpg")

	_, err := f.svc.CreateGame(ctx, "user-1", []ImageRef{{Path: "user-1/page.jpg"}, {Path: "user-1/missing.jpg"}})
	require.Error(t, err)

	drafts, total, err := f.repo.ListGames(ctx, games.ListFilter{AuthorID: "user-1"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, drafts)
}

func TestCreateGameCollapsesRepeatedPaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "user-1/page.jpg")

	result, err := f.svc.CreateGame(ctx, "user-1", []ImageRef{
		{Path: "user-1/page.jpg"},
		{Path: "user-1/./page.jpg", IsCover: true},
	})
	require.NoError(t, err)
	f.wait(t)

	images, err := f.repo.ListImages(ctx, result.Game.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.NotNil(t, result.Game.CoverImageID)
	assert.Equal(t, images[0].ID, *result.Game.CoverImageID)

	_, total, err := f.repo.ListGames(ctx, games.ListFilter{AuthorID: "user-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestImagePathsMustBelongToAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, "victim/page.jpg")
	game := gamestest.CreateGame(t, f.repo, "user-1", "Azul")

	_, err := f.svc.ProcessRules(ctx, "user-1", game.ID, []ImageRef{{Path: "victim/page.jpg"}})
	assert.True(t, eris.Is(err, games.ErrForbidden))

	_, err = f.svc.CreateGame(ctx, "user-1", []ImageRef{{Path: "user-1/page.jpg"}, {Path: "victim/page.jpg"}})
	assert.True(t, eris.Is(err, games.ErrForbidden))

	images, err := f.repo.ListImages(ctx, game.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
	_, total, err := f.repo.ListGames(ctx, games.ListFilter{AuthorID: "user-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, 0, f.models.rulesCalls)
}

func TestSortRefsPutsUnindexedLast(t *testing.T) {
	refs := sortRefs([]ImageRef{
		{Path: "none"},
		{Path: "two", OrderIndex: games.IntPtr(2)},
		{Path: "zero", OrderIndex: games.IntPtr(0)},
	})

	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		paths = append(paths, ref.Path)
	}
	assert.Equal(t, []string{"zero", "two", "none"}, paths)
}
