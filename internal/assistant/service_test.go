package assistant

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"rulebook/app/internal/games"
	"rulebook/app/internal/games/gamestest"
	"rulebook/app/internal/llm"
	applog "rulebook/app/internal/log"
	"rulebook/app/internal/prompts"
	"rulebook/app/internal/storage"
)

const defaultModel = "openai__gpt-4o-mini"

type fakeCompleter struct {
	mu        sync.Mutex
	supported map[string]bool
	reply     string
	err       error
	model     string
	prompt    string
	images    []llm.Image
}

func (f *fakeCompleter) Supports(modelID string) bool {
	return f.supported[modelID]
}

func (f *fakeCompleter) Complete(_ context.Context, modelID, prompt string, images []llm.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model = modelID
	f.prompt = prompt
	f.images = images
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fixture struct {
	repo   *games.GormRepository
	store  *storage.Store
	models *fakeCompleter
	svc    *Service
	game   *games.Game
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	set, err := prompts.Default()
	require.NoError(t, err)

	f := &fixture{
		repo:   gamestest.OpenRepository(t),
		store:  storage.NewMemoryStore(applog.Discard()),
		models: &fakeCompleter{supported: map[string]bool{defaultModel: true, "gemini__gemini-2.0-flash": true}, reply: "You may trade on your turn."},
	}
	f.svc, err = NewService(Options{
		Repository:   f.repo,
		Blobs:        f.store,
		Models:       f.models,
		Prompts:      set,
		Logger:       applog.Discard(),
		DefaultModel: defaultModel,
	})
	require.NoError(t, err)

	f.game = gamestest.CreateGame(t, f.repo, "user-1", "Harbour Run")
	return f
}

func (f *fixture) completeRules(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	rule, err := f.repo.QueueRule(ctx, f.game.ID, "req-1", games.RuleProgress{Stage: games.StageQueued}, f.game.CreatedAt)
	require.NoError(t, err)

	status := games.ProcessingCompleted
	text := "Each player may trade once per turn."
	require.NoError(t, f.repo.UpdateRule(ctx, rule.ID, games.RuleUpdate{
		Status:            &status,
		RawText:           &text,
		StructuredContent: datatypes.JSON(`{"key_mechanics":["trading"]}`),
	}))
}

func TestAskRulesQuestion(t *testing.T) {
	f := newFixture(t)
	f.completeRules(t)

	answer, err := f.svc.Ask(context.Background(), "user-1", Question{GameID: f.game.ID, UserPrompt: "Can I trade twice?"})
	require.NoError(t, err)

	assert.Equal(t, "You may trade on your turn.", answer.Suggestion)
	assert.Equal(t, defaultModel, f.models.model)
	assert.Contains(t, f.models.prompt, "Game Title: Harbour Run")
	assert.Contains(t, f.models.prompt, "Each player may trade once per turn.")
	assert.Contains(t, f.models.prompt, `"key_mechanics":["trading"]`)
	assert.Contains(t, f.models.prompt, "Can I trade twice?")
	assert.Empty(t, f.models.images)
}

func TestAskUsesPreferredModel(t *testing.T) {
	f := newFixture(t)
	f.completeRules(t)
	ctx := context.Background()

	require.NoError(t, f.repo.SavePreference(ctx, &games.UserPreference{UserID: "user-1", AIModel: "gemini__gemini-2.0-flash"}))

	_, err := f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, UserPrompt: "Setup?"})
	require.NoError(t, err)
	assert.Equal(t, "gemini__gemini-2.0-flash", f.models.model)

	require.NoError(t, f.repo.SavePreference(ctx, &games.UserPreference{UserID: "user-1", AIModel: "anthropic__claude"}))

	_, err = f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, UserPrompt: "Setup?"})
	require.NoError(t, err)
	assert.Equal(t, defaultModel, f.models.model, "unregistered providers fall back to the default")
}

func TestAskExamplesAttachesStoredExampleImages(t *testing.T) {
	f := newFixture(t)
	f.completeRules(t)
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\n0000")
	_, err := f.store.Upload(ctx, "user-1/examples/one.png", png)
	require.NoError(t, err)
	require.NoError(t, f.repo.CreateImages(ctx, []games.GameImage{
		{GameID: f.game.ID, ImageURL: "user-1/examples/one.png", ImageType: games.ImageTypeExample},
		{GameID: f.game.ID, ImageURL: "https://example.com/remote.png", ImageType: games.ImageTypeExample, IsExternal: true},
		{GameID: f.game.ID, ImageURL: "user-1/rules/page.png", ImageType: games.ImageTypeRules},
	}))

	_, err = f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, UserPrompt: "More trades", N: 3, Type: QuestionExamples})
	require.NoError(t, err)

	require.Len(t, f.models.images, 1)
	assert.Equal(t, "image/png", f.models.images[0].MIMEType)
	assert.Contains(t, f.models.prompt, "generate 3 creative examples")
}

func TestAskRequiresCompletedRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, UserPrompt: "?"})
	assert.True(t, eris.Is(err, ErrRulesNotReady))

	_, err = f.repo.QueueRule(ctx, f.game.ID, "req-1", games.RuleProgress{Stage: games.StageQueued}, f.game.CreatedAt)
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, UserPrompt: "?"})
	assert.True(t, eris.Is(err, ErrRulesNotReady))
	assert.Empty(t, f.models.prompt)
}

func TestAskRejectsInvisibleAndInvalidRequests(t *testing.T) {
	f := newFixture(t)
	f.completeRules(t)
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, "user-2", Question{GameID: f.game.ID})
	assert.True(t, eris.Is(err, games.ErrGameNotFound), "drafts are private")

	_, err = f.svc.Ask(ctx, "user-1", Question{GameID: "missing"})
	assert.True(t, eris.Is(err, games.ErrGameNotFound))

	_, err = f.svc.Ask(ctx, "user-1", Question{})
	assert.True(t, eris.Is(err, games.ErrInvalidInput))

	_, err = f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, Type: "poems"})
	assert.True(t, eris.Is(err, games.ErrInvalidInput))

	_, err = f.svc.Ask(ctx, "user-1", Question{GameID: f.game.ID, Type: QuestionExamples, N: maxExamples + 1})
	assert.True(t, eris.Is(err, games.ErrInvalidInput))
}

func TestAskWrapsModelFailures(t *testing.T) {
	f := newFixture(t)
	f.completeRules(t)
	f.models.err = llm.ErrContentFiltered

	_, err := f.svc.Ask(context.Background(), "user-1", Question{GameID: f.game.ID, UserPrompt: "?"})
	require.Error(t, err)
	assert.True(t, eris.Is(err, llm.ErrContentFiltered))
	assert.True(t, strings.Contains(err.Error(), "answering question"))
}
