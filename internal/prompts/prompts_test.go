package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPromptsAreComplete(t *testing.T) {
	t.Parallel()

	set, err := Default()
	require.NoError(t, err)

	assert.Contains(t, set.RulesExtraction, "Extract the complete rules text exactly as written")
	assert.Contains(t, set.GameInfoExtraction, "estimated play time")
}

func TestQuestionRendersContext(t *testing.T) {
	t.Parallel()

	set, err := Default()
	require.NoError(t, err)

	prompt, err := set.Question(QuestionContext{
		Title:       "Azul",
		Description: "Tile drafting",
		Rules:       "Take all tiles of one colour.",
		UserPrompt:  "Can I take from the centre?",
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "Game Title: Azul")
	assert.Contains(t, prompt, "Take all tiles of one colour.")
	assert.Contains(t, prompt, "Can I take from the centre?")
	assert.NotContains(t, prompt, "Rules Summary")
}

func TestExamplesDefaultsCountToOne(t *testing.T) {
	t.Parallel()

	set, err := Default()
	require.NoError(t, err)

	prompt, err := set.Examples(QuestionContext{Title: "Codenames"})
	require.NoError(t, err)
	assert.Contains(t, prompt, "generate 1 creative examples")
}

func TestLoadOverridesSingleField(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("game_info_extraction: Only the title please.\n"), 0o600))

	set, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Only the title please.", set.GameInfoExtraction)
	assert.Contains(t, set.RulesExtraction, "Analyze the provided game rule images")
}

func TestLoadRejectsBrokenTemplate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules_question: \"{{.Title\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
