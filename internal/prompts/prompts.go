// Package prompts loads the instruction texts sent to the language models.
package prompts

import (
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Set holds every prompt the service sends.
type Set struct {
	RulesExtraction    string `yaml:"rules_extraction"`
	GameInfoExtraction string `yaml:"game_info_extraction"`
	RulesQuestion      string `yaml:"rules_question"`
	ExamplesGeneration string `yaml:"examples_generation"`

	rulesQuestion      *template.Template
	examplesGeneration *template.Template
}

// QuestionContext feeds the question and example templates.
type QuestionContext struct {
	Title       string
	Description string
	Rules       string
	Metadata    string
	UserPrompt  string
	Count       int
}

// Default returns the embedded prompt set.
func Default() (*Set, error) {
	return parse(defaultPrompts)
}

// Load returns the embedded prompts, overridden field by field by the YAML file at path when set.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	override, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reading prompts file: %s", path)
	}

	var set Set
	if err := yaml.Unmarshal(defaultPrompts, &set); err != nil {
		return nil, eris.Wrap(err, "decoding embedded prompts")
	}
	if err := yaml.Unmarshal(override, &set); err != nil {
		return nil, eris.Wrapf(err, "decoding prompts file: %s", path)
	}
	return set.compile()
}

func parse(raw []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, eris.Wrap(err, "decoding prompts")
	}
	return set.compile()
}

func (s Set) compile() (*Set, error) {
	for name, value := range map[string]string{
		"rules_extraction":     s.RulesExtraction,
		"game_info_extraction": s.GameInfoExtraction,
		"rules_question":       s.RulesQuestion,
		"examples_generation":  s.ExamplesGeneration,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, eris.Errorf("prompt %s is empty", name)
		}
	}

	var err error
	if s.rulesQuestion, err = template.New("rules_question").Parse(s.RulesQuestion); err != nil {
		return nil, eris.Wrap(err, "parsing rules_question template")
	}
	if s.examplesGeneration, err = template.New("examples_generation").Parse(s.ExamplesGeneration); err != nil {
		return nil, eris.Wrap(err, "parsing examples_generation template")
	}
	return &s, nil
}

// Question renders the prompt for a rules question.
func (s *Set) Question(data QuestionContext) (string, error) {
	return render(s.rulesQuestion, data)
}

// Examples renders the prompt asking for new examples.
func (s *Set) Examples(data QuestionContext) (string, error) {
	if data.Count < 1 {
		data.Count = 1
	}
	return render(s.examplesGeneration, data)
}

func render(tmpl *template.Template, data QuestionContext) (string, error) {
	if tmpl == nil {
		return "", eris.New("prompt template is not compiled")
	}

	var builder strings.Builder
	if err := tmpl.Execute(&builder, data); err != nil {
		return "", eris.Wrapf(err, "rendering %s", tmpl.Name())
	}
	return strings.TrimSpace(builder.String()), nil
}
