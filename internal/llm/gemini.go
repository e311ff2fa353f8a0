package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"rulebook/app/internal/prompts"
)

// GeminiOptions configures the Gemini-backed provider.
type GeminiOptions struct {
	APIKey      string
	HTTPClient  *http.Client
	Logger      *logrus.Logger
	Prompts     *prompts.Set
	Temperature float32
}

// GeminiProvider sends vision prompts through the Gemini API.
type GeminiProvider struct {
	models      contentGenerator
	logger      *logrus.Logger
	prompts     *prompts.Set
	temperature float32
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// NewGeminiProvider constructs a GeminiProvider.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, eris.New("gemini api key is required")
	}
	if opts.Prompts == nil {
		return nil, eris.New("prompt set is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, eris.Wrap(err, "creating gemini client")
	}

	return newGeminiProvider(client.Models, opts), nil
}

func newGeminiProvider(models contentGenerator, opts GeminiOptions) *GeminiProvider {
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	return &GeminiProvider{
		models:      models,
		logger:      opts.Logger,
		prompts:     opts.Prompts,
		temperature: temperature,
	}
}

// ExtractRules transcribes the rulebook photographed in images.
func (p *GeminiProvider) ExtractRules(ctx context.Context, model string, images []Image) (*RulesExtraction, error) {
	text, err := p.generate(ctx, model, p.prompts.RulesExtraction, "", images, rulesGeminiSchema())
	if err != nil {
		return nil, err
	}

	payload, err := decodeRules(text)
	if err != nil {
		p.logError(logrus.Fields{"model": model}, err, "parsing rules extraction")
		return nil, err
	}
	return payload, nil
}

// ExtractGameInfo reads a title and description from images.
func (p *GeminiProvider) ExtractGameInfo(ctx context.Context, model string, images []Image) (*GameInfo, error) {
	text, err := p.generate(ctx, model, p.prompts.GameInfoExtraction, "", images, gameInfoGeminiSchema())
	if err != nil {
		return nil, err
	}

	payload, err := decodeGameInfo(text)
	if err != nil {
		p.logError(logrus.Fields{"model": model}, err, "parsing game info extraction")
		return nil, err
	}
	return payload, nil
}

// Complete answers a free-form prompt, optionally with images attached.
func (p *GeminiProvider) Complete(ctx context.Context, model, prompt string, images []Image) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", eris.New("prompt is required")
	}

	text, err := p.generate(ctx, model, "", prompt, images, nil)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		p.logError(logrus.Fields{"model": model}, ErrEmptyResponse, "processing gemini response")
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (p *GeminiProvider) generate(ctx context.Context, model, system, prompt string, images []Image, schema *genai.Schema) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", eris.New("model is required")
	}

	fields := logrus.Fields{"model": model, "images": len(images)}

	parts := make([]*genai.Part, 0, len(images)+1)
	if text := strings.TrimSpace(prompt); text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	for _, image := range images {
		parts = append(parts, genai.NewPartFromBytes(image.Data, image.MIMEType))
	}
	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText("Analyze the attached images."))
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(p.temperature),
	}
	if strings.TrimSpace(system) != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}

	resp, err := p.models.GenerateContent(ctx, model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		p.logError(fields, err, "requesting gemini content")
		return "", eris.Wrap(err, "requesting gemini content")
	}

	if resp == nil {
		p.logError(fields, ErrEmptyResponse, "processing gemini response")
		return "", ErrEmptyResponse
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		p.logError(fields, ErrContentFiltered, "gemini prompt blocked")
		return "", ErrContentFiltered
	}
	if len(resp.Candidates) == 0 {
		err := eris.New("gemini response returned no candidates")
		p.logError(fields, err, "processing gemini response")
		return "", err
	}

	switch resp.Candidates[0].FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist:
		p.logError(fields, ErrContentFiltered, "gemini response blocked")
		return "", ErrContentFiltered
	}

	return resp.Text(), nil
}

func (p *GeminiProvider) logError(fields logrus.Fields, err error, message string) {
	if p.logger == nil || err == nil {
		return
	}

	entry := p.logger.WithField("error", err.Error()).WithField("provider", ProviderGemini)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

func rulesGeminiSchema() *genai.Schema {
	nullable := genai.Ptr(true)
	stringList := func(isNullable *bool) *genai.Schema {
		return &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}, Nullable: isNullable}
	}

	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"raw_text", "metadata"},
		Properties: map[string]*genai.Schema{
			"raw_text": {
				Type:        genai.TypeString,
				Description: "Complete rules text exactly as written in the images.",
			},
			"metadata": {
				Type:     genai.TypeObject,
				Required: []string{"key_mechanics"},
				Properties: map[string]*genai.Schema{
					"key_mechanics":      stringList(nil),
					"setup_instructions": {Type: genai.TypeString, Nullable: nullable},
					"victory_conditions": {Type: genai.TypeString, Nullable: nullable},
					"player_count": {
						Type:     genai.TypeObject,
						Nullable: nullable,
						Required: []string{"min", "max"},
						Properties: map[string]*genai.Schema{
							"min":         {Type: genai.TypeInteger},
							"max":         {Type: genai.TypeInteger},
							"recommended": {Type: genai.TypeInteger, Nullable: nullable},
						},
					},
					"components":     stringList(nullable),
					"phases_of_play": stringList(nullable),
				},
			},
		},
	}
}

func gameInfoGeminiSchema() *genai.Schema {
	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"title", "description"},
		Properties: map[string]*genai.Schema{
			"title":               {Type: genai.TypeString},
			"description":         {Type: genai.TypeString},
			"estimated_play_time": {Type: genai.TypeInteger, Nullable: genai.Ptr(true), Description: "Minutes"},
		},
	}
}
