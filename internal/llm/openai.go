package llm

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/shared"
	"github.com/openai/openai-go/v2/shared/constant"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/prompts"
)

// OpenAIOptions configures the OpenAI-backed provider.
type OpenAIOptions struct {
	Client      *Client
	Prompts     *prompts.Set
	Temperature float64
}

// OpenAIProvider sends vision prompts through the chat completions API.
type OpenAIProvider struct {
	client      *Client
	logger      *logrus.Logger
	prompts     *prompts.Set
	temperature float64
	rulesFormat openai.ChatCompletionNewParamsResponseFormatUnion
	infoFormat  openai.ChatCompletionNewParamsResponseFormatUnion
}

const defaultTemperature = 0.2

// NewOpenAIProvider constructs an OpenAIProvider.
func NewOpenAIProvider(opts OpenAIOptions) (*OpenAIProvider, error) {
	if opts.Client == nil {
		return nil, eris.New("llm client is required")
	}
	if opts.Prompts == nil {
		return nil, eris.New("prompt set is required")
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}

	return &OpenAIProvider{
		client:      opts.Client,
		logger:      opts.Client.logger,
		prompts:     opts.Prompts,
		temperature: temperature,
		rulesFormat: jsonSchemaFormat("game_rules", "Extracted rulebook text and metadata", rulesJSONSchema()),
		infoFormat:  jsonSchemaFormat("game_info", "Title and description read from game images", gameInfoJSONSchema()),
	}, nil
}

// ExtractRules transcribes the rulebook photographed in images.
func (p *OpenAIProvider) ExtractRules(ctx context.Context, model string, images []Image) (*RulesExtraction, error) {
	content, err := p.complete(ctx, model, p.prompts.RulesExtraction, "", images, p.rulesFormat)
	if err != nil {
		return nil, err
	}

	payload, err := decodeRules(content)
	if err != nil {
		p.logError(logrus.Fields{"model": model}, err, "parsing rules extraction")
		return nil, err
	}
	return payload, nil
}

// ExtractGameInfo reads a title and description from images.
func (p *OpenAIProvider) ExtractGameInfo(ctx context.Context, model string, images []Image) (*GameInfo, error) {
	content, err := p.complete(ctx, model, p.prompts.GameInfoExtraction, "", images, p.infoFormat)
	if err != nil {
		return nil, err
	}

	payload, err := decodeGameInfo(content)
	if err != nil {
		p.logError(logrus.Fields{"model": model}, err, "parsing game info extraction")
		return nil, err
	}
	return payload, nil
}

// Complete answers a free-form prompt, optionally with images attached.
func (p *OpenAIProvider) Complete(ctx context.Context, model, prompt string, images []Image) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", eris.New("prompt is required")
	}

	content, err := p.complete(ctx, model, "", prompt, images, openai.ChatCompletionNewParamsResponseFormatUnion{})
	if err != nil {
		return "", err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		p.logError(logrus.Fields{"model": model}, ErrEmptyResponse, "processing chat completion")
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (p *OpenAIProvider) complete(
	ctx context.Context,
	model, system, prompt string,
	images []Image,
	format openai.ChatCompletionNewParamsResponseFormatUnion,
) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", eris.New("model is required")
	}

	fields := logrus.Fields{"model": model, "images": len(images)}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(userParts(prompt, images)))

	params := openai.ChatCompletionNewParams{
		Model:          shared.ChatModel(model),
		Messages:       messages,
		ResponseFormat: format,
		Temperature:    openai.Float(p.temperature),
	}

	completion, err := p.client.chat.New(ctx, params)
	if err != nil {
		p.logError(fields, err, "requesting chat completion")
		return "", eris.Wrap(err, "requesting chat completion")
	}

	if len(completion.Choices) == 0 {
		err := eris.New("llm completion returned no choices")
		p.logError(fields, err, "processing chat completion")
		return "", err
	}

	choice := completion.Choices[0]
	if reason := strings.TrimSpace(choice.FinishReason); strings.EqualFold(reason, "content_filter") {
		p.logError(fields, ErrContentFiltered, "completion blocked")
		return "", ErrContentFiltered
	}

	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		err := eris.Wrapf(ErrRefused, "refusal: %s", refusal)
		p.logError(fields, err, "completion refused")
		return "", err
	}

	return choice.Message.Content, nil
}

func userParts(prompt string, images []Image) []openai.ChatCompletionContentPartUnionParam {
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	if text := strings.TrimSpace(prompt); text != "" {
		parts = append(parts, openai.TextContentPart(text))
	}
	for _, image := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: image.DataURL(),
		}))
	}
	return parts
}

func (p *OpenAIProvider) logError(fields logrus.Fields, err error, message string) {
	if p.logger == nil || err == nil {
		return
	}

	entry := p.logger.WithField("error", err.Error()).WithField("provider", ProviderOpenAI)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

func jsonSchemaFormat(name, description string, schema map[string]any) openai.ChatCompletionNewParamsResponseFormatUnion {
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        name,
				Description: openai.String(description),
				Strict:      openai.Bool(true),
				Schema:      schema,
			},
			Type: constant.ValueOf[constant.JSONSchema](),
		},
	}
}

// Strict mode requires every property to be listed as required, so optional
// values are expressed as nullable types.
func rulesJSONSchema() map[string]any {
	stringList := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
	nullableStringList := map[string]any{"type": []string{"array", "null"}, "items": map[string]any{"type": "string"}}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"raw_text", "metadata"},
		"properties": map[string]any{
			"raw_text": map[string]any{
				"type":        "string",
				"description": "Complete rules text exactly as written in the images.",
			},
			"metadata": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required": []string{
					"key_mechanics", "setup_instructions", "victory_conditions",
					"player_count", "components", "phases_of_play",
				},
				"properties": map[string]any{
					"key_mechanics":      stringList,
					"setup_instructions": map[string]any{"type": []string{"string", "null"}},
					"victory_conditions": map[string]any{"type": []string{"string", "null"}},
					"player_count": map[string]any{
						"type":                 []string{"object", "null"},
						"additionalProperties": false,
						"required":             []string{"min", "max", "recommended"},
						"properties": map[string]any{
							"min":         map[string]any{"type": "integer"},
							"max":         map[string]any{"type": "integer"},
							"recommended": map[string]any{"type": []string{"integer", "null"}},
						},
					},
					"components":     nullableStringList,
					"phases_of_play": nullableStringList,
				},
			},
		},
	}
}

func gameInfoJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"title", "description", "estimated_play_time"},
		"properties": map[string]any{
			"title":               map[string]any{"type": "string"},
			"description":         map[string]any{"type": "string"},
			"estimated_play_time": map[string]any{"type": []string{"integer", "null"}, "description": "Minutes"},
		},
	}
}
