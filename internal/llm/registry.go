package llm

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Provider names used as the prefix of a model identifier.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

const modelSeparator = "__"

// ParseModel splits a "<provider>__<model>" identifier. Identifiers without a
// provider prefix are routed to OpenAI.
func ParseModel(id string) (provider, model string, err error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", "", eris.New("model identifier is required")
	}

	provider, model, found := strings.Cut(trimmed, modelSeparator)
	if !found {
		return ProviderOpenAI, trimmed, nil
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return "", "", eris.Errorf("malformed model identifier %q", id)
	}
	return provider, model, nil
}

// Registry routes model identifiers to the provider that serves them. It
// implements Provider with full "<provider>__<model>" identifiers.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces the provider serving name.
func (r *Registry) Register(name string, provider Provider) {
	r.providers[strings.ToLower(strings.TrimSpace(name))] = provider
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supports reports whether id names a registered provider.
func (r *Registry) Supports(id string) bool {
	_, _, err := r.resolve(id)
	return err == nil
}

// ExtractRules routes to the provider named by modelID.
func (r *Registry) ExtractRules(ctx context.Context, modelID string, images []Image) (*RulesExtraction, error) {
	provider, model, err := r.resolve(modelID)
	if err != nil {
		return nil, err
	}
	return provider.ExtractRules(ctx, model, images)
}

// ExtractGameInfo routes to the provider named by modelID.
func (r *Registry) ExtractGameInfo(ctx context.Context, modelID string, images []Image) (*GameInfo, error) {
	provider, model, err := r.resolve(modelID)
	if err != nil {
		return nil, err
	}
	return provider.ExtractGameInfo(ctx, model, images)
}

// Complete routes to the provider named by modelID.
func (r *Registry) Complete(ctx context.Context, modelID, prompt string, images []Image) (string, error) {
	provider, model, err := r.resolve(modelID)
	if err != nil {
		return "", err
	}
	return provider.Complete(ctx, model, prompt, images)
}

func (r *Registry) resolve(id string) (Provider, string, error) {
	name, model, err := ParseModel(id)
	if err != nil {
		return nil, "", err
	}

	provider, ok := r.providers[name]
	if !ok || provider == nil {
		return nil, "", eris.Wrapf(ErrUnknownProvider, "provider %q", name)
	}
	return provider, model, nil
}
