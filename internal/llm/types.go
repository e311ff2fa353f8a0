package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrContentFiltered indicates the provider blocked the request or response.
	ErrContentFiltered = eris.New("llm blocked the request via content filter")
	// ErrRefused indicates the model declined to answer.
	ErrRefused = eris.New("llm refused to answer")
	// ErrEmptyResponse indicates the provider returned nothing usable.
	ErrEmptyResponse = eris.New("llm response content is empty")
	// ErrUnknownProvider indicates a model identifier naming an unregistered provider.
	ErrUnknownProvider = eris.New("unknown llm provider")
)

// Image is one picture sent to a vision-capable model.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as an inline data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// PlayerCount is the player range stated in a rulebook.
type PlayerCount struct {
	Min         int  `json:"min"`
	Max         int  `json:"max"`
	Recommended *int `json:"recommended,omitempty"`
}

// RulesMetadata is the structured summary extracted next to the raw rules text.
type RulesMetadata struct {
	KeyMechanics      []string     `json:"key_mechanics"`
	SetupInstructions string       `json:"setup_instructions,omitempty"`
	VictoryConditions string       `json:"victory_conditions,omitempty"`
	PlayerCount       *PlayerCount `json:"player_count,omitempty"`
	Components        []string     `json:"components,omitempty"`
	PhasesOfPlay      []string     `json:"phases_of_play,omitempty"`
}

// RulesExtraction is the schema-constrained answer to the rules extraction prompt.
type RulesExtraction struct {
	RawText  string        `json:"raw_text"`
	Metadata RulesMetadata `json:"metadata"`
}

// GameInfo is the schema-constrained answer to the game info prompt.
type GameInfo struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	EstimatedPlayTime *int   `json:"estimated_play_time,omitempty"`
}

// Provider is a vision-capable model backend. Model names are provider specific.
type Provider interface {
	ExtractRules(ctx context.Context, model string, images []Image) (*RulesExtraction, error)
	ExtractGameInfo(ctx context.Context, model string, images []Image) (*GameInfo, error)
	Complete(ctx context.Context, model, prompt string, images []Image) (string, error)
}

func decodeRules(raw string) (*RulesExtraction, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrEmptyResponse
	}

	var payload RulesExtraction
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, eris.Wrap(err, "decoding llm response json")
	}

	if strings.TrimSpace(payload.RawText) == "" {
		return nil, eris.New("llm response missing raw_text field")
	}
	if payload.Metadata.KeyMechanics == nil {
		payload.Metadata.KeyMechanics = []string{}
	}

	return &payload, nil
}

func decodeGameInfo(raw string) (*GameInfo, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrEmptyResponse
	}

	var payload GameInfo
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, eris.Wrap(err, "decoding llm response json")
	}

	payload.Title = strings.TrimSpace(payload.Title)
	payload.Description = strings.TrimSpace(payload.Description)
	if payload.Title == "" {
		return nil, eris.New("llm response missing title field")
	}
	if payload.EstimatedPlayTime != nil && *payload.EstimatedPlayTime <= 0 {
		payload.EstimatedPlayTime = nil
	}

	return &payload, nil
}
