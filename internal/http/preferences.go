package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"rulebook/app/internal/games"
)

type preferenceBody struct {
	AIModel   string     `json:"ai_model"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type preferenceOutput struct {
	Body preferenceBody
}

type setPreferenceInput struct {
	Body struct {
		AIModel string `json:"ai_model" minLength:"1" maxLength:"128"`
	}
}

func (s *Server) registerPreferenceRoutes() {
	huma.Register(s.api, secured(huma.Operation{
		OperationID: "get-preferences",
		Method:      stdhttp.MethodGet,
		Path:        "/me/preferences",
		Summary:     "Read the caller's preferences",
		Tags:        []string{"preferences"},
	}), s.getPreferenceHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "set-preferences",
		Method:      stdhttp.MethodPut,
		Path:        "/me/preferences",
		Summary:     "Choose the model used for rule extraction and questions",
		Tags:        []string{"preferences"},
	}), s.setPreferenceHandler)
}

func (s *Server) getPreferenceHandler(ctx context.Context, _ *struct{}) (*preferenceOutput, error) {
	pref, err := s.games.Preference(ctx, UserIDFromContext(ctx))
	if err != nil {
		return nil, s.problem(ctx, err, "loading preferences", nil)
	}
	return &preferenceOutput{Body: newPreferenceBody(pref)}, nil
}

func (s *Server) setPreferenceHandler(ctx context.Context, input *setPreferenceInput) (*preferenceOutput, error) {
	pref, err := s.games.SetPreference(ctx, UserIDFromContext(ctx), input.Body.AIModel)
	if err != nil {
		return nil, s.problem(ctx, err, "saving preferences", nil)
	}
	return &preferenceOutput{Body: newPreferenceBody(pref)}, nil
}

func newPreferenceBody(pref *games.UserPreference) preferenceBody {
	body := preferenceBody{AIModel: pref.AIModel}
	if !pref.UpdatedAt.IsZero() {
		updated := pref.UpdatedAt.UTC()
		body.UpdatedAt = &updated
	}
	return body
}
