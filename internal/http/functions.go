package http

import (
	"context"
	stdhttp "net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/assistant"
	"rulebook/app/internal/ingest"
)

type ruleImageInput struct {
	Path       string `json:"path" minLength:"1" doc:"Storage path of the uploaded image"`
	OrderIndex *int   `json:"order_index,omitempty" doc:"Page order, missing values sort last"`
}

type coverImageInput struct {
	Path    string `json:"path" minLength:"1" doc:"Storage path of the uploaded image"`
	IsCover bool   `json:"isCover,omitempty"`
}

type processRulesInput struct {
	Body struct {
		GameID string           `json:"gameId" minLength:"1"`
		Images []ruleImageInput `json:"images" minItems:"1"`
	}
}

type queueOutput struct {
	Status int
	Body   struct {
		Message   string `json:"message"`
		GameID    string `json:"gameId"`
		RequestID string `json:"requestId"`
		RuleID    string `json:"ruleId"`
	}
}

type createGameInput struct {
	Body struct {
		Images []coverImageInput `json:"images" minItems:"1"`
	}
}

type createdGameBody struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	EstimatedTime *int   `json:"estimatedTime,omitempty"`
}

type createGameOutput struct {
	Status int
	Body   struct {
		Game    createdGameBody `json:"game"`
		Message string          `json:"message"`
	}
}

type searchInput struct {
	Body struct {
		Query    string `json:"query" minLength:"1"`
		Page     int    `json:"page,omitempty" minimum:"1"`
		PageSize int    `json:"pageSize,omitempty" minimum:"1" maximum:"100"`
	}
}

type searchOutput struct {
	Body struct {
		Results    []searchResultBody `json:"results"`
		Count      int                `json:"count"`
		LocalCount int                `json:"localCount"`
		BGGCount   int                `json:"bggCount"`
		Page       int                `json:"page"`
		PageSize   int                `json:"pageSize"`
	}
}

type fetchInput struct {
	Body struct {
		BGGID      string `json:"bggId" minLength:"1"`
		ImportGame bool   `json:"importGame,omitempty"`
	}
}

type fetchOutput struct {
	Body struct {
		Game          any    `json:"game" doc:"Imported game row, or BoardGameGeek data when not imported"`
		Imported      bool   `json:"imported"`
		CanAddRules   bool   `json:"canAddRules"`
		RulesEndpoint string `json:"rulesEndpoint"`
		Message       string `json:"message,omitempty"`
	}
}

type askInput struct {
	Body struct {
		GameID       string `json:"gameId" minLength:"1"`
		UserPrompt   string `json:"userPrompt"`
		N            int    `json:"n,omitempty" minimum:"1" maximum:"10"`
		QuestionType string `json:"questionType,omitempty" enum:"rules,examples"`
	}
}

type askOutput struct {
	Body struct {
		Suggestion string `json:"suggestion"`
	}
}

func (s *Server) registerFunctionRoutes() {
	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "process-game-rules",
		Method:        stdhttp.MethodPost,
		Path:          "/functions/process-game-rules",
		Summary:       "Queue rule extraction for a game",
		DefaultStatus: stdhttp.StatusAccepted,
		Tags:          []string{"functions"},
	}), s.processRulesHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "create-game",
		Method:        stdhttp.MethodPost,
		Path:          "/functions/create-game",
		Summary:       "Create a game from rulebook images",
		DefaultStatus: stdhttp.StatusCreated,
		Tags:          []string{"functions"},
	}), s.createGameHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "search-bgg",
		Method:      stdhttp.MethodPost,
		Path:        "/functions/search-bgg",
		Summary:     "Search the library and BoardGameGeek",
		Tags:        []string{"functions"},
	}), s.searchHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "fetch-bgg-game",
		Method:      stdhttp.MethodPost,
		Path:        "/functions/fetch-bgg-game",
		Summary:     "Fetch or import a BoardGameGeek game",
		Tags:        []string{"functions"},
	}), s.fetchHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "ask-question",
		Method:      stdhttp.MethodPost,
		Path:        "/functions/ask-question",
		Summary:     "Ask a question about a game's rules",
		Tags:        []string{"functions"},
	}), s.askHandler)
}

func (s *Server) processRulesHandler(ctx context.Context, input *processRulesInput) (*queueOutput, error) {
	userID := UserIDFromContext(ctx)
	refs := make([]ingest.ImageRef, 0, len(input.Body.Images))
	for _, image := range input.Body.Images {
		refs = append(refs, ingest.ImageRef{Path: image.Path, OrderIndex: image.OrderIndex})
	}

	result, err := s.pipeline.ProcessRules(ctx, userID, input.Body.GameID, refs)
	if err != nil {
		return nil, s.problem(ctx, err, "queueing rule processing", logrus.Fields{"game_id": input.Body.GameID})
	}

	out := &queueOutput{Status: stdhttp.StatusAccepted}
	out.Body.Message = result.Message
	out.Body.GameID = result.GameID
	out.Body.RequestID = result.RequestID
	out.Body.RuleID = result.RuleID
	return out, nil
}

func (s *Server) createGameHandler(ctx context.Context, input *createGameInput) (*createGameOutput, error) {
	userID := UserIDFromContext(ctx)
	refs := make([]ingest.ImageRef, 0, len(input.Body.Images))
	for idx, image := range input.Body.Images {
		order := idx
		refs = append(refs, ingest.ImageRef{Path: image.Path, OrderIndex: &order, IsCover: image.IsCover})
	}

	result, err := s.pipeline.CreateGame(ctx, userID, refs)
	if err != nil {
		return nil, s.problem(ctx, err, "creating game from images", nil)
	}

	out := &createGameOutput{Status: stdhttp.StatusCreated}
	out.Body.Game = createdGameBody{
		ID:            result.Game.ID,
		Name:          result.Game.Name,
		Description:   result.Game.Description,
		EstimatedTime: result.Game.EstimatedTime,
	}
	out.Body.Message = result.Message
	return out, nil
}

func (s *Server) searchHandler(ctx context.Context, input *searchInput) (*searchOutput, error) {
	page, err := s.catalog.Search(ctx, UserIDFromContext(ctx), input.Body.Query, input.Body.Page, input.Body.PageSize)
	if err != nil {
		return nil, s.problem(ctx, err, "searching games", logrus.Fields{"query": input.Body.Query})
	}

	out := &searchOutput{}
	out.Body.Results = newSearchResults(page.Results)
	out.Body.Count = len(out.Body.Results)
	out.Body.LocalCount = page.LocalCount
	out.Body.BGGCount = page.BGGCount
	out.Body.Page = page.Page
	out.Body.PageSize = page.PageSize
	return out, nil
}

func (s *Server) fetchHandler(ctx context.Context, input *fetchInput) (*fetchOutput, error) {
	bggID, err := strconv.Atoi(strings.TrimSpace(input.Body.BGGID))
	if err != nil || bggID <= 0 {
		return nil, huma.Error400BadRequest("bggId must be a positive number")
	}

	result, err := s.catalog.Fetch(ctx, UserIDFromContext(ctx), bggID, input.Body.ImportGame)
	if err != nil {
		return nil, s.problem(ctx, err, "fetching bgg game", logrus.Fields{"bgg_id": bggID})
	}

	out := &fetchOutput{}
	if result.Game != nil {
		out.Body.Game = newGameBody(result.Game)
	} else {
		out.Body.Game = newBGGGameBody(result.BGG)
	}
	out.Body.Imported = result.Imported
	out.Body.CanAddRules = result.CanAddRules
	out.Body.RulesEndpoint = "/functions/process-game-rules"
	out.Body.Message = result.Message
	return out, nil
}

func (s *Server) askHandler(ctx context.Context, input *askInput) (*askOutput, error) {
	answer, err := s.assistant.Ask(ctx, UserIDFromContext(ctx), assistant.Question{
		GameID:     input.Body.GameID,
		UserPrompt: input.Body.UserPrompt,
		N:          input.Body.N,
		Type:       input.Body.QuestionType,
	})
	if err != nil {
		return nil, s.problem(ctx, err, "answering question", logrus.Fields{"game_id": input.Body.GameID})
	}

	out := &askOutput{}
	out.Body.Suggestion = answer.Suggestion
	return out, nil
}
