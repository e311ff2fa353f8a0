package http

import (
	"context"
	stdhttp "net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/games"
	"rulebook/app/internal/realtime"
)

type gameIDInput struct {
	ID string `path:"id"`
}

type listGamesInput struct {
	Mine     bool   `query:"mine" doc:"Only games authored by the caller"`
	Status   string `query:"status" enum:"draft,published,archived,under_review"`
	Query    string `query:"q" doc:"Case-insensitive name filter"`
	Page     int    `query:"page" minimum:"0"`
	PageSize int    `query:"page_size" minimum:"0" maximum:"100"`
}

type listGamesOutput struct {
	Body struct {
		Games    []gameBody `json:"games"`
		Total    int64      `json:"total"`
		Page     int        `json:"page"`
		PageSize int        `json:"page_size"`
	}
}

type createGameRowInput struct {
	Body struct {
		Name          string `json:"name" minLength:"1" maxLength:"255"`
		Description   string `json:"description,omitempty"`
		EstimatedTime *int   `json:"estimated_time,omitempty" minimum:"0"`
		MinPlayers    *int   `json:"min_players,omitempty" minimum:"1"`
		MaxPlayers    *int   `json:"max_players,omitempty" minimum:"1"`
		MinAge        *int   `json:"min_age,omitempty" minimum:"0"`
		Status        string `json:"status,omitempty" enum:"draft,published,archived,under_review"`
	}
}

type updateGameInput struct {
	ID   string `path:"id"`
	Body struct {
		Name          *string `json:"name,omitempty" maxLength:"255"`
		Description   *string `json:"description,omitempty"`
		EstimatedTime *int    `json:"estimated_time,omitempty" minimum:"0"`
		MinPlayers    *int    `json:"min_players,omitempty" minimum:"1"`
		MaxPlayers    *int    `json:"max_players,omitempty" minimum:"1"`
		MinAge        *int    `json:"min_age,omitempty" minimum:"0"`
	}
}

type updateStatusInput struct {
	ID   string `path:"id"`
	Body struct {
		Status string `json:"status" enum:"draft,published,archived,under_review"`
	}
}

type setCoverInput struct {
	ID   string `path:"id"`
	Body struct {
		ImageID string `json:"image_id" minLength:"1"`
	}
}

type gameOutput struct {
	Status int
	Body   gameBody
}

type gameDetailsOutput struct {
	Body gameDetailsBody
}

type listImagesInput struct {
	ID   string `path:"id"`
	Type string `query:"type" enum:"rules,cover,example,component,game_state,other"`
}

type addImagesInput struct {
	ID   string `path:"id"`
	Body struct {
		Images []struct {
			Path       string `json:"path" minLength:"1"`
			Type       string `json:"image_type,omitempty" enum:"rules,cover,example,component,game_state,other"`
			IsCover    bool   `json:"is_cover,omitempty"`
			IsExternal bool   `json:"is_external,omitempty"`
			OrderIndex *int   `json:"order_index,omitempty"`
		} `json:"images" minItems:"1"`
	}
}

type imagesOutput struct {
	Status int
	Body   struct {
		Images []imageBody `json:"images"`
	}
}

type removeImageInput struct {
	ID      string `path:"id"`
	ImageID string `path:"imageId"`
}

type ruleOutput struct {
	Body ruleBody
}

func (s *Server) registerGameRoutes() {
	huma.Register(s.api, secured(huma.Operation{
		OperationID: "list-games",
		Method:      stdhttp.MethodGet,
		Path:        "/games",
		Summary:     "List games visible to the caller",
		Tags:        []string{"games"},
	}), s.listGamesHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "create-game-row",
		Method:        stdhttp.MethodPost,
		Path:          "/games",
		Summary:       "Create a game",
		DefaultStatus: stdhttp.StatusCreated,
		Tags:          []string{"games"},
	}), s.createGameRowHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "get-game",
		Method:      stdhttp.MethodGet,
		Path:        "/games/{id}",
		Summary:     "Fetch a game with its tags, player counts and rules",
		Tags:        []string{"games"},
	}), s.getGameHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "update-game",
		Method:      stdhttp.MethodPatch,
		Path:        "/games/{id}",
		Summary:     "Update a game",
		Tags:        []string{"games"},
	}), s.updateGameHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "delete-game",
		Method:        stdhttp.MethodDelete,
		Path:          "/games/{id}",
		Summary:       "Delete a game with its images and rules",
		DefaultStatus: stdhttp.StatusNoContent,
		Tags:          []string{"games"},
	}), s.deleteGameHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "update-game-status",
		Method:      stdhttp.MethodPut,
		Path:        "/games/{id}/status",
		Summary:     "Change the publication status of a game",
		Tags:        []string{"games"},
	}), s.updateStatusHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID: "set-game-cover",
		Method:      stdhttp.MethodPut,
		Path:        "/games/{id}/cover",
		Summary:     "Choose the cover image of a game",
		Tags:        []string{"games"},
	}), s.setCoverHandler)
}

func (s *Server) registerImageRoutes() {
	huma.Register(s.api, secured(huma.Operation{
		OperationID: "list-game-images",
		Method:      stdhttp.MethodGet,
		Path:        "/games/{id}/images",
		Summary:     "List the images of a game",
		Tags:        []string{"images"},
	}), s.listImagesHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "add-game-images",
		Method:        stdhttp.MethodPost,
		Path:          "/games/{id}/images",
		Summary:       "Register uploaded or external images",
		DefaultStatus: stdhttp.StatusCreated,
		Tags:          []string{"images"},
	}), s.addImagesHandler)

	huma.Register(s.api, secured(huma.Operation{
		OperationID:   "delete-game-image",
		Method:        stdhttp.MethodDelete,
		Path:          "/games/{id}/images/{imageId}",
		Summary:       "Remove an image",
		DefaultStatus: stdhttp.StatusNoContent,
		Tags:          []string{"images"},
	}), s.removeImageHandler)
}

func (s *Server) registerRuleRoutes() {
	huma.Register(s.api, secured(huma.Operation{
		OperationID: "get-game-rules",
		Method:      stdhttp.MethodGet,
		Path:        "/games/{id}/rules",
		Summary:     "Fetch the extracted rules and processing state",
		Tags:        []string{"rules"},
	}), s.getRuleHandler)

	sse.Register(s.api, secured(huma.Operation{
		OperationID: "watch-game-rules",
		Method:      stdhttp.MethodGet,
		Path:        "/games/{id}/rules/events",
		Summary:     "Stream rule processing changes",
		Tags:        []string{"rules"},
	}), map[string]any{
		"snapshot": ruleBody{},
		"change":   realtime.Event{},
		"error":    huma.ErrorModel{},
	}, s.watchRulesHandler)
}

func (s *Server) listGamesHandler(ctx context.Context, input *listGamesInput) (*listGamesOutput, error) {
	page, err := s.games.ListGames(ctx, UserIDFromContext(ctx), games.ListOptions{
		Mine:     input.Mine,
		Status:   games.Status(input.Status),
		Query:    input.Query,
		Page:     input.Page,
		PageSize: input.PageSize,
	})
	if err != nil {
		return nil, s.problem(ctx, err, "listing games", nil)
	}

	out := &listGamesOutput{}
	out.Body.Games = make([]gameBody, 0, len(page.Games))
	for i := range page.Games {
		out.Body.Games = append(out.Body.Games, newGameBody(&page.Games[i]))
	}
	out.Body.Total = page.Total
	out.Body.Page = page.Page
	out.Body.PageSize = page.PageSize
	return out, nil
}

func (s *Server) createGameRowHandler(ctx context.Context, input *createGameRowInput) (*gameOutput, error) {
	game, err := s.games.CreateGame(ctx, UserIDFromContext(ctx), games.GameInput{
		Name:          input.Body.Name,
		Description:   input.Body.Description,
		EstimatedTime: input.Body.EstimatedTime,
		MinPlayers:    input.Body.MinPlayers,
		MaxPlayers:    input.Body.MaxPlayers,
		MinAge:        input.Body.MinAge,
		Status:        games.Status(input.Body.Status),
	})
	if err != nil {
		return nil, s.problem(ctx, err, "creating game", nil)
	}
	return &gameOutput{Status: stdhttp.StatusCreated, Body: newGameBody(game)}, nil
}

func (s *Server) getGameHandler(ctx context.Context, input *gameIDInput) (*gameDetailsOutput, error) {
	details, err := s.games.GetGame(ctx, UserIDFromContext(ctx), input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "loading game", logrus.Fields{"game_id": input.ID})
	}
	return &gameDetailsOutput{Body: newGameDetailsBody(details)}, nil
}

func (s *Server) updateGameHandler(ctx context.Context, input *updateGameInput) (*gameOutput, error) {
	game, err := s.games.UpdateGame(ctx, UserIDFromContext(ctx), input.ID, games.GameUpdate{
		Name:          input.Body.Name,
		Description:   input.Body.Description,
		EstimatedTime: input.Body.EstimatedTime,
		MinPlayers:    input.Body.MinPlayers,
		MaxPlayers:    input.Body.MaxPlayers,
		MinAge:        input.Body.MinAge,
	})
	if err != nil {
		return nil, s.problem(ctx, err, "updating game", logrus.Fields{"game_id": input.ID})
	}
	return &gameOutput{Status: stdhttp.StatusOK, Body: newGameBody(game)}, nil
}

func (s *Server) deleteGameHandler(ctx context.Context, input *gameIDInput) (*struct{}, error) {
	if err := s.games.DeleteGame(ctx, UserIDFromContext(ctx), input.ID); err != nil {
		return nil, s.problem(ctx, err, "deleting game", logrus.Fields{"game_id": input.ID})
	}
	return nil, nil
}

func (s *Server) updateStatusHandler(ctx context.Context, input *updateStatusInput) (*gameOutput, error) {
	game, err := s.games.UpdateStatus(ctx, UserIDFromContext(ctx), input.ID, games.Status(input.Body.Status))
	if err != nil {
		return nil, s.problem(ctx, err, "updating game status", logrus.Fields{"game_id": input.ID})
	}
	return &gameOutput{Status: stdhttp.StatusOK, Body: newGameBody(game)}, nil
}

func (s *Server) setCoverHandler(ctx context.Context, input *setCoverInput) (*gameOutput, error) {
	game, err := s.games.SetCover(ctx, UserIDFromContext(ctx), input.ID, input.Body.ImageID)
	if err != nil {
		return nil, s.problem(ctx, err, "setting cover image", logrus.Fields{"game_id": input.ID})
	}
	return &gameOutput{Status: stdhttp.StatusOK, Body: newGameBody(game)}, nil
}

func (s *Server) listImagesHandler(ctx context.Context, input *listImagesInput) (*imagesOutput, error) {
	images, err := s.games.ListImages(ctx, UserIDFromContext(ctx), input.ID, games.ImageType(input.Type))
	if err != nil {
		return nil, s.problem(ctx, err, "listing images", logrus.Fields{"game_id": input.ID})
	}

	out := &imagesOutput{Status: stdhttp.StatusOK}
	out.Body.Images = newImageBodies(images)
	return out, nil
}

func (s *Server) addImagesHandler(ctx context.Context, input *addImagesInput) (*imagesOutput, error) {
	inputs := make([]games.ImageInput, 0, len(input.Body.Images))
	for _, image := range input.Body.Images {
		inputs = append(inputs, games.ImageInput{
			Path:       image.Path,
			Type:       games.ImageType(image.Type),
			IsCover:    image.IsCover,
			IsExternal: image.IsExternal,
			OrderIndex: image.OrderIndex,
		})
	}

	images, err := s.games.AddImages(ctx, UserIDFromContext(ctx), input.ID, inputs)
	if err != nil {
		return nil, s.problem(ctx, err, "adding images", logrus.Fields{"game_id": input.ID})
	}

	out := &imagesOutput{Status: stdhttp.StatusCreated}
	out.Body.Images = newImageBodies(images)
	return out, nil
}

func (s *Server) removeImageHandler(ctx context.Context, input *removeImageInput) (*struct{}, error) {
	if err := s.games.RemoveImage(ctx, UserIDFromContext(ctx), input.ID, input.ImageID); err != nil {
		return nil, s.problem(ctx, err, "removing image", logrus.Fields{"game_id": input.ID, "image_id": input.ImageID})
	}
	return nil, nil
}

func (s *Server) getRuleHandler(ctx context.Context, input *gameIDInput) (*ruleOutput, error) {
	rule, err := s.games.Rule(ctx, UserIDFromContext(ctx), input.ID)
	if err != nil {
		return nil, s.problem(ctx, err, "loading rules", logrus.Fields{"game_id": input.ID})
	}
	return &ruleOutput{Body: *newRuleBody(rule)}, nil
}

// watchRulesHandler sends the current rule row, then every change published
// for the game until the client goes away.
func (s *Server) watchRulesHandler(ctx context.Context, input *gameIDInput, send sse.Sender) {
	fields := logrus.Fields{"game_id": input.ID}

	// Subscribe before reading the snapshot so no change lands between the two.
	events, cancel, err := s.feed.Subscribe(ctx, realtime.RulesTopic(input.ID))
	if err != nil {
		s.sendProblem(ctx, send, s.problem(ctx, err, "subscribing to rule changes", fields))
		return
	}
	defer cancel()

	rule, err := s.games.Rule(ctx, UserIDFromContext(ctx), input.ID)
	if err != nil && !eris.Is(err, games.ErrRuleNotFound) {
		s.sendProblem(ctx, send, s.problem(ctx, err, "loading rules for stream", fields))
		return
	}

	if rule != nil {
		if err := send.Data(*newRuleBody(rule)); err != nil {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := send.Data(event); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendProblem(ctx context.Context, send sse.Sender, err error) {
	var model *huma.ErrorModel
	if !eris.As(err, &model) {
		model = &huma.ErrorModel{Status: stdhttp.StatusInternalServerError, Title: stdhttp.StatusText(stdhttp.StatusInternalServerError), Detail: errorFallbackMessage}
	}
	if sendErr := send.Data(*model); sendErr != nil {
		s.recordError(ctx, sendErr, "sending stream error", nil)
	}
}
