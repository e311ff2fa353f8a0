package games

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	applog "rulebook/app/internal/log"
)

// Service defines the game catalogue operations exposed to callers.
type Service interface {
	CreateGame(ctx context.Context, userID string, input GameInput) (*Game, error)
	GetGame(ctx context.Context, userID, gameID string) (*GameDetails, error)
	ListGames(ctx context.Context, userID string, opts ListOptions) (*GamePage, error)
	UpdateGame(ctx context.Context, userID, gameID string, input GameUpdate) (*Game, error)
	UpdateStatus(ctx context.Context, userID, gameID string, status Status) (*Game, error)
	SetCover(ctx context.Context, userID, gameID, imageID string) (*Game, error)
	DeleteGame(ctx context.Context, userID, gameID string) error
	AddImages(ctx context.Context, userID, gameID string, inputs []ImageInput) ([]GameImage, error)
	ListImages(ctx context.Context, userID, gameID string, imageType ImageType) ([]GameImage, error)
	RemoveImage(ctx context.Context, userID, gameID, imageID string) error
	Rule(ctx context.Context, userID, gameID string) (*GameRule, error)
	Preference(ctx context.Context, userID string) (*UserPreference, error)
	SetPreference(ctx context.Context, userID, model string) (*UserPreference, error)
}

// BlobRemover deletes stored image objects.
type BlobRemover interface {
	Remove(ctx context.Context, paths ...string) error
}

// ServiceOptions wires the game service.
type ServiceOptions struct {
	Repository     Repository
	Blobs          BlobRemover
	Logger         *logrus.Logger
	SentryHub      *sentry.Hub
	DefaultAIModel string
	AllowedModels  []string
}

// GameInput carries the fields accepted when creating a game.
type GameInput struct {
	Name          string
	Description   string
	EstimatedTime *int
	MinPlayers    *int
	MaxPlayers    *int
	MinAge        *int
	Status        Status
}

// GameUpdate carries a partial game update. Nil fields are left untouched.
type GameUpdate struct {
	Name          *string
	Description   *string
	EstimatedTime *int
	MinPlayers    *int
	MaxPlayers    *int
	MinAge        *int
}

// ImageInput registers an uploaded or external image against a game.
type ImageInput struct {
	Path       string
	Type       ImageType
	IsCover    bool
	IsExternal bool
	OrderIndex *int
}

// ListOptions controls game listing.
type ListOptions struct {
	Mine     bool
	Status   Status
	Query    string
	Page     int
	PageSize int
}

// GamePage is one page of games.
type GamePage struct {
	Games    []Game
	Total    int64
	Page     int
	PageSize int
}

// GameDetails bundles a game with its tags, player counts and rule state.
type GameDetails struct {
	Game         Game
	Tags         []GameTag
	PlayerCounts []GamePlayerCount
	Rule         *GameRule
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type service struct {
	repo          Repository
	blobs         BlobRemover
	recorder      applog.ErrorRecorder
	defaultModel  string
	allowedModels map[string]bool
}

var _ Service = (*service)(nil)

// NewService wires the game service with its dependencies.
func NewService(opts ServiceOptions) (Service, error) {
	if opts.Repository == nil {
		return nil, eris.New("games repository is required")
	}
	if strings.TrimSpace(opts.DefaultAIModel) == "" {
		return nil, eris.New("default ai model is required")
	}

	allowed := make(map[string]bool, len(opts.AllowedModels)+1)
	for _, model := range opts.AllowedModels {
		allowed[strings.TrimSpace(model)] = true
	}
	allowed[opts.DefaultAIModel] = true

	return &service{
		repo:          opts.Repository,
		blobs:         opts.Blobs,
		recorder:      applog.NewErrorRecorder(opts.Logger, opts.SentryHub, "games.service"),
		defaultModel:  opts.DefaultAIModel,
		allowedModels: allowed,
	}, nil
}

// NormalizePage clamps pagination parameters to sane defaults.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func (s *service) CreateGame(ctx context.Context, userID string, input GameInput) (*Game, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, eris.Wrap(ErrInvalidInput, "game name is required")
	}
	if err := validatePlayers(input.MinPlayers, input.MaxPlayers); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = StatusDraft
	}
	if !status.Valid() {
		return nil, eris.Wrapf(ErrInvalidStatus, "game status %q", status)
	}

	game := &Game{
		AuthorID:      userID,
		Name:          name,
		Description:   strings.TrimSpace(input.Description),
		EstimatedTime: input.EstimatedTime,
		MinPlayers:    input.MinPlayers,
		MaxPlayers:    input.MaxPlayers,
		MinAge:        input.MinAge,
		Status:        status,
	}

	if err := s.repo.CreateGame(ctx, game); err != nil {
		s.recorder.Record(logrus.Fields{"user_id": userID}, err, "creating game")
		return nil, eris.Wrap(err, "creating game")
	}
	return game, nil
}

func (s *service) GetGame(ctx context.Context, userID, gameID string) (*GameDetails, error) {
	game, err := s.visibleGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	tags, err := s.repo.ListTags(ctx, game.ID)
	if err != nil {
		return nil, eris.Wrap(err, "loading game tags")
	}

	counts, err := s.repo.ListPlayerCounts(ctx, game.ID)
	if err != nil {
		return nil, eris.Wrap(err, "loading player counts")
	}

	rule, err := s.repo.GetRuleByGame(ctx, game.ID)
	if err != nil {
		return nil, eris.Wrap(err, "loading game rule")
	}

	return &GameDetails{Game: *game, Tags: tags, PlayerCounts: counts, Rule: rule}, nil
}

func (s *service) ListGames(ctx context.Context, userID string, opts ListOptions) (*GamePage, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, eris.Wrapf(ErrInvalidStatus, "game status %q", opts.Status)
	}

	page, pageSize := NormalizePage(opts.Page, opts.PageSize)
	filter := ListFilter{
		Status: opts.Status,
		Query:  opts.Query,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if opts.Mine {
		filter.AuthorID = userID
	} else {
		filter.VisibleTo = userID
	}

	games, total, err := s.repo.ListGames(ctx, filter)
	if err != nil {
		s.recorder.Record(logrus.Fields{"user_id": userID}, err, "listing games")
		return nil, eris.Wrap(err, "listing games")
	}

	return &GamePage{Games: games, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *service) UpdateGame(ctx context.Context, userID, gameID string, input GameUpdate) (*Game, error) {
	game, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, eris.Wrap(ErrInvalidInput, "game name cannot be empty")
		}
		fields["name"] = name
	}
	if input.Description != nil {
		fields["description"] = strings.TrimSpace(*input.Description)
	}
	if input.EstimatedTime != nil {
		fields["estimated_time"] = *input.EstimatedTime
	}

	minPlayers, maxPlayers := game.MinPlayers, game.MaxPlayers
	if input.MinPlayers != nil {
		minPlayers = input.MinPlayers
		fields["min_players"] = *input.MinPlayers
	}
	if input.MaxPlayers != nil {
		maxPlayers = input.MaxPlayers
		fields["max_players"] = *input.MaxPlayers
	}
	if err := validatePlayers(minPlayers, maxPlayers); err != nil {
		return nil, err
	}
	if input.MinAge != nil {
		fields["min_age"] = *input.MinAge
	}

	if err := s.repo.UpdateGame(ctx, game.ID, fields); err != nil {
		s.recorder.Record(logrus.Fields{"game_id": game.ID}, err, "updating game")
		return nil, eris.Wrap(err, "updating game")
	}
	return s.reload(ctx, game.ID)
}

func (s *service) UpdateStatus(ctx context.Context, userID, gameID string, status Status) (*Game, error) {
	if !status.Valid() {
		return nil, eris.Wrapf(ErrInvalidStatus, "game status %q", status)
	}

	game, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateGame(ctx, game.ID, map[string]any{"status": status}); err != nil {
		s.recorder.Record(logrus.Fields{"game_id": game.ID}, err, "updating game status")
		return nil, eris.Wrap(err, "updating game status")
	}
	return s.reload(ctx, game.ID)
}

func (s *service) SetCover(ctx context.Context, userID, gameID, imageID string) (*Game, error) {
	game, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SetCover(ctx, game.ID, imageID); err != nil {
		if !eris.Is(err, ErrImageNotFound) {
			s.recorder.Record(logrus.Fields{"game_id": game.ID, "image_id": imageID}, err, "setting cover")
		}
		return nil, eris.Wrap(err, "setting cover image")
	}
	return s.reload(ctx, game.ID)
}

func (s *service) DeleteGame(ctx context.Context, userID, gameID string) error {
	game, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return err
	}

	images, err := s.repo.DeleteGame(ctx, game.ID)
	if err != nil {
		s.recorder.Record(logrus.Fields{"game_id": game.ID}, err, "deleting game")
		return eris.Wrap(err, "deleting game")
	}

	s.removeBlobs(ctx, game, images)
	return nil
}

func (s *service) AddImages(ctx context.Context, userID, gameID string, inputs []ImageInput) ([]GameImage, error) {
	if len(inputs) == 0 {
		return nil, eris.Wrap(ErrInvalidInput, "at least one image is required")
	}

	game, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	images := make([]GameImage, 0, len(inputs))
	seen := make(map[string]bool, len(inputs))
	coverIndex := -1
	for idx, input := range inputs {
		path := strings.TrimSpace(input.Path)
		if path == "" {
			return nil, eris.Wrap(ErrInvalidInput, "image path is required")
		}
		if !input.IsExternal {
			if path, err = OwnedPath(game.AuthorID, path); err != nil {
				return nil, err
			}
		}
		if seen[path] {
			return nil, eris.Wrapf(ErrInvalidInput, "duplicate image path %q", path)
		}
		seen[path] = true
		imageType := input.Type
		if imageType == "" {
			imageType = ImageTypeRules
		}
		if !imageType.Valid() {
			return nil, eris.Wrapf(ErrInvalidInput, "image type %q", imageType)
		}
		if input.IsCover && coverIndex < 0 {
			coverIndex = idx
		}
		images = append(images, GameImage{
			GameID:     game.ID,
			ImageURL:   path,
			ImageType:  imageType,
			UploaderID: userID,
			IsExternal: input.IsExternal,
			OrderIndex: input.OrderIndex,
		})
	}

	if err := s.repo.CreateImages(ctx, images); err != nil {
		s.recorder.Record(logrus.Fields{"game_id": game.ID}, err, "adding game images")
		return nil, eris.Wrap(err, "adding game images")
	}

	if coverIndex >= 0 {
		if err := s.repo.SetCover(ctx, game.ID, images[coverIndex].ID); err != nil {
			return nil, eris.Wrap(err, "setting cover image")
		}
		images[coverIndex].IsCover = true
	}

	return images, nil
}

func (s *service) ListImages(ctx context.Context, userID, gameID string, imageType ImageType) ([]GameImage, error) {
	game, err := s.visibleGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	if imageType == "" {
		return s.repo.ListImages(ctx, game.ID)
	}
	if !imageType.Valid() {
		return nil, eris.Wrapf(ErrInvalidInput, "image type %q", imageType)
	}
	return s.repo.ListImages(ctx, game.ID, imageType)
}

func (s *service) RemoveImage(ctx context.Context, userID, gameID, imageID string) error {
	game, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return err
	}

	image, err := s.repo.GetImage(ctx, game.ID, imageID)
	if err != nil {
		return eris.Wrap(err, "loading image")
	}
	if image == nil {
		return eris.Wrapf(ErrImageNotFound, "image %s", imageID)
	}

	if err := s.repo.DeleteImage(ctx, game.ID, image.ID); err != nil {
		return eris.Wrap(err, "removing image")
	}

	s.removeBlobs(ctx, game, []GameImage{*image})
	return nil
}

func (s *service) Rule(ctx context.Context, userID, gameID string) (*GameRule, error) {
	game, err := s.visibleGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}

	rule, err := s.repo.GetRuleByGame(ctx, game.ID)
	if err != nil {
		return nil, eris.Wrap(err, "loading game rule")
	}
	if rule == nil {
		return nil, eris.Wrapf(ErrRuleNotFound, "game %s", game.ID)
	}
	return rule, nil
}

func (s *service) Preference(ctx context.Context, userID string) (*UserPreference, error) {
	pref, err := s.repo.GetPreference(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "loading preference")
	}
	if pref == nil {
		return &UserPreference{UserID: userID, AIModel: s.defaultModel}, nil
	}
	return pref, nil
}

func (s *service) SetPreference(ctx context.Context, userID, model string) (*UserPreference, error) {
	model = strings.TrimSpace(model)
	if !s.allowedModels[model] {
		return nil, eris.Wrapf(ErrInvalidInput, "unsupported ai model %q", model)
	}

	pref := &UserPreference{UserID: userID, AIModel: model, UpdatedAt: time.Now().UTC()}
	if err := s.repo.SavePreference(ctx, pref); err != nil {
		s.recorder.Record(logrus.Fields{"user_id": userID}, err, "saving preference")
		return nil, eris.Wrap(err, "saving preference")
	}
	return pref, nil
}

func (s *service) ownedGame(ctx context.Context, userID, gameID string) (*Game, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if err := CheckOwner(game, userID); err != nil {
		return nil, err
	}
	return game, nil
}

func (s *service) visibleGame(ctx context.Context, userID, gameID string) (*Game, error) {
	game, err := s.loadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.AuthorID != userID && game.Status != StatusPublished {
		return nil, eris.Wrapf(ErrGameNotFound, "game %s", gameID)
	}
	return game, nil
}

func (s *service) loadGame(ctx context.Context, gameID string) (*Game, error) {
	trimmed := strings.TrimSpace(gameID)
	if trimmed == "" {
		return nil, eris.Wrap(ErrInvalidInput, "game id is required")
	}

	game, err := s.repo.GetGame(ctx, trimmed)
	if err != nil {
		s.recorder.Record(logrus.Fields{"game_id": trimmed}, err, "loading game")
		return nil, eris.Wrap(err, "loading game")
	}
	if game == nil {
		return nil, eris.Wrapf(ErrGameNotFound, "game %s", trimmed)
	}
	return game, nil
}

func (s *service) reload(ctx context.Context, gameID string) (*Game, error) {
	game, err := s.repo.GetGame(ctx, gameID)
	if err != nil {
		return nil, eris.Wrap(err, "reloading game")
	}
	if game == nil {
		return nil, eris.Wrapf(ErrGameNotFound, "game %s", gameID)
	}
	return game, nil
}

// removeBlobs deletes stored objects of removed images. Only paths under the
// author's prefix that no other image row still references are removed.
func (s *service) removeBlobs(ctx context.Context, game *Game, images []GameImage) {
	if s.blobs == nil {
		return
	}
	gameID := game.ID

	candidates := make([]string, 0, len(images))
	for _, image := range images {
		if image.IsExternal || !strings.HasPrefix(image.ImageURL, game.AuthorID+"/") {
			continue
		}
		candidates = append(candidates, image.ImageURL)
	}
	if len(candidates) == 0 {
		return
	}

	inUse, err := s.repo.ImagePathsInUse(ctx, candidates)
	if err != nil {
		s.recorder.Record(logrus.Fields{"game_id": gameID}, err, "checking shared image blobs")
		return
	}
	paths := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if !inUse[p] {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return
	}

	// Rows are already gone; a failed blob removal only leaves orphaned objects behind.
	if err := s.blobs.Remove(ctx, paths...); err != nil {
		s.recorder.Record(logrus.Fields{"game_id": gameID, "paths": len(paths)}, err, "removing image blobs")
	}
}

func validatePlayers(minPlayers, maxPlayers *int) error {
	if minPlayers != nil && *minPlayers < 1 {
		return eris.Wrap(ErrInvalidInput, "min players must be at least 1")
	}
	if maxPlayers != nil && *maxPlayers < 1 {
		return eris.Wrap(ErrInvalidInput, "max players must be at least 1")
	}
	if minPlayers != nil && maxPlayers != nil && *minPlayers > *maxPlayers {
		return eris.Wrap(ErrInvalidInput, "min players cannot exceed max players")
	}
	return nil
}
