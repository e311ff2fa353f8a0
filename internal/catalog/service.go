// Package catalog combines the local game library with BoardGameGeek search and import.
package catalog

import (
	"context"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"rulebook/app/internal/bgg"
	"rulebook/app/internal/games"
	applog "rulebook/app/internal/log"
)

const (
	defaultBGGLimit = 5
	existingMessage = "Game already exists in database"
	importedMessage = "Game imported from BoardGameGeek"
)

// Result sources.
const (
	SourceLocal = "local"
	SourceBGG   = "bgg"
)

// BGG is the subset of the BoardGameGeek client the catalog needs.
type BGG interface {
	Search(ctx context.Context, query string) ([]bgg.SearchHit, error)
	Things(ctx context.Context, ids []int) ([]bgg.Game, error)
	Thing(ctx context.Context, id int) (*bgg.Game, error)
}

// Options wires the catalog service.
type Options struct {
	Repository games.Repository
	BGG        BGG
	Logger     *logrus.Logger
	SentryHub  *sentry.Hub
	BGGLimit   int
}

// Result is one row of a unified search.
type Result struct {
	Source           string
	GameID           string
	BGGID            *int
	Name             string
	Description      string
	ThumbnailURL     string
	YearPublished    *int
	MinPlayers       *int
	MaxPlayers       *int
	PlayingTime      *int
	Weight           *float64
	CoverImageID     *string
	HasCompleteRules bool
}

// SearchPage is the response of a unified search.
type SearchPage struct {
	Results    []Result
	LocalCount int
	BGGCount   int
	Page       int
	PageSize   int
}

// FetchResult carries BoardGameGeek data and, when imported, the local game.
type FetchResult struct {
	Game        *games.Game
	BGG         *bgg.Game
	Imported    bool
	CanAddRules bool
	Message     string
}

// Service searches and imports games.
type Service struct {
	repo     games.Repository
	bgg      BGG
	recorder applog.ErrorRecorder
	bggLimit int
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, eris.New("games repository is required")
	}
	if opts.BGG == nil {
		return nil, eris.New("bgg client is required")
	}

	limit := opts.BGGLimit
	if limit <= 0 {
		limit = defaultBGGLimit
	}

	return &Service{
		repo:     opts.Repository,
		bgg:      opts.BGG,
		recorder: applog.NewErrorRecorder(opts.Logger, opts.SentryHub, "catalog.service"),
		bggLimit: limit,
	}, nil
}

// Search lists local games visible to userID whose name matches query and, on
// the first page, BoardGameGeek hits that are not already in the library.
func (s *Service) Search(ctx context.Context, userID, query string, page, pageSize int) (*SearchPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.Wrap(games.ErrInvalidInput, "search query is required")
	}
	page, pageSize = games.NormalizePage(page, pageSize)

	local, _, err := s.repo.ListGames(ctx, games.ListFilter{
		VisibleTo: userID,
		Query:     query,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	})
	if err != nil {
		return nil, eris.Wrap(err, "searching local games")
	}

	results := make([]Result, 0, len(local)+s.bggLimit)
	for _, game := range local {
		results = append(results, localResult(game))
	}

	result := &SearchPage{LocalCount: len(local), Page: page, PageSize: pageSize}
	if page == 1 {
		remote, err := s.searchBGG(ctx, query)
		if err != nil {
			// The local half is still useful when BoardGameGeek is down.
			s.recorder.Record(logrus.Fields{"query": query}, err, "searching bgg")
		}
		results = append(results, remote...)
		result.BGGCount = len(remote)
	}

	result.Results = results
	return result, nil
}

func (s *Service) searchBGG(ctx context.Context, query string) ([]Result, error) {
	hits, err := s.bgg.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(hits) > s.bggLimit {
		hits = hits[:s.bggLimit]
	}

	ids := make([]int, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	existing, err := s.repo.ExistingBGGIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	fresh := make([]bgg.SearchHit, 0, len(hits))
	freshIDs := make([]int, 0, len(hits))
	for _, hit := range hits {
		if existing[hit.ID] {
			continue
		}
		fresh = append(fresh, hit)
		freshIDs = append(freshIDs, hit.ID)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	details, err := s.bgg.Things(ctx, freshIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]bgg.Game, len(details))
	for _, game := range details {
		byID[game.ID] = game
	}

	results := make([]Result, 0, len(fresh))
	for _, hit := range fresh {
		id := hit.ID
		row := Result{
			Source:        SourceBGG,
			BGGID:         &id,
			Name:          hit.Name,
			YearPublished: hit.YearPublished,
		}
		if game, ok := byID[hit.ID]; ok {
			row.Name = game.Name
			row.Description = bgg.Summary(game.Description)
			row.ThumbnailURL = game.ThumbnailURL
			row.YearPublished = game.YearPublished
			row.MinPlayers = game.MinPlayers
			row.MaxPlayers = game.MaxPlayers
			row.PlayingTime = game.PlayingTime
			row.Weight = game.Weight
		}
		results = append(results, row)
	}
	return results, nil
}

func localResult(game games.Game) Result {
	return Result{
		Source:           SourceLocal,
		GameID:           game.ID,
		BGGID:            game.BGGID,
		Name:             game.Name,
		Description:      game.Description,
		ThumbnailURL:     game.BGGThumbnailURL,
		YearPublished:    game.BGGYearPublished,
		MinPlayers:       game.MinPlayers,
		MaxPlayers:       game.MaxPlayers,
		PlayingTime:      game.EstimatedTime,
		Weight:           game.BGGWeight,
		CoverImageID:     game.CoverImageID,
		HasCompleteRules: game.HasCompleteRules,
	}
}

// Fetch loads a BoardGameGeek game. With importGame it is stored as a published
// game owned by userID unless a game with that BoardGameGeek id already exists.
func (s *Service) Fetch(ctx context.Context, userID string, bggID int, importGame bool) (*FetchResult, error) {
	if bggID <= 0 {
		return nil, eris.Wrapf(games.ErrInvalidInput, "invalid bgg id %d", bggID)
	}

	if importGame {
		existing, err := s.repo.GetGameByBGGID(ctx, bggID)
		if err != nil {
			return nil, eris.Wrap(err, "checking for imported game")
		}
		if existing != nil {
			return &FetchResult{Game: existing, CanAddRules: true, Message: existingMessage}, nil
		}
	}

	data, err := s.bgg.Thing(ctx, bggID)
	if err != nil {
		if eris.Is(err, bgg.ErrNotFound) {
			return nil, eris.Wrapf(games.ErrGameNotFound, "bgg id %d", bggID)
		}
		s.recorder.Record(logrus.Fields{"bgg_id": bggID}, err, "fetching bgg game")
		return nil, eris.Wrap(err, "fetching bgg game")
	}

	if !importGame {
		return &FetchResult{BGG: data, CanAddRules: true}, nil
	}

	game, err := s.importGame(ctx, userID, data)
	if err != nil {
		s.recorder.Record(logrus.Fields{"bgg_id": bggID, "user_id": userID}, err, "importing bgg game")
		return nil, err
	}

	s.recorder.Entry().WithFields(logrus.Fields{
		"bgg_id":  bggID,
		"game_id": game.ID,
		"user_id": userID,
	}).Info("imported bgg game")

	return &FetchResult{Game: game, BGG: data, Imported: true, CanAddRules: true, Message: importedMessage}, nil
}

func (s *Service) importGame(ctx context.Context, userID string, data *bgg.Game) (*games.Game, error) {
	bggID := data.ID
	game := &games.Game{
		AuthorID:           userID,
		Name:               data.Name,
		Description:        data.Description,
		EstimatedTime:      data.PlayingTime,
		Status:             games.StatusPublished,
		MinPlayers:         data.MinPlayers,
		MaxPlayers:         data.MaxPlayers,
		MinAge:             data.MinAge,
		BGGID:              &bggID,
		BGGYearPublished:   data.YearPublished,
		BGGRating:          data.Rating,
		BGGWeight:          data.Weight,
		BGGImageURL:        data.ImageURL,
		BGGThumbnailURL:    data.ThumbnailURL,
		LanguageDependence: data.LanguageDependence,
	}

	err := s.repo.Transaction(ctx, func(tx games.Repository) error {
		if err := tx.CreateGame(ctx, game); err != nil {
			return err
		}

		for tagType, names := range map[games.TagType][]string{
			games.TagCategory:  data.Categories,
			games.TagMechanic:  data.Mechanics,
			games.TagDesigner:  data.Designers,
			games.TagPublisher: data.Publishers,
		} {
			if err := attachTags(ctx, tx, game.ID, tagType, names); err != nil {
				return err
			}
		}

		if len(data.PlayerCounts) > 0 {
			counts := make([]games.GamePlayerCount, 0, len(data.PlayerCounts))
			for _, vote := range data.PlayerCounts {
				counts = append(counts, games.GamePlayerCount{
					PlayerCount:    vote.Count,
					Recommendation: vote.Recommendation,
					Votes:          vote.Votes,
				})
			}
			if err := tx.ReplacePlayerCounts(ctx, game.ID, counts); err != nil {
				return err
			}
		}

		if data.ImageURL == "" {
			return nil
		}
		cover := games.GameImage{
			GameID:     game.ID,
			ImageURL:   data.ImageURL,
			ImageType:  games.ImageTypeCover,
			UploaderID: userID,
			IsCover:    true,
			IsExternal: true,
		}
		images := []games.GameImage{cover}
		if err := tx.CreateImages(ctx, images); err != nil {
			return err
		}
		return tx.SetCover(ctx, game.ID, images[0].ID)
	})
	if err != nil {
		return nil, eris.Wrap(err, "importing bgg game")
	}

	stored, err := s.repo.GetGame(ctx, game.ID)
	if err != nil {
		return nil, eris.Wrap(err, "reloading imported game")
	}
	if stored == nil {
		return nil, eris.Wrapf(games.ErrGameNotFound, "game %s", game.ID)
	}
	return stored, nil
}

func attachTags(ctx context.Context, repo games.Repository, gameID string, tagType games.TagType, names []string) error {
	if len(names) == 0 {
		return nil
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		tag, err := repo.UpsertTag(ctx, name, tagType)
		if err != nil {
			return err
		}
		ids = append(ids, tag.ID)
	}
	return repo.AttachTags(ctx, gameID, ids)
}
