package http

import (
	"encoding/json"
	"time"

	"rulebook/app/internal/bgg"
	"rulebook/app/internal/catalog"
	"rulebook/app/internal/games"
)

type gameBody struct {
	ID                 string    `json:"id"`
	AuthorID           string    `json:"author_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	EstimatedTime      *int      `json:"estimated_time,omitempty" doc:"Play time in minutes"`
	Status             string    `json:"status" enum:"draft,published,archived,under_review"`
	MinPlayers         *int      `json:"min_players,omitempty"`
	MaxPlayers         *int      `json:"max_players,omitempty"`
	MinAge             *int      `json:"min_age,omitempty"`
	BGGID              *int      `json:"bgg_id,omitempty"`
	BGGYearPublished   *int      `json:"bgg_year_published,omitempty"`
	BGGRating          *float64  `json:"bgg_rating,omitempty"`
	BGGWeight          *float64  `json:"bgg_weight,omitempty"`
	BGGImageURL        string    `json:"bgg_image_url,omitempty"`
	BGGThumbnailURL    string    `json:"bgg_thumbnail_url,omitempty"`
	LanguageDependence *int      `json:"language_dependence,omitempty"`
	CoverImageID       *string   `json:"cover_image_id,omitempty"`
	HasCompleteRules   bool      `json:"has_complete_rules"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func newGameBody(game *games.Game) gameBody {
	return gameBody{
		ID:                 game.ID,
		AuthorID:           game.AuthorID,
		Name:               game.Name,
		Description:        game.Description,
		EstimatedTime:      game.EstimatedTime,
		Status:             string(game.Status),
		MinPlayers:         game.MinPlayers,
		MaxPlayers:         game.MaxPlayers,
		MinAge:             game.MinAge,
		BGGID:              game.BGGID,
		BGGYearPublished:   game.BGGYearPublished,
		BGGRating:          game.BGGRating,
		BGGWeight:          game.BGGWeight,
		BGGImageURL:        game.BGGImageURL,
		BGGThumbnailURL:    game.BGGThumbnailURL,
		LanguageDependence: game.LanguageDependence,
		CoverImageID:       game.CoverImageID,
		HasCompleteRules:   game.HasCompleteRules,
		CreatedAt:          game.CreatedAt,
		UpdatedAt:          game.UpdatedAt,
	}
}

type imageBody struct {
	ID         string    `json:"id"`
	GameID     string    `json:"game_id"`
	ImageURL   string    `json:"image_url"`
	ImageType  string    `json:"image_type"`
	UploaderID string    `json:"uploader_id,omitempty"`
	IsCover    bool      `json:"is_cover"`
	IsExternal bool      `json:"is_external"`
	OrderIndex *int      `json:"order_index,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func newImageBodies(images []games.GameImage) []imageBody {
	bodies := make([]imageBody, 0, len(images))
	for _, image := range images {
		bodies = append(bodies, imageBody{
			ID:         image.ID,
			GameID:     image.GameID,
			ImageURL:   image.ImageURL,
			ImageType:  string(image.ImageType),
			UploaderID: image.UploaderID,
			IsCover:    image.IsCover,
			IsExternal: image.IsExternal,
			OrderIndex: image.OrderIndex,
			UploadedAt: image.UploadedAt,
		})
	}
	return bodies
}

type tagBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type playerCountBody struct {
	PlayerCount    int    `json:"player_count"`
	Recommendation string `json:"recommendation"`
	Votes          int    `json:"votes"`
}

type ruleBody struct {
	games.RuleRecord
	RawText           string         `json:"raw_text,omitempty"`
	StructuredContent map[string]any `json:"structured_content,omitempty"`
}

func newRuleBody(rule *games.GameRule) *ruleBody {
	if rule == nil {
		return nil
	}
	body := &ruleBody{RuleRecord: games.NewRuleRecord(rule), RawText: rule.RawText}
	if len(rule.StructuredContent) > 0 {
		var content map[string]any
		if err := json.Unmarshal(rule.StructuredContent, &content); err == nil {
			body.StructuredContent = content
		}
	}
	return body
}

type gameDetailsBody struct {
	Game         gameBody          `json:"game"`
	Tags         []tagBody         `json:"tags"`
	PlayerCounts []playerCountBody `json:"player_counts"`
	Rule         *ruleBody         `json:"rule,omitempty"`
}

func newGameDetailsBody(details *games.GameDetails) gameDetailsBody {
	body := gameDetailsBody{
		Game:         newGameBody(&details.Game),
		Tags:         make([]tagBody, 0, len(details.Tags)),
		PlayerCounts: make([]playerCountBody, 0, len(details.PlayerCounts)),
		Rule:         newRuleBody(details.Rule),
	}
	for _, tag := range details.Tags {
		body.Tags = append(body.Tags, tagBody{ID: tag.ID, Name: tag.Name, Type: string(tag.Type)})
	}
	for _, count := range details.PlayerCounts {
		body.PlayerCounts = append(body.PlayerCounts, playerCountBody{
			PlayerCount:    count.PlayerCount,
			Recommendation: count.Recommendation,
			Votes:          count.Votes,
		})
	}
	return body
}

type searchResultBody struct {
	Source           string   `json:"source" enum:"local,bgg"`
	ID               string   `json:"id,omitempty" doc:"Local game id"`
	BGGID            *int     `json:"bggId,omitempty"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	Thumbnail        string   `json:"thumbnail,omitempty"`
	YearPublished    *int     `json:"yearPublished,omitempty"`
	MinPlayers       *int     `json:"minPlayers,omitempty"`
	MaxPlayers       *int     `json:"maxPlayers,omitempty"`
	PlayingTime      *int     `json:"playingTime,omitempty"`
	BGGWeight        *float64 `json:"bggWeight,omitempty"`
	CoverImageID     *string  `json:"coverImageId,omitempty"`
	HasCompleteRules bool     `json:"hasCompleteRules"`
}

func newSearchResults(rows []catalog.Result) []searchResultBody {
	results := make([]searchResultBody, 0, len(rows))
	for _, row := range rows {
		results = append(results, searchResultBody{
			Source:           row.Source,
			ID:               row.GameID,
			BGGID:            row.BGGID,
			Name:             row.Name,
			Description:      row.Description,
			Thumbnail:        row.ThumbnailURL,
			YearPublished:    row.YearPublished,
			MinPlayers:       row.MinPlayers,
			MaxPlayers:       row.MaxPlayers,
			PlayingTime:      row.PlayingTime,
			BGGWeight:        row.Weight,
			CoverImageID:     row.CoverImageID,
			HasCompleteRules: row.HasCompleteRules,
		})
	}
	return results
}

type recommendedPlayersBody struct {
	Count          int    `json:"count"`
	Recommendation string `json:"recommendation"`
	Votes          int    `json:"votes"`
}

type bggGameBody struct {
	BGGID              int                      `json:"bggId"`
	Name               string                   `json:"name"`
	Description        string                   `json:"description,omitempty"`
	YearPublished      *int                     `json:"yearPublished,omitempty"`
	MinPlayers         *int                     `json:"minPlayers,omitempty"`
	MaxPlayers         *int                     `json:"maxPlayers,omitempty"`
	PlayingTime        *int                     `json:"playingTime,omitempty"`
	MinAge             *int                     `json:"minAge,omitempty"`
	ImageURL           string                   `json:"imageUrl,omitempty"`
	ThumbnailURL       string                   `json:"thumbnailUrl,omitempty"`
	Categories         []string                 `json:"categories"`
	Mechanics          []string                 `json:"mechanics"`
	Designers          []string                 `json:"designers"`
	Publishers         []string                 `json:"publishers"`
	BGGRating          *float64                 `json:"bggRating,omitempty"`
	BGGWeight          *float64                 `json:"bggWeight,omitempty"`
	RecommendedPlayers []recommendedPlayersBody `json:"recommendedPlayers"`
	LanguageDependence *int                     `json:"languageDependence,omitempty"`
}

func newBGGGameBody(game *bgg.Game) *bggGameBody {
	if game == nil {
		return nil
	}
	body := &bggGameBody{
		BGGID:              game.ID,
		Name:               game.Name,
		Description:        game.Description,
		YearPublished:      game.YearPublished,
		MinPlayers:         game.MinPlayers,
		MaxPlayers:         game.MaxPlayers,
		PlayingTime:        game.PlayingTime,
		MinAge:             game.MinAge,
		ImageURL:           game.ImageURL,
		ThumbnailURL:       game.ThumbnailURL,
		Categories:         nonNil(game.Categories),
		Mechanics:          nonNil(game.Mechanics),
		Designers:          nonNil(game.Designers),
		Publishers:         nonNil(game.Publishers),
		BGGRating:          game.Rating,
		BGGWeight:          game.Weight,
		RecommendedPlayers: make([]recommendedPlayersBody, 0, len(game.PlayerCounts)),
		LanguageDependence: game.LanguageDependence,
	}
	for _, vote := range game.PlayerCounts {
		body.RecommendedPlayers = append(body.RecommendedPlayers, recommendedPlayersBody{
			Count:          vote.Count,
			Recommendation: vote.Recommendation,
			Votes:          vote.Votes,
		})
	}
	return body
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
