package bgg

// SearchHit is one row of a name search.
type SearchHit struct {
	ID            int
	Name          string
	YearPublished *int
}

// PlayerCountVote is the community verdict for one player count.
type PlayerCountVote struct {
	Count          int
	Recommendation string
	Votes          int
}

// Game is the detail record of one board game.
type Game struct {
	ID                 int
	Name               string
	Description        string
	YearPublished      *int
	MinPlayers         *int
	MaxPlayers         *int
	PlayingTime        *int
	MinAge             *int
	ImageURL           string
	ThumbnailURL       string
	Categories         []string
	Mechanics          []string
	Designers          []string
	Publishers         []string
	Rating             *float64
	Weight             *float64
	PlayerCounts       []PlayerCountVote
	LanguageDependence *int
}

// Recommendation values stored for player counts.
const (
	RecommendationBest           = "best"
	RecommendationRecommended    = "recommended"
	RecommendationNotRecommended = "not recommended"
)
