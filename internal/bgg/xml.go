package bgg

import (
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

type valueAttr struct {
	Value string `xml:"value,attr"`
}

type nameAttr struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type searchDocument struct {
	XMLName xml.Name     `xml:"items"`
	Items   []searchItem `xml:"item"`
}

type searchItem struct {
	ID            int        `xml:"id,attr"`
	Names         []nameAttr `xml:"name"`
	YearPublished *valueAttr `xml:"yearpublished"`
}

type thingDocument struct {
	XMLName xml.Name    `xml:"items"`
	Items   []thingItem `xml:"item"`
}

type thingItem struct {
	ID            int        `xml:"id,attr"`
	Thumbnail     string     `xml:"thumbnail"`
	Image         string     `xml:"image"`
	Names         []nameAttr `xml:"name"`
	Description   string     `xml:"description"`
	YearPublished *valueAttr `xml:"yearpublished"`
	MinPlayers    *valueAttr `xml:"minplayers"`
	MaxPlayers    *valueAttr `xml:"maxplayers"`
	PlayingTime   *valueAttr `xml:"playingtime"`
	MinAge        *valueAttr `xml:"minage"`
	Polls         []poll     `xml:"poll"`
	Links         []link     `xml:"link"`
	Statistics    struct {
		Ratings struct {
			Average       *valueAttr `xml:"average"`
			AverageWeight *valueAttr `xml:"averageweight"`
		} `xml:"ratings"`
	} `xml:"statistics"`
}

type poll struct {
	Name    string        `xml:"name,attr"`
	Results []pollResults `xml:"results"`
}

type pollResults struct {
	NumPlayers string       `xml:"numplayers,attr"`
	Results    []pollResult `xml:"result"`
}

type pollResult struct {
	Value    string `xml:"value,attr"`
	Level    string `xml:"level,attr"`
	NumVotes string `xml:"numvotes,attr"`
}

type link struct {
	Type  string `xml:"type,attr"`
	ID    int    `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

func decodeSearch(body []byte) ([]SearchHit, error) {
	var doc searchDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, eris.Wrap(err, "decoding bgg search response")
	}

	hits := make([]SearchHit, 0, len(doc.Items))
	for _, item := range doc.Items {
		hits = append(hits, SearchHit{
			ID:            item.ID,
			Name:          primaryName(item.Names),
			YearPublished: intValue(item.YearPublished),
		})
	}
	return hits, nil
}

func decodeThings(body []byte) ([]Game, error) {
	var doc thingDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, eris.Wrap(err, "decoding bgg thing response")
	}

	result := make([]Game, 0, len(doc.Items))
	for _, item := range doc.Items {
		result = append(result, item.toGame())
	}
	return result, nil
}

func (item thingItem) toGame() Game {
	game := Game{
		ID:                 item.ID,
		Name:               primaryName(item.Names),
		Description:        CleanDescription(item.Description),
		YearPublished:      intValue(item.YearPublished),
		MinPlayers:         intValue(item.MinPlayers),
		MaxPlayers:         intValue(item.MaxPlayers),
		PlayingTime:        intValue(item.PlayingTime),
		MinAge:             intValue(item.MinAge),
		ImageURL:           strings.TrimSpace(item.Image),
		ThumbnailURL:       strings.TrimSpace(item.Thumbnail),
		Rating:             floatValue(item.Statistics.Ratings.Average),
		Weight:             floatValue(item.Statistics.Ratings.AverageWeight),
		PlayerCounts:       []PlayerCountVote{},
	}

	for _, l := range item.Links {
		switch l.Type {
		case "boardgamecategory":
			game.Categories = append(game.Categories, l.Value)
		case "boardgamemechanic":
			game.Mechanics = append(game.Mechanics, l.Value)
		case "boardgamedesigner":
			game.Designers = append(game.Designers, l.Value)
		case "boardgamepublisher":
			game.Publishers = append(game.Publishers, l.Value)
		}
	}

	for _, p := range item.Polls {
		switch p.Name {
		case "suggested_numplayers":
			game.PlayerCounts = playerCountVotes(p)
		case "language_dependence":
			game.LanguageDependence = languageDependence(p)
		}
	}

	return game
}

func primaryName(names []nameAttr) string {
	for _, name := range names {
		if name.Type == "primary" {
			return name.Value
		}
	}
	if len(names) > 0 {
		return names[0].Value
	}
	return "Unknown Game"
}

// playerCountVotes keeps counts 1 to 7, folding "7+" into 7, and picks the
// verdict with a strict plurality, preferring best over recommended.
func playerCountVotes(p poll) []PlayerCountVote {
	votes := make([]PlayerCountVote, 0, len(p.Results))
	for _, results := range p.Results {
		count, ok := playerCount(results.NumPlayers)
		if !ok {
			continue
		}

		tally := map[string]int{}
		for _, r := range results.Results {
			tally[r.Value] = atoi(r.NumVotes)
		}
		best := tally["Best"]
		recommended := tally["Recommended"]
		notRecommended := tally["Not Recommended"]

		total := best + recommended + notRecommended
		if total == 0 {
			continue
		}

		verdict := RecommendationNotRecommended
		switch {
		case best > recommended && best > notRecommended:
			verdict = RecommendationBest
		case recommended > notRecommended:
			verdict = RecommendationRecommended
		}

		votes = append(votes, PlayerCountVote{Count: count, Recommendation: verdict, Votes: total})
	}
	return votes
}

func playerCount(raw string) (int, bool) {
	if raw == "7+" {
		return 7, true
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 || count > 7 {
		return 0, false
	}
	return count, true
}

// languageDependence returns the level with the most votes.
func languageDependence(p poll) *int {
	if len(p.Results) == 0 {
		return nil
	}

	var (
		level   *int
		highest int
	)
	for _, r := range p.Results[0].Results {
		votes := atoi(r.NumVotes)
		if votes > highest {
			highest = votes
			value := atoi(r.Level)
			level = &value
		}
	}
	return level
}

func intValue(attr *valueAttr) *int {
	if attr == nil {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(attr.Value))
	if err != nil {
		return nil
	}
	return &value
}

func floatValue(attr *valueAttr) *float64 {
	if attr == nil {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(attr.Value), 64)
	if err != nil {
		return nil
	}
	return &value
}

func atoi(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}
