package games

import (
	"path"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrGameNotFound indicates the game does not exist or is not visible to the caller.
	ErrGameNotFound = eris.New("game not found")
	// ErrImageNotFound indicates the image does not exist for the game.
	ErrImageNotFound = eris.New("image not found")
	// ErrRuleNotFound indicates no rule row exists for the game.
	ErrRuleNotFound = eris.New("game rule not found")
	// ErrForbidden indicates the caller does not own the game.
	ErrForbidden = eris.New("caller does not own this game")
	// ErrInvalidInput marks validation failures.
	ErrInvalidInput = eris.New("invalid input")
	// ErrInvalidStatus indicates a status value outside the accepted set.
	ErrInvalidStatus = eris.New("invalid status")
)

// CheckOwner returns ErrForbidden unless userID authored the game.
func CheckOwner(game *Game, userID string) error {
	if game == nil {
		return ErrGameNotFound
	}
	if userID == "" || game.AuthorID != userID {
		return eris.Wrapf(ErrForbidden, "game %s", game.ID)
	}
	return nil
}

// OwnedPath cleans a stored blob path and returns ErrForbidden unless it sits
// under the author's "<authorID>/" prefix.
func OwnedPath(authorID, p string) (string, error) {
	cleaned := path.Clean(strings.TrimSpace(p))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return "", eris.Wrapf(ErrInvalidInput, "image path %q", p)
	}
	if authorID == "" || !strings.HasPrefix(cleaned, authorID+"/") {
		return "", eris.Wrapf(ErrForbidden, "image path %q", p)
	}
	return cleaned, nil
}
