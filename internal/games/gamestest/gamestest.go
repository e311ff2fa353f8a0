// Package gamestest provides SQLite-backed fixtures for tests that need a games repository.
package gamestest

import (
	"context"
	"path/filepath"
	"testing"

	"rulebook/app/internal/db"
	"rulebook/app/internal/games"
	applog "rulebook/app/internal/log"
)

// OpenRepository migrates a fresh SQLite database in a temp dir and returns a repository over it.
func OpenRepository(t testing.TB) *games.GormRepository {
	t.Helper()

	conn, err := db.Open(db.Options{Path: filepath.Join(t.TempDir(), "rulebook.db")})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(conn); closeErr != nil {
			t.Errorf("closing database: %v", closeErr)
		}
	})

	if err := games.Migrate(context.Background(), conn, applog.Discard()); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}

	repo, err := games.NewRepository(conn, applog.Discard())
	if err != nil {
		t.Fatalf("creating repository: %v", err)
	}
	return repo
}

// CreateGame inserts a game owned by authorID.
func CreateGame(t testing.TB, repo games.Repository, authorID, name string) *games.Game {
	t.Helper()

	game := &games.Game{AuthorID: authorID, Name: name}
	if err := repo.CreateGame(context.Background(), game); err != nil {
		t.Fatalf("creating game %q: %v", name, err)
	}
	return game
}
