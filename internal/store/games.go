package store

import (
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// GameUpsert carries the metadata of an upload finalization.
type GameUpsert struct {
	Developer   string
	Name        string
	Version     string
	Description string
	BundlePath  string
	ClientEntry string
	ServerEntry string
	MaxPlayers  int
	GameID      string // empty to create, set to update in place
}

// newID returns an opaque 32-char hex identifier.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ListGames returns a snapshot of the whole catalog.
func (s *Store) ListGames() []model.Game {
	s.games.mu.RLock()
	defer s.games.mu.RUnlock()

	out := make([]model.Game, 0, len(s.games.rows))
	for i := range s.games.rows {
		out = append(out, s.games.rows[i].Clone())
	}
	return out
}

// GetGame returns a snapshot of one game record.
func (s *Store) GetGame(gameID string) (model.Game, error) {
	s.games.mu.RLock()
	defer s.games.mu.RUnlock()

	for i := range s.games.rows {
		if s.games.rows[i].GameID == gameID {
			return s.games.rows[i].Clone(), nil
		}
	}
	return model.Game{}, protocol.Errorf(protocol.KindNotFound, "Game not found")
}

// UpsertGame registers a finalized upload, or updates an existing record when
// up.GameID is set. Creating also appends to the developer's uploaded_games;
// lock order is Games then Users.
func (s *Store) UpsertGame(up GameUpsert) (string, error) {
	s.games.mu.Lock()
	defer s.games.mu.Unlock()
	s.users.mu.Lock()
	defer s.users.mu.Unlock()

	var game *model.Game
	if up.GameID != "" {
		for i := range s.games.rows {
			if s.games.rows[i].GameID == up.GameID {
				game = &s.games.rows[i]
				break
			}
		}
	}

	if game == nil {
		gameID := newID()
		s.games.rows = append(s.games.rows, model.Game{
			GameID:      gameID,
			Name:        up.Name,
			Developer:   up.Developer,
			Version:     up.Version,
			Description: up.Description,
			BundlePath:  up.BundlePath,
			ClientEntry: up.ClientEntry,
			ServerEntry: up.ServerEntry,
			MaxPlayers:  up.MaxPlayers,
			Downloads:   0,
			Reviews:     []model.Review{},
		})
		for i := range s.users.rows {
			if s.users.rows[i].Username == up.Developer {
				s.users.rows[i].UploadedGames = append(s.users.rows[i].UploadedGames, gameID)
				break
			}
		}
		up.GameID = gameID
	} else {
		game.Name = up.Name
		game.Version = up.Version
		game.Description = up.Description
		game.BundlePath = up.BundlePath
		game.ClientEntry = up.ClientEntry
		game.ServerEntry = up.ServerEntry
		game.MaxPlayers = up.MaxPlayers
	}

	if err := s.games.save(); err != nil {
		return "", err
	}
	if err := s.users.save(); err != nil {
		return "", err
	}

	slog.Info("game saved", "name", up.Name, "game_id", up.GameID, "version", up.Version)
	return up.GameID, nil
}

// DeleteGame removes a game and its id from the developer's uploaded_games.
// Authorization is the dispatcher's job. Lock order is Games then Users.
func (s *Store) DeleteGame(gameID string) error {
	s.games.mu.Lock()
	defer s.games.mu.Unlock()
	s.users.mu.Lock()
	defer s.users.mu.Unlock()

	idx := -1
	for i := range s.games.rows {
		if s.games.rows[i].GameID == gameID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return protocol.Errorf(protocol.KindNotFound, "Game not found")
	}

	developer := s.games.rows[idx].Developer
	s.games.rows = append(s.games.rows[:idx], s.games.rows[idx+1:]...)

	for i := range s.users.rows {
		if s.users.rows[i].Username != developer {
			continue
		}
		uploaded := s.users.rows[i].UploadedGames
		for j, id := range uploaded {
			if id == gameID {
				s.users.rows[i].UploadedGames = append(uploaded[:j], uploaded[j+1:]...)
				break
			}
		}
		break
	}

	if err := s.games.save(); err != nil {
		return err
	}
	return s.users.save()
}

// IncrementDownload bumps the game's download counter and records ownership
// for the player. Ownership is idempotent; the counter is not.
// Lock order is Games then Users.
func (s *Store) IncrementDownload(username, gameID string) error {
	s.games.mu.Lock()
	defer s.games.mu.Unlock()
	s.users.mu.Lock()
	defer s.users.mu.Unlock()

	for i := range s.games.rows {
		if s.games.rows[i].GameID == gameID {
			s.games.rows[i].Downloads++
			break
		}
	}
	for i := range s.users.rows {
		if s.users.rows[i].Username != username {
			continue
		}
		if !s.users.rows[i].Owns(gameID) {
			s.users.rows[i].OwnedGames = append(s.users.rows[i].OwnedGames, gameID)
		}
		break
	}

	if err := s.games.save(); err != nil {
		return err
	}
	return s.users.save()
}

// AddReview appends a review to a game. The list is append-only.
func (s *Store) AddReview(gameID, username string, rating int, comment string) error {
	s.games.mu.Lock()
	defer s.games.mu.Unlock()

	for i := range s.games.rows {
		if s.games.rows[i].GameID == gameID {
			s.games.rows[i].Reviews = append(s.games.rows[i].Reviews, model.Review{
				Username: username,
				Rating:   rating,
				Comment:  comment,
			})
			return s.games.save()
		}
	}
	return protocol.Errorf(protocol.KindNotFound, "Game not found")
}
