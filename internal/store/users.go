package store

import (
	"log/slog"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// RegisterUser creates a new user record. Usernames are unique across roles.
func (s *Store) RegisterUser(username, password, role string) error {
	s.users.mu.Lock()
	defer s.users.mu.Unlock()

	for i := range s.users.rows {
		if s.users.rows[i].Username == username {
			return protocol.Errorf(protocol.KindConflict, "Username already exists")
		}
	}

	s.users.rows = append(s.users.rows, model.User{
		Username:      username,
		PasswordHash:  HashPassword(password),
		Role:          role,
		OwnedGames:    []string{},
		UploadedGames: []string{},
	})
	if err := s.users.save(); err != nil {
		return err
	}

	slog.Info("new user registered", "username", username, "role", role)
	return nil
}

// ValidateLogin checks credentials and role against the stored record.
func (s *Store) ValidateLogin(username, password, role string) bool {
	u, ok := s.GetUser(username)
	if !ok {
		return false
	}
	return u.Role == role && u.PasswordHash == HashPassword(password)
}

// GetUser returns a snapshot of one user record.
func (s *Store) GetUser(username string) (model.User, bool) {
	s.users.mu.RLock()
	defer s.users.mu.RUnlock()

	for i := range s.users.rows {
		if s.users.rows[i].Username == username {
			u := s.users.rows[i]
			u.OwnedGames = append([]string(nil), u.OwnedGames...)
			u.UploadedGames = append([]string(nil), u.UploadedGames...)
			return u, true
		}
	}
	return model.User{}, false
}
