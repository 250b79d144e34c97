// Package store is the persistent catalog of users, games and rooms.
//
// Each collection lives in its own JSON document under the data directory and
// is guarded by a coarse per-table lock. The three known multi-table
// mutations (UpsertGame, IncrementDownload, DeleteGame) take the Games lock
// before the Users lock, always in that order.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/gamedock/platform/internal/model"
)

// Store is the high-level API over the three JSON tables.
type Store struct {
	users *table[model.User]
	games *table[model.Game]
	rooms *table[model.Room]
}

// Open loads (or creates) the three tables under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	users, err := openTable[model.User](dir, "users")
	if err != nil {
		return nil, err
	}
	games, err := openTable[model.Game](dir, "games")
	if err != nil {
		return nil, err
	}
	rooms, err := openTable[model.Room](dir, "rooms")
	if err != nil {
		return nil, err
	}

	return &Store{users: users, games: games, rooms: rooms}, nil
}

// HashPassword returns the unsalted SHA-256 hex digest stored for a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
