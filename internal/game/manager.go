// Package game manages upload sessions, game-record finalization and the
// per-room game-port allocator.
package game

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
	"github.com/gamedock/platform/internal/store"
)

// Manager owns the upload-session table and the monotonic port allocator.
type Manager struct {
	store      *store.Store
	storageDir string

	uploadsMu sync.Mutex
	uploads   map[string]*Upload

	portMu   sync.Mutex
	nextPort int
}

// NewManager creates a game manager. basePort is the first game port handed
// out; ports are never reused during the server's lifetime.
func NewManager(st *store.Store, storageDir string, basePort int) (*Manager, error) {
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage dir: %w", err)
	}
	return &Manager{
		store:      st,
		storageDir: storageDir,
		uploads:    make(map[string]*Upload),
		nextPort:   basePort,
	}, nil
}

// StartUpload creates a staging file and registers an upload session.
// Returns the session and the advisory chunk size.
func (m *Manager) StartUpload(developer string, req protocol.UploadInitRequest) (*Upload, int, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Version) == "" {
		return nil, 0, protocol.Errorf(protocol.KindValidation, "name and version are required")
	}
	if req.MaxPlayers < model.MinPlayers || req.MaxPlayers > model.MaxPlayers {
		return nil, 0, protocol.Errorf(protocol.KindValidation,
			"max_players must be between %d and %d", model.MinPlayers, model.MaxPlayers)
	}

	uploadID := strings.ReplaceAll(uuid.NewString(), "-", "")
	target := filepath.Join(m.storageDir, uploadID+".zip")
	f, err := os.Create(target)
	if err != nil {
		return nil, 0, fmt.Errorf("creating staging file: %w", err)
	}

	up := &Upload{
		UploadID:    uploadID,
		Developer:   developer,
		Name:        strings.TrimSpace(req.Name),
		Version:     strings.TrimSpace(req.Version),
		Description: strings.TrimSpace(req.Description),
		ClientEntry: strings.TrimSpace(req.ClientEntry),
		ServerEntry: strings.TrimSpace(req.ServerEntry),
		MaxPlayers:  req.MaxPlayers,
		GameID:      req.GameID,
		TargetPath:  target,
		file:        f,
	}

	m.uploadsMu.Lock()
	m.uploads[uploadID] = up
	m.uploadsMu.Unlock()

	slog.Info("upload session created", "upload", uploadID, "developer", developer, "target", target)
	return up, protocol.DefaultChunkSize, nil
}

// WriteChunk appends one decoded chunk to the upload. On EOF the staging file
// becomes the game's bundle and the record is upserted in the catalog.
func (m *Manager) WriteChunk(uploadID string, chunk []byte, eof bool) error {
	m.uploadsMu.Lock()
	up := m.uploads[uploadID]
	m.uploadsMu.Unlock()
	if up == nil {
		return protocol.Errorf(protocol.KindNotFound, "Invalid upload_id")
	}

	if err := up.writeChunk(chunk, eof); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if !eof {
		return nil
	}

	gameID, err := m.store.UpsertGame(store.GameUpsert{
		Developer:   up.Developer,
		Name:        up.Name,
		Version:     up.Version,
		Description: up.Description,
		BundlePath:  up.TargetPath,
		ClientEntry: up.ClientEntry,
		ServerEntry: up.ServerEntry,
		MaxPlayers:  up.MaxPlayers,
		GameID:      up.GameID,
	})
	if err != nil {
		return err
	}

	m.uploadsMu.Lock()
	delete(m.uploads, uploadID)
	m.uploadsMu.Unlock()

	slog.Info("upload finished", "upload", uploadID, "game", gameID)
	return nil
}

// AbortUploadsFor cleans up the unfinished uploads of a developer whose
// connection went away before EOF.
func (m *Manager) AbortUploadsFor(developer string) {
	m.uploadsMu.Lock()
	var orphaned []*Upload
	for id, up := range m.uploads {
		if up.Developer == developer {
			orphaned = append(orphaned, up)
			delete(m.uploads, id)
		}
	}
	m.uploadsMu.Unlock()

	for _, up := range orphaned {
		up.abort()
		slog.Info("orphaned upload cleaned", "upload", up.UploadID, "developer", developer)
	}
}

// ActiveUploads returns the number of in-flight upload sessions.
func (m *Manager) ActiveUploads() int {
	m.uploadsMu.Lock()
	defer m.uploadsMu.Unlock()
	return len(m.uploads)
}

// AllocatePort hands out the next game port. Strictly increasing, never
// reused; a conflict with an already-bound port surfaces at start time.
func (m *Manager) AllocatePort() int {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	port := m.nextPort
	m.nextPort++
	return port
}
