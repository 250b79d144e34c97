// Package lobby implements the room state machine: create/join/leave/ready
// bookkeeping and the start/end/close orchestration around the runtime.
package lobby

import (
	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
	"github.com/gamedock/platform/internal/store"
)

// Launcher is the slice of the runtime the lobby drives.
type Launcher interface {
	Start(roomID string, game model.Game, port, players int) error
	Stop(roomID string)
	Running(roomID string) bool
}

// Manager wraps the datastore's room table with the matchmaking rules.
type Manager struct {
	store   *store.Store
	runtime Launcher
}

// NewManager creates a lobby manager.
func NewManager(st *store.Store, rt Launcher) *Manager {
	return &Manager{store: st, runtime: rt}
}

// ListRooms returns a snapshot of all rooms.
func (m *Manager) ListRooms() []model.Room {
	return m.store.ListRooms()
}

// GetRoom returns one room snapshot.
func (m *Manager) GetRoom(roomID string) (model.Room, error) {
	return m.store.GetRoom(roomID)
}

// CreateRoom opens a waiting room for a game the caller owns. The requested
// max_players is clamped to the game's own limit. A player hosts at most one
// room at a time.
func (m *Manager) CreateRoom(username, gameID, roomName string, maxPlayers, gamePort int) (model.Room, error) {
	game, err := m.store.GetGame(gameID)
	if err != nil {
		return model.Room{}, err
	}

	user, ok := m.store.GetUser(username)
	if !ok || !user.Owns(gameID) {
		return model.Room{}, protocol.Errorf(protocol.KindPrecond,
			"You must download latest version before creating room")
	}

	if _, hosting := m.store.GetRoomByHost(username); hosting {
		return model.Room{}, protocol.Errorf(protocol.KindConflict, "You already host a room")
	}

	if maxPlayers > game.MaxPlayers {
		maxPlayers = game.MaxPlayers
	}
	if maxPlayers < model.MinPlayers {
		maxPlayers = model.MinPlayers
	}

	roomID, err := m.store.CreateRoom(roomName, username, gameID, maxPlayers, gamePort)
	if err != nil {
		return model.Room{}, err
	}
	return m.store.GetRoom(roomID)
}

// JoinRoom adds the caller to a waiting room for a game they own. Joining a
// room twice is a no-op success.
func (m *Manager) JoinRoom(username, roomID string) (model.Room, error) {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return model.Room{}, err
	}
	if room.Status != model.StatusWaiting {
		return model.Room{}, protocol.Errorf(protocol.KindConflict, "Room already started")
	}

	if _, err := m.store.GetGame(room.GameID); err != nil {
		return model.Room{}, err
	}
	user, ok := m.store.GetUser(username)
	if !ok || !user.Owns(room.GameID) {
		return model.Room{}, protocol.Errorf(protocol.KindPrecond,
			"You must download latest version before joining room")
	}

	if err := m.store.JoinRoom(roomID, username); err != nil {
		return model.Room{}, err
	}
	return m.store.GetRoom(roomID)
}

// LeaveRoom removes the caller from the room. Leaving while playing does not
// stop the child; the game server exits on its own when its clients are gone.
// An empty room is destroyed by the store.
func (m *Manager) LeaveRoom(username, roomID string) error {
	return m.store.LeaveRoom(roomID, username)
}

// SetReady flips the caller's ready flag while the room is still waiting.
func (m *Manager) SetReady(username, roomID string, ready bool) (model.Room, error) {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return model.Room{}, err
	}
	if room.Status != model.StatusWaiting {
		return model.Room{}, protocol.Errorf(protocol.KindConflict, "Game already started")
	}
	if err := m.store.SetReady(roomID, username, ready); err != nil {
		return model.Room{}, err
	}
	return m.store.GetRoom(roomID)
}

// StartGame checks the start preconditions and launches the game server on
// the room's pre-allocated port. Check, launch and the waiting→playing flip
// happen in one datastore transaction; on launch failure the room stays
// waiting.
func (m *Manager) StartGame(username, roomID string) (model.Room, error) {
	return m.store.StartMatch(roomID, username, func(room model.Room) error {
		game, err := m.store.GetGame(room.GameID)
		if err != nil {
			return err
		}
		return m.runtime.Start(roomID, game, room.GamePort, len(room.Players))
	})
}

// EndGame stops the child (if any), clears readiness and returns the room to
// waiting so a second match can be played. Any member may end the game.
func (m *Manager) EndGame(username, roomID string) (model.Room, error) {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return model.Room{}, err
	}
	if !room.HasPlayer(username) {
		return model.Room{}, protocol.Errorf(protocol.KindAuth, "You are not in this room")
	}

	m.runtime.Stop(roomID)
	if err := m.store.ResetRoomForNewGame(roomID); err != nil {
		return model.Room{}, err
	}
	return m.store.GetRoom(roomID)
}

// CloseRoom destroys the room and stops any running child. Host only.
func (m *Manager) CloseRoom(username, roomID string) error {
	room, err := m.store.GetRoom(roomID)
	if err != nil {
		return err
	}
	if room.Host != username {
		return protocol.Errorf(protocol.KindAuth, "Only the host can close the room")
	}

	m.runtime.Stop(roomID)
	return m.store.DeleteRoom(roomID)
}
