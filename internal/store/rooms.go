package store

import (
	"log/slog"
	"strings"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// ListRooms returns a snapshot of all rooms.
func (s *Store) ListRooms() []model.Room {
	s.rooms.mu.RLock()
	defer s.rooms.mu.RUnlock()

	out := make([]model.Room, 0, len(s.rooms.rows))
	for i := range s.rooms.rows {
		out = append(out, s.rooms.rows[i].Clone())
	}
	return out
}

// GetRoom returns a snapshot of one room.
func (s *Store) GetRoom(roomID string) (model.Room, error) {
	s.rooms.mu.RLock()
	defer s.rooms.mu.RUnlock()

	if r := s.findRoom(roomID); r != nil {
		return r.Clone(), nil
	}
	return model.Room{}, protocol.Errorf(protocol.KindNotFound, "Room not found")
}

// GetRoomByHost returns the room hosted by username, if any.
func (s *Store) GetRoomByHost(username string) (model.Room, bool) {
	s.rooms.mu.RLock()
	defer s.rooms.mu.RUnlock()

	for i := range s.rooms.rows {
		if s.rooms.rows[i].Host == username {
			return s.rooms.rows[i].Clone(), true
		}
	}
	return model.Room{}, false
}

// findRoom returns the live record. Callers must hold the rooms lock.
func (s *Store) findRoom(roomID string) *model.Room {
	for i := range s.rooms.rows {
		if s.rooms.rows[i].RoomID == roomID {
			return &s.rooms.rows[i]
		}
	}
	return nil
}

// CreateRoom inserts a waiting room with the host as its only player.
func (s *Store) CreateRoom(roomName, host, gameID string, maxPlayers, gamePort int) (string, error) {
	roomID := newID()[:8]

	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	s.rooms.rows = append(s.rooms.rows, model.Room{
		RoomID:       roomID,
		RoomName:     roomName,
		Host:         host,
		GameID:       gameID,
		MaxPlayers:   maxPlayers,
		Players:      []string{host},
		ReadyPlayers: []string{},
		Status:       model.StatusWaiting,
		GamePort:     gamePort,
	})
	if err := s.rooms.save(); err != nil {
		return "", err
	}

	slog.Info("room created", "room", roomID, "name", roomName, "game", gameID, "host", host, "port", gamePort)
	return roomID, nil
}

// JoinRoom adds username to the room. A second join by the same user is a
// no-op success; a full room is a conflict.
func (s *Store) JoinRoom(roomID, username string) error {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	r := s.findRoom(roomID)
	if r == nil {
		return protocol.Errorf(protocol.KindNotFound, "Room not found")
	}
	if r.HasPlayer(username) {
		return nil
	}
	if len(r.Players) >= r.MaxPlayers {
		return protocol.Errorf(protocol.KindConflict, "Room is full")
	}
	r.Players = append(r.Players, username)
	return s.rooms.save()
}

// LeaveRoom removes username from players and ready_players. When the host
// leaves a room that still has members, the host role passes to the first
// remaining player; the room is destroyed when the last player leaves.
// Unknown rooms are a no-op.
func (s *Store) LeaveRoom(roomID, username string) error {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	r := s.findRoom(roomID)
	if r == nil {
		return nil
	}
	r.Players = remove(r.Players, username)
	r.ReadyPlayers = remove(r.ReadyPlayers, username)
	if len(r.Players) == 0 {
		s.removeRoom(roomID)
	} else if r.Host == username {
		r.Host = r.Players[0]
		slog.Info("room host left, handing off", "room", roomID, "host", r.Host)
	}
	return s.rooms.save()
}

// SetReady flips username's ready flag. Both directions are idempotent.
func (s *Store) SetReady(roomID, username string, ready bool) error {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	r := s.findRoom(roomID)
	if r == nil {
		return protocol.Errorf(protocol.KindNotFound, "Room not found")
	}
	if !r.HasPlayer(username) {
		return protocol.Errorf(protocol.KindPrecond, "You are not in this room")
	}

	if ready {
		if !r.IsReady(username) {
			r.ReadyPlayers = append(r.ReadyPlayers, username)
		}
	} else {
		r.ReadyPlayers = remove(r.ReadyPlayers, username)
	}
	return s.rooms.save()
}

// AllReady reports whether the room has at least two players and every one of
// them has signalled readiness.
func (s *Store) AllReady(roomID string) bool {
	s.rooms.mu.RLock()
	defer s.rooms.mu.RUnlock()

	r := s.findRoom(roomID)
	if r == nil {
		return false
	}
	return allReady(r)
}

func allReady(r *model.Room) bool {
	if len(r.Players) < model.MinPlayers {
		return false
	}
	for _, p := range r.Players {
		if !r.IsReady(p) {
			return false
		}
	}
	return true
}

// DeleteRoom removes the room outright.
func (s *Store) DeleteRoom(roomID string) error {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	s.removeRoom(roomID)
	return s.rooms.save()
}

// ResetRoomForNewGame clears readiness and returns the room to waiting so a
// second match can be played.
func (s *Store) ResetRoomForNewGame(roomID string) error {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	r := s.findRoom(roomID)
	if r == nil {
		return protocol.Errorf(protocol.KindNotFound, "Room not found")
	}
	r.ReadyPlayers = []string{}
	r.Status = model.StatusWaiting
	return s.rooms.save()
}

// StartMatch atomically checks the start-game preconditions, runs launch with
// the room snapshot, and flips the room to playing when launch succeeds. The
// rooms lock is held throughout, so a simultaneous leave or ready change
// cannot invalidate the preconditions between check and flip.
func (s *Store) StartMatch(roomID, caller string, launch func(room model.Room) error) (model.Room, error) {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()

	r := s.findRoom(roomID)
	if r == nil {
		return model.Room{}, protocol.Errorf(protocol.KindNotFound, "Room not found")
	}
	if r.Host != caller {
		return model.Room{}, protocol.Errorf(protocol.KindAuth, "Only the host can start the game")
	}
	if r.Status != model.StatusWaiting {
		return model.Room{}, protocol.Errorf(protocol.KindConflict, "Game already started")
	}
	if len(r.Players) < model.MinPlayers {
		return model.Room{}, protocol.Errorf(protocol.KindPrecond, "Need at least 2 players to start")
	}
	if !allReady(r) {
		var waiting []string
		for _, p := range r.Players {
			if !r.IsReady(p) {
				waiting = append(waiting, p)
			}
		}
		return model.Room{}, protocol.Errorf(protocol.KindPrecond,
			"Not all players are ready. Waiting for: %s", strings.Join(waiting, ", "))
	}

	if err := launch(r.Clone()); err != nil {
		return model.Room{}, err
	}

	r.Status = model.StatusPlaying
	if err := s.rooms.save(); err != nil {
		return model.Room{}, err
	}
	return r.Clone(), nil
}

func (s *Store) removeRoom(roomID string) {
	for i := range s.rooms.rows {
		if s.rooms.rows[i].RoomID == roomID {
			s.rooms.rows = append(s.rooms.rows[:i], s.rooms.rows[i+1:]...)
			return
		}
	}
}

func remove(list []string, v string) []string {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
