package server

import (
	"log/slog"
	"sync"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// subscriptions tracks which connections want push updates for which room.
// A connection follows at most one room at a time; create/join subscribe
// implicitly, leave/close/teardown unsubscribe.
type subscriptions struct {
	mu    sync.Mutex
	rooms map[string]map[*conn]string // room id -> conn -> username
	conns map[*conn]string            // conn -> room id
}

func newSubscriptions() *subscriptions {
	return &subscriptions{
		rooms: make(map[string]map[*conn]string),
		conns: make(map[*conn]string),
	}
}

func (s *subscriptions) subscribe(roomID string, c *conn, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(c)
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = make(map[*conn]string)
	}
	s.rooms[roomID][c] = username
	s.conns[c] = roomID
}

func (s *subscriptions) unsubscribe(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(c)
}

func (s *subscriptions) removeLocked(c *conn) {
	roomID, ok := s.conns[c]
	if !ok {
		return
	}
	delete(s.rooms[roomID], c)
	if len(s.rooms[roomID]) == 0 {
		delete(s.rooms, roomID)
	}
	delete(s.conns, c)
}

// dropRoom forgets every subscriber of a destroyed room.
func (s *subscriptions) dropRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.rooms[roomID] {
		delete(s.conns, c)
	}
	delete(s.rooms, roomID)
}

// broadcastUpdate pushes a room_update frame to every subscriber except the
// connection that caused the change. Dead connections are pruned.
func (s *subscriptions) broadcastUpdate(room model.Room, exclude *conn) {
	s.broadcast(room.RoomID, protocol.Response{
		"action": protocol.ActionRoomUpdate,
		"room":   room,
	}, exclude)
}

// broadcastGameStarted tells everyone in the room (including the host's
// connection) where the game server is listening.
func (s *subscriptions) broadcastGameStarted(room model.Room) {
	s.broadcast(room.RoomID, protocol.Response{
		"action":    protocol.ActionGameStarted,
		"room":      room,
		"game_port": room.GamePort,
	}, nil)
}

func (s *subscriptions) broadcast(roomID string, msg any, exclude *conn) {
	s.mu.Lock()
	targets := make([]*conn, 0, len(s.rooms[roomID]))
	for c := range s.rooms[roomID] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	// Send outside the lock; a slow subscriber must not stall the registry.
	var dead []*conn
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			slog.Debug("dropping dead subscriber", "conn", c.id, "err", err)
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		s.unsubscribe(c)
	}
}
