package server

import (
	"encoding/json"
	"log/slog"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// handleRequest processes one framed request. Handler failures are reported
// to the client; they never terminate the connection.
func (s *Server) handleRequest(c *conn, raw json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic", "conn", c.id, "panic", r)
			c.send(protocol.ErrorResponse("Internal server error"))
		}
	}()

	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		c.send(protocol.ErrorResponse(err.Error()))
		return
	}
	if env.Action == "" {
		c.send(protocol.ErrorResponse("Missing action"))
		return
	}
	slog.Debug("request", "conn", c.id, "action", env.Action)

	resp, err := s.dispatch(c, env.Action, raw)
	if err != nil {
		slog.Info("request failed", "conn", c.id, "action", env.Action,
			"kind", protocol.KindOf(err), "err", err)
		if protocol.KindOf(err) == protocol.KindInternal {
			// Do not leak internals; details stay in the log.
			c.send(protocol.ErrorResponse("Internal server error"))
			return
		}
		c.send(protocol.ErrorResponse(err.Error()))
		return
	}
	if resp != nil {
		c.send(resp)
	}
}

// dispatch routes an action to its handler, enforcing login and role gates.
// A nil response with a nil error means the handler wrote to the connection
// itself (download streaming).
func (s *Server) dispatch(c *conn, action string, raw json.RawMessage) (protocol.Response, error) {
	switch action {
	case protocol.ActionRegister:
		return s.handleRegister(raw)
	case protocol.ActionLogin:
		return s.handleLogin(c, raw)
	}

	sess, err := s.auth.RequireLogin(c.id)
	if err != nil {
		return nil, err
	}

	switch action {
	case protocol.ActionLogout:
		s.auth.Logout(c.id)
		return protocol.OK(), nil
	case protocol.ActionListGames:
		return protocol.OK().Set("games", s.store.ListGames()), nil
	case protocol.ActionGetGameInfo:
		return s.handleGetGameInfo(raw)
	case protocol.ActionListRooms:
		return protocol.OK().Set("rooms", s.lobby.ListRooms()), nil
	case protocol.ActionGetRoomInfo:
		return s.handleGetRoomInfo(raw)
	}

	switch sess.Role {
	case model.RoleDeveloper:
		switch action {
		case protocol.ActionUploadGameInit:
			return s.handleUploadInit(sess, raw)
		case protocol.ActionUploadGameChunk:
			return s.handleUploadChunk(raw)
		case protocol.ActionMyGames:
			return s.handleMyGames(sess)
		case protocol.ActionDeleteGame:
			return s.handleDeleteGame(sess, raw)
		}
	case model.RolePlayer:
		switch action {
		case protocol.ActionDownloadGame:
			return s.handleDownloadGame(c, sess, raw)
		case protocol.ActionSubmitReview:
			return s.handleSubmitReview(sess, raw)
		case protocol.ActionCreateRoom:
			return s.handleCreateRoom(c, sess, raw)
		case protocol.ActionJoinRoom:
			return s.handleJoinRoom(c, sess, raw)
		case protocol.ActionLeaveRoom:
			return s.handleLeaveRoom(c, sess, raw)
		case protocol.ActionSetReady:
			return s.handleSetReady(c, sess, raw)
		case protocol.ActionCloseRoom:
			return s.handleCloseRoom(sess, raw)
		case protocol.ActionStartGame:
			return s.handleStartGame(sess, raw)
		case protocol.ActionEndGame:
			return s.handleEndGame(c, sess, raw)
		case protocol.ActionSubscribeRoom:
			return s.handleSubscribeRoom(c, sess, raw)
		case protocol.ActionUnsubscribeRoom:
			s.subs.unsubscribe(c)
			return protocol.OK(), nil
		}
	}

	return nil, protocol.Errorf(protocol.KindValidation, "Unknown or unauthorized action: %s", action)
}

func (s *Server) handleRegister(raw json.RawMessage) (protocol.Response, error) {
	var req protocol.CredentialsRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if err := s.auth.Register(req.Username, req.Password, req.Role); err != nil {
		return nil, err
	}
	return protocol.OK().Set("message", "Registration successful"), nil
}

func (s *Server) handleLogin(c *conn, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.CredentialsRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	sess, err := s.auth.Login(c.id, req.Username, req.Password, req.Role)
	if err != nil {
		return nil, err
	}
	return protocol.OK().
		Set("message", "Login successful").
		Set("username", sess.Username).
		Set("role", sess.Role), nil
}

func (s *Server) handleGetGameInfo(raw json.RawMessage) (protocol.Response, error) {
	var req protocol.GameRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	g, err := s.store.GetGame(req.GameID)
	if err != nil {
		return nil, err
	}
	return protocol.OK().Set("game", g), nil
}

func (s *Server) handleGetRoomInfo(raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	room, err := s.lobby.GetRoom(req.RoomID)
	if err != nil {
		return nil, err
	}
	return protocol.OK().Set("room_info", room), nil
}

func (s *Server) handleMyGames(sess model.Session) (protocol.Response, error) {
	var mine []model.Game
	for _, g := range s.store.ListGames() {
		if g.Developer == sess.Username {
			mine = append(mine, g)
		}
	}
	if mine == nil {
		mine = []model.Game{}
	}
	return protocol.OK().Set("games", mine), nil
}

func (s *Server) handleUploadInit(sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.UploadInitRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if req.GameID != "" {
		// Updating in place: only the owning developer may replace a bundle.
		g, err := s.store.GetGame(req.GameID)
		if err != nil {
			return nil, err
		}
		if g.Developer != sess.Username {
			return nil, protocol.Errorf(protocol.KindAuth, "You can only update your own games")
		}
	}
	up, chunkSize, err := s.games.StartUpload(sess.Username, req)
	if err != nil {
		return nil, err
	}
	return protocol.OK().
		Set("upload_id", up.UploadID).
		Set("chunk_size", chunkSize), nil
}

func (s *Server) handleUploadChunk(raw json.RawMessage) (protocol.Response, error) {
	var req protocol.UploadChunkRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if req.UploadID == "" || (req.Data == "" && !req.EOF) {
		return nil, protocol.Errorf(protocol.KindValidation, "upload_id and data are required")
	}
	chunk, err := protocol.DecodeChunk(req.Data)
	if err != nil {
		return nil, err
	}
	if err := s.games.WriteChunk(req.UploadID, chunk, req.EOF); err != nil {
		return nil, err
	}
	return protocol.OK().Set("finished", req.EOF), nil
}

func (s *Server) handleDeleteGame(sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.GameRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	g, err := s.store.GetGame(req.GameID)
	if err != nil {
		return nil, err
	}
	if g.Developer != sess.Username {
		return nil, protocol.Errorf(protocol.KindAuth, "You can only delete your own games")
	}
	if err := s.store.DeleteGame(req.GameID); err != nil {
		return nil, err
	}
	return protocol.OK(), nil
}

func (s *Server) handleSubmitReview(sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.ReviewRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if req.GameID == "" || req.Rating < 1 || req.Rating > 5 {
		return nil, protocol.Errorf(protocol.KindValidation, "Invalid review")
	}
	if err := s.store.AddReview(req.GameID, sess.Username, req.Rating, req.Comment); err != nil {
		return nil, err
	}
	return protocol.OK(), nil
}

func (s *Server) handleCreateRoom(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.CreateRoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if req.GameID == "" {
		return nil, protocol.Errorf(protocol.KindValidation, "game_id required")
	}
	if req.RoomName == "" {
		req.RoomName = "Room"
	}

	port := s.games.AllocatePort()
	room, err := s.lobby.CreateRoom(sess.Username, req.GameID, req.RoomName, req.MaxPlayers, port)
	if err != nil {
		return nil, err
	}
	s.subs.subscribe(room.RoomID, c, sess.Username)
	return protocol.OK().
		Set("room_id", room.RoomID).
		Set("game_port", room.GamePort).
		Set("room_info", room), nil
}

func (s *Server) handleJoinRoom(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	room, err := s.lobby.JoinRoom(sess.Username, req.RoomID)
	if err != nil {
		return nil, err
	}
	s.subs.subscribe(room.RoomID, c, sess.Username)
	s.subs.broadcastUpdate(room, c)
	return protocol.OK().Set("room_info", room), nil
}

func (s *Server) handleLeaveRoom(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if err := s.lobby.LeaveRoom(sess.Username, req.RoomID); err != nil {
		return nil, err
	}
	s.subs.unsubscribe(c)
	if room, err := s.lobby.GetRoom(req.RoomID); err == nil {
		s.subs.broadcastUpdate(room, c)
	} else {
		s.subs.dropRoom(req.RoomID)
	}
	return protocol.OK(), nil
}

func (s *Server) handleSetReady(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.SetReadyRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	room, err := s.lobby.SetReady(sess.Username, req.RoomID, req.Ready)
	if err != nil {
		return nil, err
	}
	s.subs.broadcastUpdate(room, c)
	return protocol.OK().
		Set("ready", req.Ready).
		Set("room_info", room), nil
}

func (s *Server) handleCloseRoom(sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	if err := s.lobby.CloseRoom(sess.Username, req.RoomID); err != nil {
		return nil, err
	}
	s.subs.dropRoom(req.RoomID)
	return protocol.OK(), nil
}

func (s *Server) handleStartGame(sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	room, err := s.lobby.StartGame(sess.Username, req.RoomID)
	if err != nil {
		return nil, err
	}
	s.subs.broadcastGameStarted(room)
	return protocol.OK().
		Set("room_info", room).
		Set("game_port", room.GamePort), nil
}

func (s *Server) handleEndGame(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	room, err := s.lobby.EndGame(sess.Username, req.RoomID)
	if err != nil {
		return nil, err
	}
	s.subs.broadcastUpdate(room, c)
	return protocol.OK().Set("room_info", room), nil
}

func (s *Server) handleSubscribeRoom(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.RoomRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}
	room, err := s.lobby.GetRoom(req.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.HasPlayer(sess.Username) {
		return nil, protocol.Errorf(protocol.KindPrecond, "You are not in this room")
	}
	s.subs.subscribe(room.RoomID, c, sess.Username)
	return protocol.OK(), nil
}
