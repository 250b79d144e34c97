package protocol

import (
	"encoding/json"
)

// Request actions understood by the dispatcher.
const (
	ActionRegister        = "register"
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionListGames       = "list_games"
	ActionGetGameInfo     = "get_game_info"
	ActionMyGames         = "my_games"
	ActionUploadGameInit  = "upload_game_init"
	ActionUploadGameChunk = "upload_game_chunk"
	ActionDeleteGame      = "delete_game"
	ActionDownloadGame    = "download_game"
	ActionSubmitReview    = "submit_review"
	ActionListRooms       = "list_rooms"
	ActionGetRoomInfo     = "get_room_info"
	ActionCreateRoom      = "create_room"
	ActionJoinRoom        = "join_room"
	ActionLeaveRoom       = "leave_room"
	ActionSetReady        = "set_ready"
	ActionCloseRoom       = "close_room"
	ActionStartGame       = "start_game"
	ActionEndGame         = "end_game"
	ActionSubscribeRoom   = "subscribe_room"
	ActionUnsubscribeRoom = "unsubscribe_room"
)

// Server-initiated frame actions.
const (
	ActionDownloadChunk = "download_chunk"
	ActionRoomUpdate    = "room_update"
	ActionGameStarted   = "game_started"
)

// Envelope is the part of every request the dispatcher looks at before
// routing; the remainder is decoded into the per-action payload type.
type Envelope struct {
	Action string `json:"action"`
}

// ParseEnvelope extracts the action from a raw frame.
func ParseEnvelope(raw json.RawMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, Errorf(KindTransport, "invalid JSON: %v", err)
	}
	return env, nil
}

// Decode unmarshals a raw frame into the typed payload for its action.
func Decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return Errorf(KindValidation, "invalid payload: %v", err)
	}
	return nil
}

// CredentialsRequest carries register and login payloads.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// GameRequest addresses a single game.
type GameRequest struct {
	GameID string `json:"game_id"`
}

// UploadInitRequest opens a chunked bundle upload.
type UploadInitRequest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
	ClientEntry string `json:"client_entry"`
	ServerEntry string `json:"server_entry"`
	MaxPlayers  int    `json:"max_players"`
	GameID      string `json:"game_id"` // set when updating an existing game
}

// UploadChunkRequest carries one base64 chunk of an open upload.
type UploadChunkRequest struct {
	UploadID string `json:"upload_id"`
	Data     string `json:"data"`
	EOF      bool   `json:"eof"`
}

// ReviewRequest submits a rating and comment for a game.
type ReviewRequest struct {
	GameID  string `json:"game_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CreateRoomRequest opens a new room for a game.
type CreateRoomRequest struct {
	GameID     string `json:"game_id"`
	RoomName   string `json:"room_name"`
	MaxPlayers int    `json:"max_players"`
}

// RoomRequest addresses a single room.
type RoomRequest struct {
	RoomID string `json:"room_id"`
}

// SetReadyRequest flips the caller's ready flag in a room.
type SetReadyRequest struct {
	RoomID string `json:"room_id"`
	Ready  bool   `json:"ready"`
}

// Response is the generic JSON object sent back for a request.
type Response map[string]any

// OK starts an ok response; extra fields chain through Set.
func OK() Response {
	return Response{"status": "ok"}
}

// Set adds a field and returns the response for chaining.
func (r Response) Set(key string, v any) Response {
	r[key] = v
	return r
}

// ErrorResponse shapes a failure as the wire expects it.
func ErrorResponse(message string) Response {
	return Response{"status": "error", "message": message}
}

// DownloadChunk is a server-initiated frame inside a download stream.
type DownloadChunk struct {
	Action string `json:"action"`
	Data   string `json:"data,omitempty"`
	EOF    bool   `json:"eof"`
}

// NewDownloadChunk frames up to DefaultChunkSize bytes of bundle data.
func NewDownloadChunk(data []byte, eof bool) DownloadChunk {
	c := DownloadChunk{Action: ActionDownloadChunk, EOF: eof}
	if len(data) > 0 {
		c.Data = EncodeChunk(data)
	}
	return c
}
