// Package model holds the catalog records shared by the datastore and the
// managers. All fields use the wire/persistence names directly; snapshots
// handed out by the store are deep copies, safe to serialize without locks.
package model

// User roles.
const (
	RolePlayer    = "player"
	RoleDeveloper = "developer"
)

// Room statuses.
const (
	StatusWaiting = "waiting"
	StatusPlaying = "playing"
)

// Player-count bounds a game may declare.
const (
	MinPlayers = 2
	MaxPlayers = 8
)

// ValidRole reports whether role is one of the two client kinds.
func ValidRole(role string) bool {
	return role == RolePlayer || role == RoleDeveloper
}

// User is a registered identity. Password is stored as an unsalted SHA-256
// hex digest.
type User struct {
	Username      string   `json:"username"`
	PasswordHash  string   `json:"password"`
	Role          string   `json:"role"`
	OwnedGames    []string `json:"owned_games"`
	UploadedGames []string `json:"uploaded_games"`
}

// Owns reports whether the user has downloaded the given game.
func (u *User) Owns(gameID string) bool {
	for _, id := range u.OwnedGames {
		if id == gameID {
			return true
		}
	}
	return false
}

// Review is one player's rating of a game. The review list is append-only.
type Review struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

// Game is a published bundle in the catalog.
type Game struct {
	GameID      string   `json:"game_id"`
	Name        string   `json:"name"`
	Developer   string   `json:"developer"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	BundlePath  string   `json:"bundle_path"`
	ClientEntry string   `json:"client_entry"`
	ServerEntry string   `json:"server_entry"`
	MaxPlayers  int      `json:"max_players"`
	Downloads   int      `json:"downloads"`
	Reviews     []Review `json:"reviews"`
}

// Clone returns a deep copy of the game record.
func (g *Game) Clone() Game {
	cp := *g
	cp.Reviews = append([]Review(nil), g.Reviews...)
	return cp
}

// Room is a matchmaking unit around one game. The host is always present in
// Players while the room exists.
type Room struct {
	RoomID       string   `json:"room_id"`
	RoomName     string   `json:"room_name"`
	Host         string   `json:"host"`
	GameID       string   `json:"game_id"`
	MaxPlayers   int      `json:"max_players"`
	Players      []string `json:"players"`
	ReadyPlayers []string `json:"ready_players"`
	Status       string   `json:"status"`
	GamePort     int      `json:"game_port"`
}

// Clone returns a deep copy of the room record.
func (r *Room) Clone() Room {
	cp := *r
	cp.Players = append([]string(nil), r.Players...)
	cp.ReadyPlayers = append([]string(nil), r.ReadyPlayers...)
	return cp
}

// HasPlayer reports whether username is in the room.
func (r *Room) HasPlayer(username string) bool {
	for _, p := range r.Players {
		if p == username {
			return true
		}
	}
	return false
}

// IsReady reports whether username has signalled readiness.
func (r *Room) IsReady(username string) bool {
	for _, p := range r.ReadyPlayers {
		if p == username {
			return true
		}
	}
	return false
}

// Session binds an authenticated identity to one connection.
type Session struct {
	ConnID   string `json:"connection_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}
