package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamedock/platform/internal/auth"
	"github.com/gamedock/platform/internal/config"
	"github.com/gamedock/platform/internal/game"
	"github.com/gamedock/platform/internal/lobby"
	"github.com/gamedock/platform/internal/protocol"
	"github.com/gamedock/platform/internal/runtime"
	"github.com/gamedock/platform/internal/store"
)

// startServer boots a full server on an ephemeral port and returns its address.
func startServer(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.StorageDir = t.TempDir()
	cfg.RuntimeDir = t.TempDir()
	cfg.Interpreter = "sh"
	cfg.ScriptSuffix = ".sh"
	cfg.ReadyWindow = 150 * time.Millisecond
	cfg.StopGrace = 500 * time.Millisecond

	st, err := store.Open(cfg.DataDir)
	require.NoError(t, err)
	rt, err := runtime.New(runtime.Options{
		Interpreter:  cfg.Interpreter,
		ScriptSuffix: cfg.ScriptSuffix,
		TempRoot:     cfg.RuntimeDir,
		ReadyWindow:  cfg.ReadyWindow,
		StopGrace:    cfg.StopGrace,
	})
	require.NoError(t, err)
	gm, err := game.NewManager(st, cfg.StorageDir, cfg.BaseGamePort)
	require.NoError(t, err)

	srv := New(cfg, st, auth.NewManager(st), gm, lobby.NewManager(st, rt), rt)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

// client is a framed JSON test client.
type client struct {
	t *testing.T
	c net.Conn
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return &client{t: t, c: c}
}

// recv reads the next frame, push or response alike.
func (cl *client) recv() map[string]any {
	cl.t.Helper()
	cl.c.SetReadDeadline(time.Now().Add(5 * time.Second))
	raw, err := protocol.ReadMessage(cl.c)
	require.NoError(cl.t, err)
	var resp map[string]any
	require.NoError(cl.t, protocol.Decode(raw, &resp))
	return resp
}

// do sends one request and returns the response frame.
func (cl *client) do(req map[string]any) map[string]any {
	cl.t.Helper()
	require.NoError(cl.t, protocol.WriteMessage(cl.c, req))
	return cl.recv()
}

// ok sends a request and requires an ok response.
func (cl *client) ok(req map[string]any) map[string]any {
	cl.t.Helper()
	resp := cl.do(req)
	require.Equal(cl.t, "ok", resp["status"], "action %v: %v", req["action"], resp["message"])
	return resp
}

// fail sends a request and requires an error response with the given message.
func (cl *client) fail(req map[string]any, message string) {
	cl.t.Helper()
	resp := cl.do(req)
	require.Equal(cl.t, "error", resp["status"], "action %v", req["action"])
	assert.Equal(cl.t, message, resp["message"])
}

func (cl *client) register(username, role string) {
	cl.t.Helper()
	cl.ok(map[string]any{"action": "register", "username": username, "password": "pw", "role": role})
}

func (cl *client) login(username, role string) {
	cl.t.Helper()
	cl.ok(map[string]any{"action": "login", "username": username, "password": "pw", "role": role})
}

// upload pushes a bundle through the chunked upload protocol and returns the
// new game's id.
func (cl *client) upload(name string, maxPlayers int, bundle []byte) string {
	cl.t.Helper()
	resp := cl.ok(map[string]any{
		"action": "upload_game_init",
		"name":   name, "version": "1.0", "description": "d",
		"client_entry": "client.sh", "server_entry": "game_server.sh",
		"max_players": maxPlayers,
	})
	uploadID := resp["upload_id"].(string)
	chunkSize := int(resp["chunk_size"].(float64))

	for i := 0; i < len(bundle); i += chunkSize {
		end := min(i+chunkSize, len(bundle))
		cl.ok(map[string]any{
			"action":    "upload_game_chunk",
			"upload_id": uploadID,
			"data":      base64.StdEncoding.EncodeToString(bundle[i:end]),
			"eof":       false,
		})
	}
	final := cl.ok(map[string]any{"action": "upload_game_chunk", "upload_id": uploadID, "eof": true})
	assert.Equal(cl.t, true, final["finished"])

	games := cl.ok(map[string]any{"action": "list_games"})["games"].([]any)
	for _, g := range games {
		m := g.(map[string]any)
		if m["name"] == name {
			return m["game_id"].(string)
		}
	}
	cl.t.Fatalf("uploaded game %q not listed", name)
	return ""
}

// download pulls a bundle through the download_chunk stream.
func (cl *client) download(gameID string) []byte {
	cl.t.Helper()
	require.NoError(cl.t, protocol.WriteMessage(cl.c, map[string]any{
		"action": "download_game", "game_id": gameID,
	}))

	var out bytes.Buffer
	for {
		frame := cl.recv()
		require.Equal(cl.t, "download_chunk", frame["action"], "unexpected frame: %v", frame)
		if data, ok := frame["data"].(string); ok && data != "" {
			chunk, err := base64.StdEncoding.DecodeString(data)
			require.NoError(cl.t, err)
			out.Write(chunk)
		}
		if frame["eof"] == true {
			return out.Bytes()
		}
	}
}

// serverBundle zips a game_server.sh that stays alive until stopped.
func serverBundle(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("game_server.sh")
	require.NoError(t, err)
	_, err = w.Write([]byte("exec sleep 30\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestRegisterAndLogin(t *testing.T) {
	addr := startServer(t)
	cl := dial(t, addr)

	cl.fail(map[string]any{"action": "list_games"}, "Not logged in")

	cl.register("bob", "player")
	cl.fail(map[string]any{"action": "register", "username": "bob", "password": "pw", "role": "player"},
		"Username already exists")

	cl.fail(map[string]any{"action": "login", "username": "bob", "password": "nope", "role": "player"},
		"Invalid credentials")
	cl.fail(map[string]any{"action": "login", "username": "ghost", "password": "pw", "role": "player"},
		"Invalid credentials")

	resp := cl.ok(map[string]any{"action": "login", "username": "bob", "password": "pw", "role": "player"})
	assert.Equal(t, "bob", resp["username"])
	assert.Equal(t, "player", resp["role"])

	games := cl.ok(map[string]any{"action": "list_games"})
	assert.Empty(t, games["games"])

	cl.ok(map[string]any{"action": "logout"})
	cl.fail(map[string]any{"action": "list_games"}, "Not logged in")
}

func TestRoleGating(t *testing.T) {
	addr := startServer(t)

	player := dial(t, addr)
	player.register("bob", "player")
	player.login("bob", "player")
	player.fail(map[string]any{"action": "my_games"},
		"Unknown or unauthorized action: my_games")

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	dev.fail(map[string]any{"action": "create_room", "game_id": "x"},
		"Unknown or unauthorized action: create_room")

	player.fail(map[string]any{"action": "frobnicate"},
		"Unknown or unauthorized action: frobnicate")
}

func TestUploadAndDownload(t *testing.T) {
	addr := startServer(t)

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	gameID := dev.upload("tiny", 2, []byte("AB"))

	mine := dev.ok(map[string]any{"action": "my_games"})["games"].([]any)
	require.Len(t, mine, 1)
	g := mine[0].(map[string]any)
	assert.Equal(t, float64(0), g["downloads"])
	assert.Empty(t, g["reviews"])

	player := dial(t, addr)
	player.register("bob", "player")
	player.login("bob", "player")
	assert.Equal(t, []byte("AB"), player.download(gameID))

	info := player.ok(map[string]any{"action": "get_game_info", "game_id": gameID})
	assert.Equal(t, float64(1), info["game"].(map[string]any)["downloads"])

	// Re-download bumps the counter but not ownership.
	player.download(gameID)
	info = player.ok(map[string]any{"action": "get_game_info", "game_id": gameID})
	assert.Equal(t, float64(2), info["game"].(map[string]any)["downloads"])

	player.fail(map[string]any{"action": "download_game", "game_id": "missing"}, "Game not found")

	player.ok(map[string]any{"action": "submit_review", "game_id": gameID, "rating": 5, "comment": "fun"})
	resp := player.do(map[string]any{"action": "submit_review", "game_id": gameID, "rating": 9})
	assert.Equal(t, "error", resp["status"])
}

func TestRoomFull(t *testing.T) {
	addr := startServer(t)

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	gameID := dev.upload("duel", 2, []byte("AB"))

	players := make(map[string]*client)
	for _, name := range []string{"bob", "carol", "dave"} {
		cl := dial(t, addr)
		cl.register(name, "player")
		cl.login(name, "player")
		cl.download(gameID)
		players[name] = cl
	}

	created := players["bob"].ok(map[string]any{
		"action": "create_room", "game_id": gameID, "room_name": "arena", "max_players": 8,
	})
	roomID := created["room_id"].(string)
	assert.Equal(t, float64(2), created["room_info"].(map[string]any)["max_players"],
		"requested size is clamped to the game limit")

	players["carol"].ok(map[string]any{"action": "join_room", "room_id": roomID})
	players["dave"].fail(map[string]any{"action": "join_room", "room_id": roomID}, "Room is full")

	rooms := players["dave"].ok(map[string]any{"action": "list_rooms"})["rooms"].([]any)
	require.Len(t, rooms, 1)
	assert.Len(t, rooms[0].(map[string]any)["players"], 2)
}

func TestMatchLifecycle(t *testing.T) {
	addr := startServer(t)

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	gameID := dev.upload("arena", 4, serverBundle(t))

	bob := dial(t, addr)
	bob.register("bob", "player")
	bob.login("bob", "player")
	bob.download(gameID)

	carol := dial(t, addr)
	carol.register("carol", "player")
	carol.login("carol", "player")
	carol.download(gameID)

	created := bob.ok(map[string]any{
		"action": "create_room", "game_id": gameID, "room_name": "match", "max_players": 2,
	})
	roomID := created["room_id"].(string)
	gamePort := created["game_port"].(float64)

	carol.ok(map[string]any{"action": "join_room", "room_id": roomID})
	// Hosting subscribes; carol's join is pushed to bob.
	push := bob.recv()
	assert.Equal(t, "room_update", push["action"])

	bob.fail(map[string]any{"action": "start_game", "room_id": roomID},
		"Not all players are ready. Waiting for: bob, carol")

	bob.ok(map[string]any{"action": "set_ready", "room_id": roomID, "ready": true})
	push = carol.recv()
	assert.Equal(t, "room_update", push["action"])
	ready := push["room"].(map[string]any)["ready_players"].([]any)
	assert.Contains(t, ready, "bob")

	carol.ok(map[string]any{"action": "set_ready", "room_id": roomID, "ready": true})
	push = bob.recv()
	assert.Equal(t, "room_update", push["action"])

	carol.fail(map[string]any{"action": "start_game", "room_id": roomID},
		"Only the host can start the game")

	// game_started is pushed to the whole room, the host's connection
	// included, before the host's own response.
	require.NoError(t, protocol.WriteMessage(bob.c, map[string]any{
		"action": "start_game", "room_id": roomID,
	}))
	push = bob.recv()
	assert.Equal(t, "game_started", push["action"])
	started := bob.recv()
	require.Equal(t, "ok", started["status"])
	assert.Equal(t, gamePort, started["game_port"])
	assert.Equal(t, "playing", started["room_info"].(map[string]any)["status"])

	push = carol.recv()
	assert.Equal(t, "game_started", push["action"])
	assert.Equal(t, gamePort, push["game_port"])

	bob.fail(map[string]any{"action": "start_game", "room_id": roomID}, "Game already started")
	bob.fail(map[string]any{"action": "set_ready", "room_id": roomID, "ready": false},
		"Game already started")

	ended := carol.ok(map[string]any{"action": "end_game", "room_id": roomID})
	room := ended["room_info"].(map[string]any)
	assert.Equal(t, "waiting", room["status"])
	assert.Empty(t, room["ready_players"])
	push = bob.recv()
	assert.Equal(t, "room_update", push["action"])

	carol.fail(map[string]any{"action": "close_room", "room_id": roomID},
		"Only the host can close the room")
	bob.ok(map[string]any{"action": "close_room", "room_id": roomID})
	bob.fail(map[string]any{"action": "get_room_info", "room_id": roomID}, "Room not found")
}

func TestDownloadStreamNotInterleaved(t *testing.T) {
	addr := startServer(t)

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	// Large enough that the stream is still in flight when the push lands.
	bundle := bytes.Repeat([]byte("abcdefgh"), 128<<10)
	gameID := dev.upload("big", 4, bundle)

	bob := dial(t, addr)
	bob.register("bob", "player")
	bob.login("bob", "player")
	bob.download(gameID)

	carol := dial(t, addr)
	carol.register("carol", "player")
	carol.login("carol", "player")
	carol.download(gameID)

	created := bob.ok(map[string]any{
		"action": "create_room", "game_id": gameID, "room_name": "fun", "max_players": 4,
	})
	roomID := created["room_id"].(string)
	carol.ok(map[string]any{"action": "join_room", "room_id": roomID})
	push := bob.recv()
	require.Equal(t, "room_update", push["action"])

	// Bob re-downloads while carol changes the room. The push must land
	// before the first chunk or after eof, never inside the stream.
	require.NoError(t, protocol.WriteMessage(bob.c, map[string]any{
		"action": "download_game", "game_id": gameID,
	}))
	require.NoError(t, protocol.WriteMessage(carol.c, map[string]any{
		"action": "set_ready", "room_id": roomID, "ready": true,
	}))

	var got bytes.Buffer
	var streaming, done bool
	updates := 0
	for !done || updates == 0 {
		frame := bob.recv()
		switch frame["action"] {
		case "download_chunk":
			require.False(t, done, "chunk after eof")
			streaming = true
			if data, ok := frame["data"].(string); ok && data != "" {
				chunk, err := base64.StdEncoding.DecodeString(data)
				require.NoError(t, err)
				got.Write(chunk)
			}
			if frame["eof"] == true {
				done = true
			}
		case "room_update":
			require.True(t, !streaming || done,
				"room push interleaved with the download stream")
			updates++
		default:
			t.Fatalf("unexpected frame: %v", frame)
		}
	}
	assert.Equal(t, bundle, got.Bytes())

	resp := carol.recv()
	require.Equal(t, "ok", resp["status"])
}

func TestUploadChunk_RequiresData(t *testing.T) {
	addr := startServer(t)

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	resp := dev.ok(map[string]any{
		"action": "upload_game_init",
		"name":   "g", "version": "1", "description": "d",
		"client_entry": "c.sh", "server_entry": "s.sh", "max_players": 2,
	})

	dev.fail(map[string]any{
		"action": "upload_game_chunk", "upload_id": resp["upload_id"], "eof": false,
	}, "upload_id and data are required")
	dev.fail(map[string]any{
		"action": "upload_game_chunk", "data": "QUI=", "eof": false,
	}, "upload_id and data are required")

	dev.ok(map[string]any{
		"action": "upload_game_chunk", "upload_id": resp["upload_id"],
		"data": base64.StdEncoding.EncodeToString([]byte("AB")),
	})
	// An eof-only frame is the legal stream terminator.
	final := dev.ok(map[string]any{
		"action": "upload_game_chunk", "upload_id": resp["upload_id"], "eof": true,
	})
	assert.Equal(t, true, final["finished"])
}

func TestDeleteGameAuthorization(t *testing.T) {
	addr := startServer(t)

	alice := dial(t, addr)
	alice.register("alice", "developer")
	alice.login("alice", "developer")
	gameID := alice.upload("mine", 2, []byte("AB"))

	erin := dial(t, addr)
	erin.register("erin", "developer")
	erin.login("erin", "developer")
	erin.fail(map[string]any{"action": "delete_game", "game_id": gameID},
		"You can only delete your own games")

	alice.ok(map[string]any{"action": "delete_game", "game_id": gameID})
	alice.fail(map[string]any{"action": "get_game_info", "game_id": gameID}, "Game not found")
}

func TestMalformedRequests(t *testing.T) {
	addr := startServer(t)
	cl := dial(t, addr)

	resp := cl.do(map[string]any{"username": "bob"})
	assert.Equal(t, "error", resp["status"])
	assert.Equal(t, "Missing action", resp["message"])

	// A zero-length frame is an empty object, so it also lacks an action.
	_, err := cl.c.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	resp = cl.recv()
	assert.Equal(t, "Missing action", resp["message"])
}

func TestDisconnectAbortsUpload(t *testing.T) {
	addr := startServer(t)

	dev := dial(t, addr)
	dev.register("alice", "developer")
	dev.login("alice", "developer")
	resp := dev.ok(map[string]any{
		"action": "upload_game_init",
		"name":   "half", "version": "1", "description": "d",
		"client_entry": "c.sh", "server_entry": "s.sh", "max_players": 2,
	})
	dev.ok(map[string]any{
		"action":    "upload_game_chunk",
		"upload_id": resp["upload_id"],
		"data":      base64.StdEncoding.EncodeToString([]byte("partial")),
		"eof":       false,
	})
	dev.c.Close()

	observer := dial(t, addr)
	observer.register("bob", "player")
	observer.login("bob", "player")
	assert.Eventually(t, func() bool {
		games := observer.ok(map[string]any{"action": "list_games"})["games"]
		list, ok := games.([]any)
		return ok && len(list) == 0 || games == nil
	}, 3*time.Second, 50*time.Millisecond, "orphaned upload never becomes a game")
}
