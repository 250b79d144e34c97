package game

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
	"github.com/gamedock/platform/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, st.RegisterUser("alice", "pw", model.RoleDeveloper))

	m, err := NewManager(st, t.TempDir(), 10002)
	require.NoError(t, err)
	return m, st
}

func initRequest() protocol.UploadInitRequest {
	return protocol.UploadInitRequest{
		Name:        "g",
		Version:     "1",
		Description: "d",
		ClientEntry: "c.py",
		ServerEntry: "s.py",
		MaxPlayers:  2,
	}
}

func TestStartUpload_Validation(t *testing.T) {
	m, _ := newTestManager(t)

	req := initRequest()
	req.Name = "  "
	_, _, err := m.StartUpload("alice", req)
	require.Error(t, err)
	assert.Equal(t, protocol.KindValidation, protocol.KindOf(err))

	req = initRequest()
	req.MaxPlayers = 1
	_, _, err = m.StartUpload("alice", req)
	require.Error(t, err)

	req.MaxPlayers = 9
	_, _, err = m.StartUpload("alice", req)
	require.Error(t, err)
}

func TestUpload_RoundTrip(t *testing.T) {
	m, st := newTestManager(t)

	up, chunkSize, err := m.StartUpload("alice", initRequest())
	require.NoError(t, err)
	assert.Equal(t, protocol.DefaultChunkSize, chunkSize)
	assert.Equal(t, 1, m.ActiveUploads())

	content := bytes.Repeat([]byte("the quick brown fox "), 700) // spans multiple chunks
	for i := 0; i < len(content); i += chunkSize {
		end := min(i+chunkSize, len(content))
		require.NoError(t, m.WriteChunk(up.UploadID, content[i:end], false))
	}
	require.NoError(t, m.WriteChunk(up.UploadID, nil, true))
	assert.Equal(t, 0, m.ActiveUploads())

	games := st.ListGames()
	require.Len(t, games, 1)
	g := games[0]
	assert.Equal(t, "alice", g.Developer)
	assert.Equal(t, up.TargetPath, g.BundlePath)

	got, err := os.ReadFile(g.BundlePath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	u, ok := st.GetUser("alice")
	require.True(t, ok)
	assert.Equal(t, []string{g.GameID}, u.UploadedGames)
}

func TestUpload_TinyBundleScenario(t *testing.T) {
	m, st := newTestManager(t)

	up, _, err := m.StartUpload("alice", initRequest())
	require.NoError(t, err)
	require.NoError(t, m.WriteChunk(up.UploadID, []byte("AB"), true))

	games := st.ListGames()
	require.Len(t, games, 1)
	got, err := os.ReadFile(games[0].BundlePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("AB"), got)
	assert.Equal(t, 0, games[0].Downloads)
	assert.Empty(t, games[0].Reviews)
}

func TestWriteChunk_UnknownUpload(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.WriteChunk("nope", []byte("x"), false)
	require.Error(t, err)
	assert.Equal(t, protocol.KindNotFound, protocol.KindOf(err))
	assert.Equal(t, "Invalid upload_id", err.Error())
}

func TestUpload_UpdateExistingGame(t *testing.T) {
	m, st := newTestManager(t)

	up, _, err := m.StartUpload("alice", initRequest())
	require.NoError(t, err)
	require.NoError(t, m.WriteChunk(up.UploadID, []byte("v1"), true))
	gameID := st.ListGames()[0].GameID

	req := initRequest()
	req.Version = "2"
	req.GameID = gameID
	up2, _, err := m.StartUpload("alice", req)
	require.NoError(t, err)
	require.NoError(t, m.WriteChunk(up2.UploadID, []byte("v2"), true))

	games := st.ListGames()
	require.Len(t, games, 1, "update keeps a single record")
	assert.Equal(t, "2", games[0].Version)
	got, err := os.ReadFile(games[0].BundlePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestAbortUploadsFor(t *testing.T) {
	m, st := newTestManager(t)

	up, _, err := m.StartUpload("alice", initRequest())
	require.NoError(t, err)
	require.NoError(t, m.WriteChunk(up.UploadID, []byte("half"), false))

	m.AbortUploadsFor("alice")
	assert.Equal(t, 0, m.ActiveUploads())

	_, err = os.Stat(up.TargetPath)
	assert.True(t, os.IsNotExist(err), "staging file removed")
	assert.Empty(t, st.ListGames(), "aborted upload never becomes a game")

	err = m.WriteChunk(up.UploadID, []byte("late"), true)
	require.Error(t, err)
}

func TestAllocatePort_StrictlyIncreasing(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Equal(t, 10002, m.AllocatePort())
	assert.Equal(t, 10003, m.AllocatePort())

	var mu sync.Mutex
	seen := make(map[int]bool)
	var wg sync.WaitGroup
	for n := 0; n < 50; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := m.AllocatePort()
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[p], "port %d handed out twice", p)
			seen[p] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}
