package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// handleDownloadGame streams a game bundle to the player as a sequence of
// download_chunk frames. Ownership is recorded before the first chunk, so a
// mid-stream disconnect still credits the game to the player. The worker owns
// the socket for the whole stream; no other response can interleave.
func (s *Server) handleDownloadGame(c *conn, sess model.Session, raw json.RawMessage) (protocol.Response, error) {
	var req protocol.GameRequest
	if err := protocol.Decode(raw, &req); err != nil {
		return nil, err
	}

	g, err := s.store.GetGame(req.GameID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(g.BundlePath)
	if err != nil {
		slog.Error("bundle missing on disk", "game", g.GameID, "path", g.BundlePath, "err", err)
		return nil, protocol.Errorf(protocol.KindRuntime, "Game bundle is missing")
	}
	defer f.Close()

	if err := s.store.IncrementDownload(sess.Username, req.GameID); err != nil {
		return nil, err
	}
	slog.Info("download started", "game", g.GameID, "player", sess.Username)

	// Room pushes from other workers must not land between chunk frames, so
	// the stream holds the socket's write lock from first chunk to eof.
	c.lockStream()
	defer c.unlockStream()

	buf := make([]byte, protocol.DefaultChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if sendErr := c.sendLocked(protocol.NewDownloadChunk(buf[:n], false)); sendErr != nil {
				// Peer is gone; ownership stays recorded.
				slog.Info("download aborted", "game", g.GameID, "player", sess.Username)
				return nil, nil
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("bundle read failed", "game", g.GameID, "err", err)
			c.sendLocked(protocol.ErrorResponse("Failed to read game bundle"))
			return nil, nil
		}
	}

	c.sendLocked(protocol.NewDownloadChunk(nil, true))
	return nil, nil
}
