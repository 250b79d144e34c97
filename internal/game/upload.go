package game

import (
	"os"
	"sync"
)

// Upload is the state of one in-flight chunked bundle transfer. It is
// single-writer: the owning connection streams chunks strictly in order.
type Upload struct {
	UploadID    string
	Developer   string
	Name        string
	Version     string
	Description string
	ClientEntry string
	ServerEntry string
	MaxPlayers  int
	GameID      string
	TargetPath  string

	mu       sync.Mutex
	file     *os.File
	finished bool
}

// writeChunk appends one decoded chunk and closes the staging file on EOF.
// Writes after finish are ignored.
func (u *Upload) writeChunk(chunk []byte, eof bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.finished {
		return nil
	}
	if len(chunk) > 0 {
		if _, err := u.file.Write(chunk); err != nil {
			return err
		}
	}
	if eof {
		if err := u.file.Close(); err != nil {
			return err
		}
		u.finished = true
	}
	return nil
}

// abort closes and deletes the staging file of an unfinished upload.
func (u *Upload) abort() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.finished {
		return
	}
	u.file.Close()
	os.Remove(u.TargetPath)
	u.finished = true
}
