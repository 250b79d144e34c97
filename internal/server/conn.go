package server

import (
	"net"
	"sync"

	"github.com/gamedock/platform/internal/protocol"
)

// conn wraps one client socket. The write mutex serializes the worker's own
// responses with pushes from room broadcasts; reads stay single-owner on the
// worker goroutine.
type conn struct {
	net.Conn
	id string

	writeMu sync.Mutex
}

// send writes one framed message.
func (c *conn) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.Conn, v)
}

// lockStream takes exclusive write ownership for a multi-frame stream.
// Pushes from other workers queue behind it until unlockStream.
func (c *conn) lockStream()   { c.writeMu.Lock() }
func (c *conn) unlockStream() { c.writeMu.Unlock() }

// sendLocked writes one frame. The caller holds the stream lock.
func (c *conn) sendLocked(v any) error {
	return protocol.WriteMessage(c.Conn, v)
}
