// Package server is the TCP front of the platform: it accepts client
// connections, runs one worker per connection and dispatches framed JSON
// requests into the auth, game and lobby managers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gamedock/platform/internal/auth"
	"github.com/gamedock/platform/internal/config"
	"github.com/gamedock/platform/internal/game"
	"github.com/gamedock/platform/internal/lobby"
	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
	"github.com/gamedock/platform/internal/runtime"
	"github.com/gamedock/platform/internal/store"
)

// Server accepts platform client connections.
type Server struct {
	cfg     config.Platform
	store   *store.Store
	auth    *auth.Manager
	games   *game.Manager
	lobby   *lobby.Manager
	runtime *runtime.Runtime
	subs    *subscriptions

	connSeq  atomic.Uint64
	listener net.Listener
	mu       sync.Mutex
}

// New wires a server over the already-constructed managers.
func New(cfg config.Platform, st *store.Store, am *auth.Manager, gm *game.Manager, lm *lobby.Manager, rt *runtime.Runtime) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		auth:    am,
		games:   gm,
		lobby:   lm,
		runtime: rt,
		subs:    newSubscriptions(),
	}
}

// Addr returns the listening address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from a ready listener. Used by tests with an
// ephemeral port.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	slog.Info("platform server started", "address", ln.Addr())

	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("failed to accept connection", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, c)
		}()
	}

	wg.Wait()
	s.runtime.Shutdown()
	return nil
}

// handleConnection is the per-connection worker: strict FIFO request/response
// until the socket dies or a frame-level protocol error occurs.
func (s *Server) handleConnection(ctx context.Context, raw net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer raw.Close()

	go func() {
		select {
		case <-ctx.Done():
			raw.Close()
		case <-done:
		}
	}()

	c := &conn{
		Conn: raw,
		id:   fmt.Sprintf("%s#%d", raw.RemoteAddr(), s.connSeq.Add(1)),
	}
	slog.Info("new connection", "conn", c.id)
	defer s.teardown(c)

	for {
		msg, err := protocol.ReadMessage(c.Conn)
		if err != nil {
			if protocol.IsClosed(err) {
				slog.Info("connection closed", "conn", c.id)
				return
			}
			// Frame-level protocol error: report and drop the connection,
			// the stream cannot be resynchronized.
			slog.Warn("protocol error", "conn", c.id, "err", err)
			c.send(protocol.ErrorResponse(err.Error()))
			return
		}
		s.handleRequest(c, msg)
	}
}

// teardown runs when the worker exits: implicit logout, orphaned-upload
// cleanup and subscription removal. Room membership is kept so a player can
// reconnect into a running match.
func (s *Server) teardown(c *conn) {
	if sess, ok := s.auth.Session(c.id); ok && sess.Role == model.RoleDeveloper {
		s.games.AbortUploadsFor(sess.Username)
	}
	s.auth.Logout(c.id)
	s.subs.unsubscribe(c)
}
