// Package runtime spawns and tracks the per-room game-server subprocesses.
//
// A child is launched from a fresh extraction of the game bundle, tracked
// under its room id, and owns its temp directory: every exit path (stop,
// close, shutdown, failed start) removes it.
package runtime

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
)

// Options configures the runtime.
type Options struct {
	// Interpreter runs the server entry, e.g. "python3".
	Interpreter string
	// ScriptSuffix is used by the server-entry filename heuristic, e.g. ".py".
	ScriptSuffix string
	// TempRoot is where bundles are extracted; one directory per start.
	TempRoot string
	// ReadyWindow is how long a child gets to come up before we look at it.
	ReadyWindow time.Duration
	// StopGrace is how long a terminated child gets before SIGKILL.
	StopGrace time.Duration
}

// child is one running game-server subprocess.
type child struct {
	roomID string
	cmd    *exec.Cmd
	dir    string
	stderr *bytes.Buffer
	done   chan struct{}
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Runtime tracks running children keyed by room id.
type Runtime struct {
	opts Options

	mu       sync.Mutex
	children map[string]*child
}

// New creates a runtime and its temp root.
func New(opts Options) (*Runtime, error) {
	if err := os.MkdirAll(opts.TempRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp root: %w", err)
	}
	return &Runtime{opts: opts, children: make(map[string]*child)}, nil
}

// Start extracts the bundle, locates the server entry and spawns
//
//	<interpreter> <entry> --host 0.0.0.0 --port <port> --players <players>
//
// with the entry's directory as working directory. A child that exits within
// the readiness window is a start failure; its stderr is surfaced.
func (r *Runtime) Start(roomID string, game model.Game, port, players int) error {
	r.mu.Lock()
	if c, ok := r.children[roomID]; ok {
		if !c.exited() {
			r.mu.Unlock()
			return protocol.Errorf(protocol.KindConflict, "Game server already running for this room")
		}
		// Reap the stale entry before relaunching.
		delete(r.children, roomID)
		os.RemoveAll(c.dir)
	}
	r.mu.Unlock()

	if _, err := os.Stat(game.BundlePath); err != nil {
		return protocol.Errorf(protocol.KindRuntime, "Game bundle is missing")
	}

	dir, err := os.MkdirTemp(r.opts.TempRoot, roomID+"-")
	if err != nil {
		return fmt.Errorf("creating extraction dir: %w", err)
	}

	if err := extract(game.BundlePath, dir); err != nil {
		os.RemoveAll(dir)
		slog.Error("bundle extraction failed", "room", roomID, "game", game.GameID, "err", err)
		return protocol.Errorf(protocol.KindRuntime, "Failed to extract game bundle")
	}

	entry, err := r.findServerEntry(dir, game.ServerEntry)
	if err != nil {
		os.RemoveAll(dir)
		return err
	}

	c := &child{
		roomID: roomID,
		dir:    dir,
		stderr: &bytes.Buffer{},
		done:   make(chan struct{}),
	}
	cmd := exec.Command(r.opts.Interpreter, entry,
		"--host", "0.0.0.0",
		"--port", strconv.Itoa(port),
		"--players", strconv.Itoa(players),
	)
	cmd.Dir = filepath.Dir(entry)
	cmd.Stdout = nil // discard; the child must not inherit our terminal
	cmd.Stderr = c.stderr
	c.cmd = cmd

	slog.Info("launching game server", "room", roomID, "entry", entry, "port", port, "players", players)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		slog.Error("game server spawn failed", "room", roomID, "err", err)
		return protocol.Errorf(protocol.KindRuntime, "Failed to launch game server")
	}

	go func() {
		cmd.Wait()
		close(c.done)
	}()

	// Readiness window: a child that dies this fast never bound the port.
	select {
	case <-c.done:
		msg := strings.TrimSpace(c.stderr.String())
		os.RemoveAll(dir)
		slog.Error("game server exited during startup", "room", roomID, "stderr", msg)
		if msg == "" {
			return protocol.Errorf(protocol.KindRuntime, "Game server exited during startup")
		}
		return protocol.Errorf(protocol.KindRuntime, "Game server exited during startup: %s", msg)
	case <-time.After(r.opts.ReadyWindow):
	}

	r.mu.Lock()
	r.children[roomID] = c
	r.mu.Unlock()
	return nil
}

// findServerEntry resolves the server entry inside the extraction dir: the
// explicit path when the game declares one, else the first extracted file
// whose name contains "server" and carries the script suffix.
func (r *Runtime) findServerEntry(dir, declared string) (string, error) {
	if declared != "" {
		entry := filepath.Join(dir, filepath.FromSlash(declared))
		if _, err := os.Stat(entry); err != nil {
			return "", protocol.Errorf(protocol.KindRuntime, "Server entry %s not found in bundle", declared)
		}
		return entry, nil
	}

	var found string
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return err
		}
		name := strings.ToLower(d.Name())
		if strings.Contains(name, "server") && strings.HasSuffix(name, r.opts.ScriptSuffix) {
			found = path
		}
		return nil
	})
	if found == "" {
		return "", protocol.Errorf(protocol.KindRuntime, "No server entry found in bundle")
	}
	return found, nil
}

// Running reports whether a live child exists for the room. An exited child
// found here is reaped opportunistically.
func (r *Runtime) Running(roomID string) bool {
	r.mu.Lock()
	c, ok := r.children[roomID]
	if ok && c.exited() {
		delete(r.children, roomID)
		r.mu.Unlock()
		os.RemoveAll(c.dir)
		slog.Info("game server reaped", "room", roomID)
		return false
	}
	r.mu.Unlock()
	return ok
}

// Stop terminates the child for the room: SIGTERM, a grace period, then
// SIGKILL. The temp directory is always removed. Stopping an untracked room
// is a no-op.
func (r *Runtime) Stop(roomID string) {
	r.mu.Lock()
	c, ok := r.children[roomID]
	delete(r.children, roomID)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.stop(c)
}

func (r *Runtime) stop(c *child) {
	defer os.RemoveAll(c.dir)

	if c.exited() {
		return
	}

	c.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-c.done:
	case <-time.After(r.opts.StopGrace):
		c.cmd.Process.Kill()
		<-c.done
	}
	slog.Info("game server stopped", "room", c.roomID)
}

// Shutdown terminates every tracked child and removes all temp directories.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	children := make([]*child, 0, len(r.children))
	for _, c := range r.children {
		children = append(children, c)
	}
	r.children = make(map[string]*child)
	r.mu.Unlock()

	for _, c := range children {
		r.stop(c)
	}
}
