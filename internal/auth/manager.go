// Package auth handles registration, credential checks and the per-connection
// session table.
package auth

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gamedock/platform/internal/model"
	"github.com/gamedock/platform/internal/protocol"
	"github.com/gamedock/platform/internal/store"
)

// Manager binds connection ids to authenticated identities.
// Thread-safe via sync.Map for read-heavy lookup.
type Manager struct {
	store    *store.Store
	sessions sync.Map // map[string]model.Session
}

// NewManager creates an auth manager over the datastore.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// Register validates the fields and creates the user record.
func (m *Manager) Register(username, password, role string) error {
	username = strings.TrimSpace(username)
	if !model.ValidRole(role) {
		return protocol.Errorf(protocol.KindValidation, "Invalid role")
	}
	if username == "" || password == "" {
		return protocol.Errorf(protocol.KindValidation, "Username and password required")
	}
	return m.store.RegisterUser(username, password, role)
}

// Login checks credentials and binds the connection. A second login on the
// same connection replaces the previous binding for that connection only.
func (m *Manager) Login(connID, username, password, role string) (model.Session, error) {
	username = strings.TrimSpace(username)
	if !m.store.ValidateLogin(username, password, role) {
		return model.Session{}, protocol.Errorf(protocol.KindAuth, "Invalid credentials")
	}

	sess := model.Session{ConnID: connID, Username: username, Role: role}
	m.sessions.Store(connID, sess)
	slog.Info("user logged in", "username", username, "role", role, "conn", connID)
	return sess, nil
}

// Logout drops the binding for the connection. Called explicitly for the
// logout action and implicitly at connection teardown.
func (m *Manager) Logout(connID string) {
	if val, ok := m.sessions.LoadAndDelete(connID); ok {
		sess := val.(model.Session)
		slog.Info("user logged out", "username", sess.Username, "role", sess.Role)
	}
}

// Session returns the binding for a connection, if any.
func (m *Manager) Session(connID string) (model.Session, bool) {
	val, ok := m.sessions.Load(connID)
	if !ok {
		return model.Session{}, false
	}
	return val.(model.Session), true
}

// RequireLogin returns the session or an auth error.
func (m *Manager) RequireLogin(connID string) (model.Session, error) {
	sess, ok := m.Session(connID)
	if !ok {
		return model.Session{}, protocol.Errorf(protocol.KindAuth, "Not logged in")
	}
	return sess, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
