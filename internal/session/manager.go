package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/enterchat/internal/securestore"
	"go.uber.org/zap"
)

const keyPrefix = "session/"

// record is the envelope written to secure storage for one app.
type record struct {
	AppID   string          `json:"app_id"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Manager persists opaque per-app session blobs so automation can resume
// without logging in again.
type Manager struct {
	store  securestore.Store
	logger *zap.Logger
}

// NewManager creates a session manager over store.
func NewManager(store securestore.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// SaveSession serializes data and replaces any prior session for appID.
func (m *Manager) SaveSession(appID string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", appID, err)
	}
	rec, err := json.Marshal(record{AppID: appID, SavedAt: time.Now().UTC(), Data: raw})
	if err != nil {
		return fmt.Errorf("encode session %s: %w", appID, err)
	}
	if err := m.store.Write(keyPrefix+appID, string(rec)); err != nil {
		return fmt.Errorf("write session %s: %w", appID, err)
	}
	return nil
}

// GetSession returns the raw session data for appID, or nil when it is
// missing or unreadable.
func (m *Manager) GetSession(appID string) json.RawMessage {
	raw, err := m.store.Read(keyPrefix + appID)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Warn("session read failed", zap.String("app", appID), zap.Error(err))
		return nil
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || len(rec.Data) == 0 {
		m.logger.Warn("discarding corrupt session", zap.String("app", appID), zap.Error(err))
		return nil
	}
	return rec.Data
}

// LoadSession decodes the session for appID into v. It reports false when
// there is no usable session.
func (m *Manager) LoadSession(appID string, v any) bool {
	raw := m.GetSession(appID)
	if raw == nil {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		m.logger.Warn("discarding corrupt session", zap.String("app", appID), zap.Error(err))
		return false
	}
	return true
}

// ClearSession deletes the session for appID.
func (m *Manager) ClearSession(appID string) error {
	if err := m.store.Delete(keyPrefix + appID); err != nil {
		return fmt.Errorf("clear session %s: %w", appID, err)
	}
	return nil
}

// ClearAllSessions deletes every stored session.
func (m *Manager) ClearAllSessions() error {
	ids, err := m.GetActiveSessions()
	if err != nil {
		return err
	}
	var errs []error
	for _, id := range ids {
		errs = append(errs, m.ClearSession(id))
	}
	return errors.Join(errs...)
}

// GetActiveSessions lists the app ids that currently have a stored session.
func (m *Manager) GetActiveSessions() ([]string, error) {
	all, err := m.store.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for key := range all {
		if id, ok := strings.CutPrefix(key, keyPrefix); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
