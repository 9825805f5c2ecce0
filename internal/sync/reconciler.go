package sync

import (
	"time"

	"github.com/matheus3301/enterchat/internal/store"
	"go.uber.org/zap"
)

const lastSyncPrefix = "last_sync/"

// Reconciler manages per-app sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logger}
}

// RecordSync stores the time appID last synced successfully.
func (r *Reconciler) RecordSync(appID string, at time.Time) error {
	return r.db.SetSyncState(lastSyncPrefix+appID, at.UTC().Format(time.RFC3339Nano))
}

// LastSync returns when appID last synced successfully, or the zero time.
func (r *Reconciler) LastSync(appID string) (time.Time, error) {
	v, err := r.db.GetSyncState(lastSyncPrefix + appID)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		r.logger.Warn("discarding unreadable checkpoint", zap.String("app", appID), zap.Error(err))
		return time.Time{}, nil
	}
	return t, nil
}
