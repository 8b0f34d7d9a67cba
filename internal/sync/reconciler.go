package sync

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/threadline/internal/store"
)

// Checkpoint keys.
const (
	KeySessionsSyncedAt = "sessions_synced_at"
	KeyReconnectedAt    = "reconnected_at"
)

// Reconciler manages sync checkpoints.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(key, value string) error {
	return r.db.SetSyncState(key, value)
}

// GetCheckpoint retrieves a sync checkpoint value. Missing keys return "".
func (r *Reconciler) GetCheckpoint(key string) (string, error) {
	return r.db.GetSyncState(key)
}

// MarkTime stores t as a millisecond checkpoint.
func (r *Reconciler) MarkTime(key string, t time.Time) {
	if err := r.UpdateCheckpoint(key, strconv.FormatInt(t.UnixMilli(), 10)); err != nil {
		r.logger.Warn("failed to update checkpoint", zap.Error(err), zap.String("key", key))
	}
}

// Time reads a checkpoint written by MarkTime; zero when it was never set.
func (r *Reconciler) Time(key string) time.Time {
	v, err := r.GetCheckpoint(key)
	if err != nil || v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
