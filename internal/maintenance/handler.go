package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"user-portal/internal/auth"
	"user-portal/internal/observability"
)

// LockStore clears persisted account locks older than a cutoff.
type LockStore interface {
	UnlockStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupHandler reconciles lockout state on a schedule: it prunes expired
// attempt-guard records and clears stored locked flags the guard has long
// forgotten about. Exposed behind a shared cron secret.
type CleanupHandler struct {
	guard         *auth.AttemptGuard
	store         LockStore
	logger        *observability.Logger
	cronSecret    string
	lockRetention time.Duration
}

func NewCleanupHandler(
	guard *auth.AttemptGuard,
	store LockStore,
	logger *observability.Logger,
	cronSecret string,
	lockRetention time.Duration,
) *CleanupHandler {
	if lockRetention <= 0 {
		lockRetention = 24 * time.Hour
	}

	return &CleanupHandler{
		guard:         guard,
		store:         store,
		logger:        logger,
		cronSecret:    strings.TrimSpace(cronSecret),
		lockRetention: lockRetention,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	prunedRecords := h.guard.Prune()

	cutoff := time.Now().UTC().Add(-h.lockRetention)
	unlockedUsers, err := h.store.UnlockStale(r.Context(), cutoff)
	if err != nil {
		h.logger.Error("lockout_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("lockout_cleanup_completed", map[string]any{
		"pruned_attempt_records": prunedRecords,
		"unlocked_users":         unlockedUsers,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "ok",
		"pruned_attempt_records": prunedRecords,
		"unlocked_users":         unlockedUsers,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
