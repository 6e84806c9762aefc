package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"classroom-api/internal/observability"
)

type ActivityPurger interface {
	PurgeDeleted(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type ThrottlePruner interface {
	Prune(now time.Time) int
}

// CleanupHandler is the cron-invoked endpoint that purges soft-deleted
// activities past retention and drops stale login-throttle state. Guarded by
// a bearer secret; with no secret configured the endpoint does not exist.
type CleanupHandler struct {
	activities ActivityPurger
	throttle   ThrottlePruner
	logger     *observability.Logger
	cronSecret string
	retention  time.Duration
	batchSize  int
}

func NewCleanupHandler(
	activities ActivityPurger,
	throttle ThrottlePruner,
	logger *observability.Logger,
	cronSecret string,
	retention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		activities: activities,
		throttle:   throttle,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.retention)
	purged, err := h.activities.PurgeDeleted(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	prunedIPs := 0
	if h.throttle != nil {
		prunedIPs = h.throttle.Prune(time.Now().UTC())
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"purged_activities": purged,
		"pruned_throttle":   prunedIPs,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"purged_activities": purged,
		"pruned_throttle":   prunedIPs,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
