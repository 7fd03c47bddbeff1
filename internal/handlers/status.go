package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
	"github.com/lun1tunes/InstaChatico/internal/services/scheduler"
)

// StatusHandler reports pipeline health: queue depth, stored comment count,
// and maintenance job state.
type StatusHandler struct {
	comments  interfaces.CommentStorage
	queueMgr  interfaces.QueueManager
	scheduler *scheduler.Service
	startedAt time.Time
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(comments interfaces.CommentStorage, queueMgr interfaces.QueueManager, sched *scheduler.Service, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		comments:  comments,
		queueMgr:  queueMgr,
		scheduler: sched,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status := map[string]interface{}{
		"status":         "ok",
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}

	if stats, err := h.queueMgr.Stats(r.Context()); err == nil {
		status["queue"] = stats
	} else {
		h.logger.Warn().Err(err).Msg("Queue stats unavailable")
		status["queue"] = map[string]interface{}{"error": err.Error()}
	}

	if count, err := h.comments.CountComments(r.Context()); err == nil {
		status["comments"] = count
	}

	if h.scheduler != nil {
		status["maintenance"] = h.scheduler.JobStatuses()
	}

	WriteJSON(w, http.StatusOK, status)
}

// HealthHandler handles GET /health for load balancer probes.
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
