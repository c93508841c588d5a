// Package health provides health check handlers for the status server
package health

import (
	"errors"
	"net/http"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/middleware"
	"github.com/sirupsen/logrus"
)

// ReadinessChecker reports whether the process is ready to answer status queries
type ReadinessChecker interface {
	Started() bool
}

// Handler contains dependencies for health handlers
type Handler struct {
	Readiness ReadinessChecker
	Logger    *logrus.Logger
	startTime time.Time
}

// NewHandler creates a new health handler
func NewHandler(readiness ReadinessChecker, logger *logrus.Logger) *Handler {
	return &Handler{
		Readiness: readiness,
		Logger:    logger,
		startTime: time.Now(),
	}
}

// HandleLivenessCheck provides a simple liveness probe
func (h *Handler) HandleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	middleware.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// HandleReadinessCheck reports ready once a run has been registered
func (h *Handler) HandleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.Readiness == nil || !h.Readiness.Started() {
		middleware.RespondServiceUnavailable(w, errors.New("no run has started yet"), middleware.RequestID(r))
		return
	}

	middleware.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
