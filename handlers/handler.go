/*
Package handlers provides the HTTP handlers of the optional status server.

The Handler struct holds its dependencies explicitly so the endpoints can be
tested against a fake status provider.
*/
package handlers

import (
	"net/http"

	"github.com/Nexora-Open-Source/site-version-jobs/handlers/health"
	"github.com/Nexora-Open-Source/site-version-jobs/middleware"
	"github.com/Nexora-Open-Source/site-version-jobs/monitoring"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// StatusProviderInterface defines the read side of a run tracker
type StatusProviderInterface interface {
	Progress() RunProgress
	EntityState(entityURL string) (types.EntityState, bool)
}

// Handler contains all service dependencies for HTTP handlers
type Handler struct {
	Status StatusProviderInterface
	Logger *logrus.Logger
}

// NewHandler creates a new handler instance with injected dependencies
func NewHandler(status StatusProviderInterface, logger *logrus.Logger) *Handler {
	return &Handler{
		Status: status,
		Logger: logger,
	}
}

// NewRouter wires the status, health and metrics endpoints
func NewRouter(h *Handler, healthHandler *health.Handler) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware)

	router.HandleFunc("/health/live", healthHandler.HandleLivenessCheck).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthHandler.HandleReadinessCheck).Methods(http.MethodGet)
	router.HandleFunc("/status", h.HandleGetRunStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/entity", h.HandleGetEntityStatus).Methods(http.MethodGet)
	monitoring.SetupMetricsEndpoint(router)

	return router
}
