package handlers

import (
	"fmt"
	"net/http"

	"github.com/Nexora-Open-Source/site-version-jobs/middleware"
	"github.com/sirupsen/logrus"
)

/*
HandleGetRunStatus returns the progress of the current run.

Example:

	GET /status

Response:
  - 200 OK: run id, counts and the summary of the sites finished so far.
*/
func (h *Handler) HandleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	progress := h.Status.Progress()

	h.Logger.WithFields(logrus.Fields{
		"request_id": middleware.RequestID(r),
		"run_id":     progress.RunID,
		"done":       progress.Done,
		"total":      progress.Total,
	}).Debug("Run status requested")

	middleware.RespondJSON(w, http.StatusOK, progress)
}

/*
HandleGetEntityStatus returns the state of one site in the current run.

Query Parameters:
  - url: The site URL.

Example:

	GET /status/entity?url=https://contoso.example.com/sites/hr

Response:
  - 200 OK: Site state.
  - 400 Bad Request: Missing url parameter.
  - 404 Not Found: Site is not part of the run.
*/
func (h *Handler) HandleGetEntityStatus(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestID(r)

	entityURL := r.URL.Query().Get("url")
	if entityURL == "" {
		middleware.RespondBadRequest(w, fmt.Errorf("url parameter is missing"), requestID)
		return
	}

	state, exists := h.Status.EntityState(entityURL)
	if !exists {
		middleware.RespondNotFound(w, fmt.Errorf("site %s is not part of the current run", entityURL), requestID)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"entity":     entityURL,
		"phase":      state.Phase,
	}).Debug("Site status retrieved")

	middleware.RespondJSON(w, http.StatusOK, state)
}
