package jobs

import (
	"strings"

	"github.com/Nexora-Open-Source/site-version-jobs/types"
)

// NormalizeStatus maps a raw remote status to the normalized set.
// Unrecognized values map to JobUnknown.
func NormalizeStatus(raw string) types.JobStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)

	switch key {
	case "in_progress", "inprogress", "running", "queued", "pending", "notstarted", "not_started":
		return types.JobInProgress
	case "completed", "complete", "succeeded", "success", "done":
		return types.JobCompleted
	case "failed", "failure", "error", "aborted", "cancelled", "canceled":
		return types.JobFailed
	case "no_report_found", "noreportfound", "not_found", "notfound", "no_job_found":
		return types.JobNotFound
	default:
		return types.JobUnknown
	}
}
