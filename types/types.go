// Package types contains shared types used across the site version job orchestrator
package types

import (
	"time"
)

// Entity is one managed site
type Entity struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Personal bool   `json:"is_personal_site"` // only consulted by the lister filter
}

// Mode selects which remote job is submitted for an entity
type Mode string

const (
	ModeCleanup Mode = "cleanup" // batch delete versions older than a threshold
	ModeReport  Mode = "report"  // version expiration report
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	return m == ModeCleanup || m == ModeReport
}

// JobRequest holds the parameters for one submission
type JobRequest struct {
	EntityURL         string
	Mode              Mode
	DeleteBeforeDays  int
	ReportDestination string
}

// JobHandle correlates polls with the submission that produced it.
// A handle is bound to exactly one entity and one mode.
type JobHandle struct {
	Value     string `json:"value"`
	EntityURL string `json:"entity_url"`
	Mode      Mode   `json:"mode"`
}

// IsZero reports whether the handle was never issued
func (h JobHandle) IsZero() bool {
	return h.Value == ""
}

// JobStatus is the normalized remote job status
type JobStatus string

const (
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobNotFound   JobStatus = "not_found"
	JobUnknown    JobStatus = "unknown"
)

// Terminal reports whether no further polling is needed
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// RawProgress is what a progress fetch returned before interpretation.
// Counters are nil when the remote service did not report them.
type RawProgress struct {
	Status               string `json:"status"`
	ErrorMessage         string `json:"error_message,omitempty"`
	VersionsProcessed    *int64 `json:"versions_processed,omitempty"`
	VersionsDeleted      *int64 `json:"versions_deleted,omitempty"`
	VersionsFailed       *int64 `json:"versions_failed,omitempty"`
	StorageReleasedBytes *int64 `json:"storage_released_bytes,omitempty"`
}

// OutcomeStatus is the terminal state recorded for an entity
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeAccepted  OutcomeStatus = "accepted" // fire-and-forget submission succeeded
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeTimedOut  OutcomeStatus = "timed_out"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// OutcomeStatuses lists every outcome in export order
var OutcomeStatuses = []OutcomeStatus{
	OutcomeCompleted,
	OutcomeAccepted,
	OutcomeFailed,
	OutcomeTimedOut,
	OutcomeCancelled,
}

// OutcomeRecord is the single per-entity result of a run
type OutcomeRecord struct {
	EntityURL            string        `json:"entity_url"`
	Mode                 Mode          `json:"mode"`
	Status               OutcomeStatus `json:"status"`
	ErrorKind            string        `json:"error_kind,omitempty"`
	Handle               string        `json:"handle,omitempty"`
	LastObserved         JobStatus     `json:"last_observed,omitempty"`
	Polls                int           `json:"polls"`
	VersionsProcessed    *int64        `json:"versions_processed,omitempty"`
	VersionsDeleted      *int64        `json:"versions_deleted,omitempty"`
	VersionsFailed       *int64        `json:"versions_failed,omitempty"`
	StorageReleasedBytes *int64        `json:"storage_released_bytes,omitempty"`
	Detail               string        `json:"detail,omitempty"`
	Timestamp            time.Time     `json:"timestamp"`
}

// RunSummary is derived from a set of OutcomeRecords
type RunSummary struct {
	Total                int                   `json:"total"`
	ByStatus             map[OutcomeStatus]int `json:"by_status"`
	ByErrorKind          map[string]int        `json:"by_error_kind,omitempty"`
	VersionsProcessed    int64                 `json:"versions_processed"`
	VersionsDeleted      int64                 `json:"versions_deleted"`
	VersionsFailed       int64                 `json:"versions_failed"`
	StorageReleasedBytes int64                 `json:"storage_released_bytes"`
}

// FailureRatio is the share of records that neither completed nor were accepted
func (s RunSummary) FailureRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	ok := s.ByStatus[OutcomeCompleted] + s.ByStatus[OutcomeAccepted]
	return float64(s.Total-ok) / float64(s.Total)
}

// TenantSettings are the tenant-wide version policy flags
type TenantSettings struct {
	AutoExpirationEnabled bool `json:"enableAutoExpirationVersionTrim"`
	MajorVersionLimit     int  `json:"majorVersionLimit"`
}

// TenantAction is the tenant-wide change requested before the per-site loop
type TenantAction string

const (
	TenantActionNone                 TenantAction = "none"
	TenantActionEnableAutoExpiration TenantAction = "enable-auto-expiration"
	TenantActionSetVersionLimit      TenantAction = "set-version-limit"
)

// TenantActionOutcome describes what happened to a tenant action
type TenantActionOutcome string

const (
	TenantActionApplied   TenantActionOutcome = "applied"
	TenantActionSkipped   TenantActionOutcome = "skipped"
	TenantActionUnchanged TenantActionOutcome = "unchanged"
)

// TenantActionRecord is the informational result of the tenant pre-flight
type TenantActionRecord struct {
	Action  TenantAction        `json:"action"`
	Outcome TenantActionOutcome `json:"outcome"`
	Kind    string              `json:"kind,omitempty"`
	Detail  string              `json:"detail,omitempty"`
	Before  TenantSettings      `json:"before"`
}

// EntityState is the live view of one entity published while a run is in progress
type EntityState struct {
	EntityURL   string        `json:"entity_url"`
	Mode        Mode          `json:"mode"`
	Phase       string        `json:"phase"`
	Handle      string        `json:"handle,omitempty"`
	LastStatus  JobStatus     `json:"last_status,omitempty"`
	Polls       int           `json:"polls"`
	Outcome     OutcomeStatus `json:"outcome,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
