package jobs

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an entity did not complete
type ErrorKind string

const (
	KindSubmission ErrorKind = "SubmissionError"
	KindRemote     ErrorKind = "RemoteFailure"
	KindJobFailed  ErrorKind = "JobFailed"
	KindTimeout    ErrorKind = "PollTimeout"
	KindCancelled  ErrorKind = "Cancelled"
	KindLocal      ErrorKind = "LocalError"

	// KindConfigurationSkipped is informational: a planned tenant action was
	// intentionally not performed.
	KindConfigurationSkipped ErrorKind = "ConfigurationSkipped"
)

// Description returns a short human readable explanation of the kind
func (k ErrorKind) Description() string {
	switch k {
	case KindSubmission:
		return "The job submission was rejected or the site was unreachable"
	case KindRemote:
		return "Reading job progress from the site failed"
	case KindJobFailed:
		return "The remote job reported failure"
	case KindTimeout:
		return "No terminal status was observed before the deadline"
	case KindCancelled:
		return "The run was cancelled before the job finished"
	case KindLocal:
		return "A local error occurred while processing the site"
	case KindConfigurationSkipped:
		return "A planned configuration change was skipped"
	default:
		return "An unknown error occurred"
	}
}

// JobError is a classified per-entity failure
type JobError struct {
	Kind      ErrorKind
	EntityURL string
	Detail    string
	Err       error
}

func (e *JobError) Error() string {
	msg := fmt.Sprintf("%s for %s", e.Kind, e.EntityURL)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *JobError) Unwrap() error {
	return e.Err
}

func newJobError(kind ErrorKind, entityURL, detail string, err error) *JobError {
	if detail == "" && err != nil {
		detail = err.Error()
	}
	return &JobError{Kind: kind, EntityURL: entityURL, Detail: detail, Err: err}
}

// ErrHandleReused is returned when a handle value is seen twice in one run
var ErrHandleReused = errors.New("job handle already used in this run")

// ErrHandleMismatch is returned when a handle is bound to a different entity or mode
var ErrHandleMismatch = errors.New("job handle does not belong to this request")
