/*
Package jobs implements the per-site asynchronous job orchestration.

A Runner drives one site from submission to a terminal outcome. Cleanup jobs are
fire-and-forget unless configured to wait; report jobs are always polled until the
remote service reports a terminal status or the per-site deadline passes. The
Orchestrator runs the Runner over every site and guarantees exactly one
OutcomeRecord per site, and Summarize aggregates the records for export.
*/
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/monitoring"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// JobClient is the remote job API of a single site
type JobClient interface {
	SubmitCleanupJob(ctx context.Context, entityURL string, thresholdDays int) (types.JobHandle, error)
	SubmitReportJob(ctx context.Context, entityURL, destination string) (types.JobHandle, error)
	FetchProgress(ctx context.Context, entityURL string, handle types.JobHandle) (types.RawProgress, error)
}

// RunnerConfig holds the polling schedule
type RunnerConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	// PollRetries is how many times a failed progress fetch is retried before
	// the site is recorded as RemoteFailure. Zero fails on the first error.
	PollRetries    int
	PollRetryDelay time.Duration
	// CleanupWait polls cleanup jobs too instead of treating submission as terminal.
	CleanupWait bool
}

// Outcome is the result of running one site: the record, plus the classified
// error when the site did not complete.
type Outcome struct {
	Record types.OutcomeRecord
	Err    *JobError
}

// Runner drives a single job through Submitted -> Polling -> terminal
type Runner struct {
	client   JobClient
	config   RunnerConfig
	clock    Clock
	logger   *logrus.Logger
	observer Observer
	handles  *HandleRegistry
}

// NewRunner creates a runner using the wall clock
func NewRunner(client JobClient, config RunnerConfig, logger *logrus.Logger) *Runner {
	return &Runner{
		client:   client,
		config:   config,
		clock:    RealClock(),
		logger:   logger,
		observer: NopObserver{},
	}
}

// WithClock returns a copy of the runner that reads time from clock
func (r *Runner) WithClock(clock Clock) *Runner {
	cp := *r
	cp.clock = clock
	return &cp
}

// WithObserver returns a copy of the runner that reports progress to observer
func (r *Runner) WithObserver(observer Observer) *Runner {
	cp := *r
	if observer == nil {
		observer = NopObserver{}
	}
	cp.observer = observer
	return &cp
}

func (r *Runner) withRegistry(handles *HandleRegistry) *Runner {
	cp := *r
	cp.handles = handles
	return &cp
}

// RequiresPolling reports whether a request is submit-then-poll
func (r *Runner) RequiresPolling(req types.JobRequest) bool {
	return req.Mode == types.ModeReport || r.config.CleanupWait
}

// Run submits the job for req and, for polled variants, waits for a terminal state.
// It never returns without a record.
func (r *Runner) Run(ctx context.Context, req types.JobRequest) Outcome {
	start := r.clock.Now()
	rec := types.OutcomeRecord{EntityURL: req.EntityURL, Mode: req.Mode}
	log := r.logger.WithFields(logrus.Fields{
		"entity": req.EntityURL,
		"mode":   req.Mode,
	})

	if err := ctx.Err(); err != nil {
		return r.fail(rec, start, newJobError(KindCancelled, req.EntityURL, "cancelled before submission", err))
	}

	handle, err := r.submit(ctx, req)
	if err != nil {
		monitoring.RecordSubmission(string(req.Mode), "failed")
		if ctx.Err() != nil {
			return r.fail(rec, start, newJobError(KindCancelled, req.EntityURL, "cancelled during submission", err))
		}
		return r.fail(rec, start, newJobError(KindSubmission, req.EntityURL, "", err))
	}
	monitoring.RecordSubmission(string(req.Mode), "accepted")

	if err := r.checkHandle(req, handle); err != nil {
		return r.fail(rec, start, newJobError(KindLocal, req.EntityURL, "", err))
	}
	rec.Handle = handle.Value
	r.observer.EntitySubmitted(req, handle)

	log.WithField("handle", handle.Value).Info("Job submitted")

	if !r.RequiresPolling(req) {
		rec.Status = types.OutcomeAccepted
		return r.finish(rec, start, nil)
	}
	return r.poll(ctx, req, handle, rec, start)
}

func (r *Runner) submit(ctx context.Context, req types.JobRequest) (types.JobHandle, error) {
	switch req.Mode {
	case types.ModeCleanup:
		return r.client.SubmitCleanupJob(ctx, req.EntityURL, req.DeleteBeforeDays)
	case types.ModeReport:
		return r.client.SubmitReportJob(ctx, req.EntityURL, req.ReportDestination)
	default:
		return types.JobHandle{}, fmt.Errorf("unsupported job mode %q", req.Mode)
	}
}

func (r *Runner) checkHandle(req types.JobRequest, handle types.JobHandle) error {
	if handle.IsZero() {
		return errors.New("submission returned an empty job handle")
	}
	if handle.EntityURL != req.EntityURL || handle.Mode != req.Mode {
		return fmt.Errorf("%w: handle %q is bound to %s/%s", ErrHandleMismatch, handle.Value, handle.EntityURL, handle.Mode)
	}
	if r.handles != nil {
		return r.handles.Register(handle)
	}
	return nil
}

// poll waits a fixed interval between progress fetches until a terminal status
// is observed or the deadline, measured from submission, has passed.
func (r *Runner) poll(ctx context.Context, req types.JobRequest, handle types.JobHandle, rec types.OutcomeRecord, start time.Time) Outcome {
	deadline := r.clock.Now().Add(r.config.MaxWait)
	log := r.logger.WithFields(logrus.Fields{
		"entity": req.EntityURL,
		"mode":   req.Mode,
		"handle": handle.Value,
	})

	for {
		select {
		case <-ctx.Done():
			return r.fail(rec, start, newJobError(KindCancelled, req.EntityURL, lastObserved(rec), ctx.Err()))
		case <-r.clock.After(r.config.PollInterval):
		}

		progress, err := r.fetch(ctx, req, handle)
		rec.Polls++
		if err != nil {
			monitoring.RecordPoll(string(req.Mode), "error")
			if ctx.Err() != nil {
				return r.fail(rec, start, newJobError(KindCancelled, req.EntityURL, lastObserved(rec), err))
			}
			return r.fail(rec, start, newJobError(KindRemote, req.EntityURL, "", err))
		}

		status := NormalizeStatus(progress.Status)
		rec.LastObserved = status
		applyCounters(&rec, progress)
		monitoring.RecordPoll(string(req.Mode), string(status))
		r.observer.EntityPolled(req, status, rec.Polls)

		log.WithFields(logrus.Fields{
			"raw_status": progress.Status,
			"status":     status,
			"poll":       rec.Polls,
		}).Debug("Job progress fetched")

		switch status {
		case types.JobCompleted:
			rec.Status = types.OutcomeCompleted
			return r.finish(rec, start, nil)
		case types.JobFailed:
			detail := progress.ErrorMessage
			if detail == "" {
				detail = "remote job reported failure"
			}
			return r.fail(rec, start, newJobError(KindJobFailed, req.EntityURL, detail, nil))
		case types.JobInProgress, types.JobNotFound, types.JobUnknown:
			if !r.clock.Now().Before(deadline) {
				return r.fail(rec, start, newJobError(KindTimeout, req.EntityURL, string(status), nil))
			}
		}
	}
}

// fetch reads progress once, or with bounded retries when PollRetries > 0
func (r *Runner) fetch(ctx context.Context, req types.JobRequest, handle types.JobHandle) (types.RawProgress, error) {
	if r.config.PollRetries <= 0 {
		return r.client.FetchProgress(ctx, req.EntityURL, handle)
	}

	var progress types.RawProgress
	attempt := 0
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.config.PollRetryDelay), uint64(r.config.PollRetries)),
		ctx,
	)
	err := backoff.Retry(func() error {
		attempt++
		p, err := r.client.FetchProgress(ctx, req.EntityURL, handle)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			r.logger.WithFields(logrus.Fields{
				"entity":  req.EntityURL,
				"handle":  handle.Value,
				"attempt": attempt,
				"error":   err.Error(),
			}).Warn("Progress fetch failed, retrying")
			return err
		}
		progress = p
		return nil
	}, bo)
	return progress, err
}

func (r *Runner) finish(rec types.OutcomeRecord, start time.Time, jobErr *JobError) Outcome {
	now := r.clock.Now()
	rec.Timestamp = now.UTC()
	if jobErr != nil {
		rec.ErrorKind = string(jobErr.Kind)
		rec.Detail = jobErr.Detail
	}

	monitoring.RecordOutcome(string(rec.Mode), string(rec.Status), now.Sub(start).Seconds())
	if rec.StorageReleasedBytes != nil {
		monitoring.RecordStorageReleased(string(rec.Mode), *rec.StorageReleasedBytes)
	}

	fields := logrus.Fields{
		"entity": rec.EntityURL,
		"mode":   rec.Mode,
		"status": rec.Status,
		"handle": rec.Handle,
		"polls":  rec.Polls,
	}
	if jobErr != nil {
		fields["error_kind"] = jobErr.Kind
		fields["detail"] = jobErr.Detail
		r.logger.WithFields(fields).Warn("Job did not complete")
	} else {
		r.logger.WithFields(fields).Info("Job finished")
	}

	return Outcome{Record: rec, Err: jobErr}
}

func (r *Runner) fail(rec types.OutcomeRecord, start time.Time, jobErr *JobError) Outcome {
	switch jobErr.Kind {
	case KindTimeout:
		rec.Status = types.OutcomeTimedOut
	case KindCancelled:
		rec.Status = types.OutcomeCancelled
	default:
		rec.Status = types.OutcomeFailed
	}
	return r.finish(rec, start, jobErr)
}

func applyCounters(rec *types.OutcomeRecord, p types.RawProgress) {
	if p.VersionsProcessed != nil {
		rec.VersionsProcessed = p.VersionsProcessed
	}
	if p.VersionsDeleted != nil {
		rec.VersionsDeleted = p.VersionsDeleted
	}
	if p.VersionsFailed != nil {
		rec.VersionsFailed = p.VersionsFailed
	}
	if p.StorageReleasedBytes != nil {
		rec.StorageReleasedBytes = p.StorageReleasedBytes
	}
}

func lastObserved(rec types.OutcomeRecord) string {
	if rec.LastObserved == "" {
		return "cancelled before first poll"
	}
	return string(rec.LastObserved)
}
