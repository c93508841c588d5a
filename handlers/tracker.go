package handlers

import (
	"sync"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/jobs"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/sirupsen/logrus"
)

// Entity phases published by the tracker
const (
	PhasePending   = "pending"
	PhaseStarted   = "started"
	PhaseSubmitted = "submitted"
	PhasePolling   = "polling"
	PhaseDone      = "done"
)

// RunProgress is the live view of a run
type RunProgress struct {
	RunID      string           `json:"run_id,omitempty"`
	Mode       types.Mode       `json:"mode,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Total      int              `json:"total"`
	Done       int              `json:"done"`
	InFlight   int              `json:"in_flight"`
	Summary    types.RunSummary `json:"summary"`
}

// Tracker records per-site state as a run progresses. It implements
// jobs.Observer and backs the status endpoints.
type Tracker struct {
	statusMutex sync.RWMutex
	runID       string
	mode        types.Mode
	startedAt   *time.Time
	finishedAt  *time.Time
	states      map[string]*types.EntityState
	records     []types.OutcomeRecord
	logger      *logrus.Logger
	now         func() time.Time
}

var _ jobs.Observer = (*Tracker)(nil)

// NewTracker creates an empty tracker
func NewTracker(logger *logrus.Logger) *Tracker {
	return &Tracker{
		states: make(map[string]*types.EntityState),
		logger: logger,
		now:    time.Now,
	}
}

// RunStarted resets the tracker and marks every entity pending
func (t *Tracker) RunStarted(runID string, mode types.Mode, entities []types.Entity) {
	t.statusMutex.Lock()
	defer t.statusMutex.Unlock()

	now := t.now()
	t.runID = runID
	t.mode = mode
	t.startedAt = &now
	t.finishedAt = nil
	t.records = make([]types.OutcomeRecord, 0, len(entities))
	t.states = make(map[string]*types.EntityState, len(entities))
	for _, e := range entities {
		t.states[e.URL] = &types.EntityState{
			EntityURL: e.URL,
			Mode:      mode,
			Phase:     PhasePending,
		}
	}

	t.logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"mode":     mode,
		"entities": len(entities),
	}).Debug("Tracking run")
}

// EntityStarted marks an entity as picked up by a worker
func (t *Tracker) EntityStarted(req types.JobRequest) {
	t.update(req.EntityURL, func(s *types.EntityState) {
		now := t.now()
		s.Phase = PhaseStarted
		s.StartedAt = &now
	})
}

// EntitySubmitted records the handle of an accepted submission
func (t *Tracker) EntitySubmitted(req types.JobRequest, handle types.JobHandle) {
	t.update(req.EntityURL, func(s *types.EntityState) {
		s.Phase = PhaseSubmitted
		s.Handle = handle.Value
	})
}

// EntityPolled records the latest normalized status
func (t *Tracker) EntityPolled(req types.JobRequest, status types.JobStatus, polls int) {
	t.update(req.EntityURL, func(s *types.EntityState) {
		s.Phase = PhasePolling
		s.LastStatus = status
		s.Polls = polls
	})
}

// EntityFinished stores the final record of an entity
func (t *Tracker) EntityFinished(rec types.OutcomeRecord) {
	t.statusMutex.Lock()
	t.records = append(t.records, rec)
	t.statusMutex.Unlock()

	t.update(rec.EntityURL, func(s *types.EntityState) {
		now := t.now()
		s.Phase = PhaseDone
		s.Outcome = rec.Status
		s.Error = rec.Detail
		s.Polls = rec.Polls
		if rec.Handle != "" {
			s.Handle = rec.Handle
		}
		if rec.LastObserved != "" {
			s.LastStatus = rec.LastObserved
		}
		s.CompletedAt = &now
	})
}

// RunFinished marks the run as complete
func (t *Tracker) RunFinished() {
	t.statusMutex.Lock()
	defer t.statusMutex.Unlock()

	now := t.now()
	t.finishedAt = &now
}

// Started reports whether a run has been registered
func (t *Tracker) Started() bool {
	t.statusMutex.RLock()
	defer t.statusMutex.RUnlock()
	return t.runID != ""
}

// Progress returns a snapshot of the current run
func (t *Tracker) Progress() RunProgress {
	t.statusMutex.RLock()
	defer t.statusMutex.RUnlock()

	progress := RunProgress{
		RunID:      t.runID,
		Mode:       t.mode,
		StartedAt:  t.startedAt,
		FinishedAt: t.finishedAt,
		Total:      len(t.states),
		Done:       len(t.records),
		Summary:    jobs.Summarize(t.records),
	}
	for _, s := range t.states {
		if s.Phase != PhasePending && s.Phase != PhaseDone {
			progress.InFlight++
		}
	}
	return progress
}

// EntityState returns a copy of the state of one entity
func (t *Tracker) EntityState(entityURL string) (types.EntityState, bool) {
	t.statusMutex.RLock()
	defer t.statusMutex.RUnlock()

	state, exists := t.states[entityURL]
	if !exists {
		return types.EntityState{}, false
	}
	return *state, true
}

func (t *Tracker) update(entityURL string, fn func(*types.EntityState)) {
	t.statusMutex.Lock()
	defer t.statusMutex.Unlock()

	state, exists := t.states[entityURL]
	if !exists {
		state = &types.EntityState{EntityURL: entityURL, Mode: t.mode}
		t.states[entityURL] = state
	}
	fn(state)
}
