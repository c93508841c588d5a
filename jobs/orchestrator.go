package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/monitoring"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Observer receives progress notifications while a run is in flight.
// EntityFinished is only ever called from the single collector goroutine.
type Observer interface {
	RunStarted(runID string, mode types.Mode, entities []types.Entity)
	EntityStarted(req types.JobRequest)
	EntitySubmitted(req types.JobRequest, handle types.JobHandle)
	EntityPolled(req types.JobRequest, status types.JobStatus, polls int)
	EntityFinished(rec types.OutcomeRecord)
}

// NopObserver ignores all notifications
type NopObserver struct{}

func (NopObserver) RunStarted(string, types.Mode, []types.Entity) {}
func (NopObserver) EntityStarted(types.JobRequest) {}
func (NopObserver) EntitySubmitted(types.JobRequest, types.JobHandle) {}
func (NopObserver) EntityPolled(types.JobRequest, types.JobStatus, int) {}
func (NopObserver) EntityFinished(types.OutcomeRecord) {}

// HandleRegistry remembers every handle issued during a run
type HandleRegistry struct {
	mu   sync.Mutex
	seen map[string]types.JobHandle
}

// NewHandleRegistry creates an empty registry
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{seen: make(map[string]types.JobHandle)}
}

// Register records handle, failing if its value was already issued
func (hr *HandleRegistry) Register(handle types.JobHandle) error {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	if prev, exists := hr.seen[handle.Value]; exists {
		return fmt.Errorf("%w: %q first issued for %s/%s", ErrHandleReused, handle.Value, prev.EntityURL, prev.Mode)
	}
	hr.seen[handle.Value] = handle
	return nil
}

// Lookup returns the handle issued for entityURL in mode, if any
func (hr *HandleRegistry) Lookup(entityURL string, mode types.Mode) (types.JobHandle, bool) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	for _, handle := range hr.seen {
		if handle.EntityURL == entityURL && handle.Mode == mode {
			return handle, true
		}
	}
	return types.JobHandle{}, false
}

// Plan describes the job submitted to every entity of a run
type Plan struct {
	Mode             types.Mode
	DeleteBeforeDays int
	// Destination builds the report location for an entity. Required for report mode.
	Destination func(types.Entity) string
}

// Request builds the job request for one entity
func (p Plan) Request(e types.Entity) types.JobRequest {
	req := types.JobRequest{
		EntityURL: e.URL,
		Mode:      p.Mode,
	}
	switch p.Mode {
	case types.ModeCleanup:
		req.DeleteBeforeDays = p.DeleteBeforeDays
	case types.ModeReport:
		if p.Destination != nil {
			req.ReportDestination = p.Destination(e)
		}
	}
	return req
}

// RunResult is everything a run produced
type RunResult struct {
	RunID      string
	Mode       types.Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []types.OutcomeRecord
	Tenant     *types.TenantActionRecord
}

// Orchestrator runs one job per entity and collects exactly one record each
type Orchestrator struct {
	runner   *Runner
	workers  int
	logger   *logrus.Logger
	observer Observer
}

// NewOrchestrator creates an orchestrator. workers <= 1 processes entities sequentially.
func NewOrchestrator(runner *Runner, workers int, logger *logrus.Logger, observer Observer) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Orchestrator{
		runner:   runner.WithObserver(observer),
		workers:  workers,
		logger:   logger,
		observer: observer,
	}
}

type indexedOutcome struct {
	index   int
	outcome Outcome
}

// Run processes every entity in input order and returns one record per entity,
// in input order. Per-entity failures never abort the run.
func (o *Orchestrator) Run(ctx context.Context, entities []types.Entity, plan Plan) RunResult {
	result := RunResult{
		RunID:     uuid.New().String(),
		Mode:      plan.Mode,
		StartedAt: o.runner.clock.Now().UTC(),
	}
	runner := o.runner.withRegistry(NewHandleRegistry())

	o.observer.RunStarted(result.RunID, plan.Mode, entities)
	o.logger.WithFields(logrus.Fields{
		"run_id":   result.RunID,
		"mode":     plan.Mode,
		"entities": len(entities),
		"workers":  o.workers,
	}).Info("Run started")

	if o.workers == 1 || len(entities) <= 1 {
		result.Records = o.runSequential(ctx, runner, entities, plan)
	} else {
		result.Records = o.runParallel(ctx, runner, entities, plan)
	}

	result.FinishedAt = o.runner.clock.Now().UTC()
	o.logger.WithFields(logrus.Fields{
		"run_id":      result.RunID,
		"records":     len(result.Records),
		"duration_ms": result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	}).Info("Run finished")

	return result
}

func (o *Orchestrator) runSequential(ctx context.Context, runner *Runner, entities []types.Entity, plan Plan) []types.OutcomeRecord {
	monitoring.UpdateActiveWorkers(1)
	defer monitoring.UpdateActiveWorkers(0)

	records := make([]types.OutcomeRecord, 0, len(entities))
	for _, entity := range entities {
		outcome := o.process(ctx, runner, entity, plan)
		records = append(records, outcome.Record)
		o.observer.EntityFinished(outcome.Record)
	}
	return records
}

// runParallel fans entities out to a bounded worker pool. Workers never touch
// the accumulator; results are written by this goroutine only.
func (o *Orchestrator) runParallel(ctx context.Context, runner *Runner, entities []types.Entity, plan Plan) []types.OutcomeRecord {
	work := make(chan int)
	results := make(chan indexedOutcome, o.workers)
	var wg sync.WaitGroup

	monitoring.UpdateActiveWorkers(o.workers)
	defer monitoring.UpdateActiveWorkers(0)

	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			o.logger.WithField("worker_id", workerID).Debug("Worker started")
			for i := range work {
				results <- indexedOutcome{index: i, outcome: o.process(ctx, runner, entities[i], plan)}
			}
		}(w)
	}

	go func() {
		for i := range entities {
			work <- i
		}
		close(work)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	records := make([]types.OutcomeRecord, len(entities))
	for res := range results {
		records[res.index] = res.outcome.Record
		o.observer.EntityFinished(res.outcome.Record)
	}
	return records
}

// process runs one entity. A panic anywhere below is converted into a
// LocalError record so the entity still yields exactly one outcome.
func (o *Orchestrator) process(ctx context.Context, runner *Runner, entity types.Entity, plan Plan) (outcome Outcome) {
	ctx, span := monitoring.CreateSpan(ctx, "site.job")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"site.url": entity.URL,
		"job.mode": plan.Mode,
	})

	defer func() {
		if rec := recover(); rec != nil {
			o.logger.WithFields(logrus.Fields{
				"entity": entity.URL,
				"panic":  fmt.Sprint(rec),
				"stack":  string(debug.Stack()),
			}).Error("Recovered from panic while processing site")
			jobErr := newJobError(KindLocal, entity.URL, fmt.Sprintf("panic: %v", rec), nil)
			record := types.OutcomeRecord{
				EntityURL: entity.URL,
				Mode:      plan.Mode,
				Status:    types.OutcomeFailed,
				ErrorKind: string(jobErr.Kind),
				Detail:    jobErr.Detail,
				Timestamp: runner.clock.Now().UTC(),
			}
			if runner.handles != nil {
				if handle, ok := runner.handles.Lookup(entity.URL, plan.Mode); ok {
					record.Handle = handle.Value
				}
			}
			outcome = Outcome{Record: record, Err: jobErr}
			monitoring.SetSpanError(span, jobErr)
		}
	}()

	req := plan.Request(entity)
	o.observer.EntityStarted(req)

	if plan.Mode == types.ModeReport && req.ReportDestination == "" {
		outcome = runner.fail(types.OutcomeRecord{EntityURL: entity.URL, Mode: plan.Mode}, runner.clock.Now(),
			newJobError(KindLocal, entity.URL, "no report destination for site", nil))
	} else {
		outcome = runner.Run(ctx, req)
	}

	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"job.status": outcome.Record.Status,
		"job.polls":  outcome.Record.Polls,
	})
	if outcome.Err != nil {
		monitoring.SetSpanError(span, outcome.Err)
	}
	return outcome
}
