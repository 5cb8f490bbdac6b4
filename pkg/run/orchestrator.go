package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/msslab/testmgr/pkg/api/store"
	"github.com/msslab/testmgr/pkg/executor"
)

// DefaultRunTimeout bounds a run's execution when no timeout is
// configured, so a hung executor cannot leak the fan-in wait forever.
const DefaultRunTimeout = 30 * time.Minute

// Records is the durable run-record collaborator. It is the subset of
// the API store the orchestrator needs; the engine never issues queries
// beyond "by id" and "active/latest run for owner+kind".
type Records interface {
	CreateRun(ctx context.Context, run *store.Run) error
	GetRun(ctx context.Context, runID string) (*store.Run, error)
	ActiveRunForOwner(ctx context.Context, owner, kind string) (*store.Run, error)
	LatestRunForOwner(ctx context.Context, owner, kind string) (*store.Run, error)
	UpdateRunStatus(ctx context.Context, runID, status string) error
	SetRunRawResult(ctx context.Context, runID, path string) error
	SetRunSummaryResult(ctx context.Context, runID, path string) error
}

// Orchestrator is the test-run engine: it admits runs, fans execution
// out across targets, tracks state transitions, aggregates outcomes,
// and serves status and result queries. One instance handles every run
// kind; the per-kind behavior lives in the injected executors.
type Orchestrator interface {
	Start(ctx context.Context) error
	Stop() error

	Submit(ctx context.Context, owner, kind string, req SubmitRequest) (*StatusView, error)
	Status(ctx context.Context, runID string) (*StatusView, error)
	LastRun(ctx context.Context, owner, kind string) (*StatusView, error)
	RawResult(ctx context.Context, runID, targetID string) (*RawResultView, error)
	CreateSummary(ctx context.Context, runID, text string) (string, error)
}

// Config for the orchestrator.
type Config struct {
	// RunTimeout bounds one run's total execution time. An expired
	// timeout fails the remaining targets and the run.
	RunTimeout time.Duration
}

// NewOrchestrator creates a new orchestrator. The executors map must
// contain one entry per supported run kind.
func NewOrchestrator(
	log logrus.FieldLogger,
	cfg *Config,
	records Records,
	state *StateStore,
	results *executor.ResultWriter,
	executors map[string]executor.Executor,
) Orchestrator {
	if cfg.RunTimeout == 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}

	return &orchestrator{
		log:       log.WithField("component", "orchestrator"),
		cfg:       cfg,
		records:   records,
		state:     state,
		results:   results,
		executors: executors,
	}
}

// Compile-time interface check.
var _ Orchestrator = (*orchestrator)(nil)

type orchestrator struct {
	log       logrus.FieldLogger
	cfg       *Config
	records   Records
	state     *StateStore
	results   *executor.ResultWriter
	executors map[string]executor.Executor
	wg        sync.WaitGroup
}

// Start validates the executor wiring.
func (o *orchestrator) Start(_ context.Context) error {
	for _, kind := range []string{store.KindLine, store.KindModule} {
		if _, ok := o.executors[kind]; !ok {
			return fmt.Errorf("no executor configured for kind %q", kind)
		}
	}

	o.log.Debug("Orchestrator started")

	return nil
}

// Stop waits for all in-flight runs to reach their terminal state.
func (o *orchestrator) Stop() error {
	o.wg.Wait()

	o.log.Debug("Orchestrator stopped")

	return nil
}

// Submit admits a new run. At most one PENDING/RUNNING run may exist
// per owner and kind; a second submission is rejected with ErrConflict.
// On acceptance the durable record and the ephemeral state are created
// together and execution begins on its own goroutine, detached from the
// caller's request. The returned view equals an immediate status query.
func (o *orchestrator) Submit(
	ctx context.Context, owner, kind string, req SubmitRequest,
) (*StatusView, error) {
	if !store.ValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown run kind %q", ErrInvalid, kind)
	}

	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: at least one target is required", ErrInvalid)
	}

	seen := make(map[string]struct{}, len(req.Targets))

	for _, id := range req.Targets {
		if id == "" {
			return nil, fmt.Errorf("%w: empty target id", ErrInvalid)
		}

		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate target %q", ErrInvalid, id)
		}

		seen[id] = struct{}{}
	}

	// Admission control: one active run per owner and kind.
	if active, err := o.records.ActiveRunForOwner(ctx, owner, kind); err == nil {
		return nil, fmt.Errorf(
			"%w: run %s is still %s", ErrConflict, active.RunID, active.Status,
		)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking active run: %w", err)
	}

	rec := &store.Run{
		RunID:       uuid.NewString(),
		Owner:       owner,
		Kind:        kind,
		Status:      store.StatusPending,
		RequestedAt: time.Now().UTC(),
	}

	if req.OldVersion != "" {
		rec.OldVersion = &req.OldVersion
	}

	if req.NewVersion != "" {
		rec.NewVersion = &req.NewVersion
	}

	if err := o.records.CreateRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}

	o.state.CreateRun(rec.RunID, req.Targets)

	o.log.WithFields(logrus.Fields{
		"run_id":  rec.RunID,
		"owner":   owner,
		"kind":    kind,
		"targets": len(req.Targets),
	}).Info("Run admitted")

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		o.executeRun(rec.RunID, kind, req.Targets)
	}()

	return o.view(rec), nil
}

// executeRun drives one admitted run to its terminal state: transition
// to RUNNING, concurrent fan-out over all targets, fan-in barrier, then
// all-or-nothing aggregation. Any orchestration failure collapses into
// the FAILED terminal state; a run is never left PENDING or RUNNING.
func (o *orchestrator) executeRun(runID, kind string, targets []string) {
	ctx, cancel := context.WithTimeout(
		context.Background(), o.cfg.RunTimeout,
	)
	defer cancel()

	log := o.log.WithFields(logrus.Fields{
		"run_id": runID,
		"kind":   kind,
	})

	if err := o.records.UpdateRunStatus(
		ctx, runID, store.StatusRunning,
	); err != nil {
		log.WithError(err).Error("Failed to mark run running")
		o.failRun(runID, log)

		return
	}

	exec := o.executors[kind]

	// Every target runs to completion regardless of its siblings; the
	// goroutines report failures through the state store, never as
	// group errors, so the group cannot cancel early.
	g := new(errgroup.Group)

	for _, targetID := range targets {
		targetID := targetID
		g.Go(func() error {
			o.runTarget(ctx, exec, runID, kind, targetID)

			return nil
		})
	}

	_ = g.Wait()

	if !o.state.AllTargetsSuccess(runID) {
		log.Warn("Run finished with failed targets")
		o.failRun(runID, log)

		return
	}

	bundle, err := o.results.WriteBundle(runID, kind, targets)
	if err != nil {
		log.WithError(err).Error("Failed to write result bundle")
		o.failRun(runID, log)

		return
	}

	if err := o.records.SetRunRawResult(ctx, runID, bundle); err != nil {
		log.WithError(err).Error("Failed to persist result bundle")
		o.failRun(runID, log)

		return
	}

	if err := o.records.UpdateRunStatus(
		ctx, runID, store.StatusSuccess,
	); err != nil {
		log.WithError(err).Error("Failed to mark run successful")
		o.failRun(runID, log)

		return
	}

	log.Info("Run completed")
}

// runTarget executes a single target, converting errors, timeouts, and
// executor panics into a FAILED target state.
func (o *orchestrator) runTarget(
	ctx context.Context,
	exec executor.Executor,
	runID, kind, targetID string,
) {
	log := o.log.WithFields(logrus.Fields{
		"run_id": runID,
		"target": targetID,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Executor panicked")
			o.state.SetTargetFailed(runID, targetID)
		}
	}()

	o.state.SetTargetRunning(runID, targetID)

	path, err := exec.Execute(
		ctx,
		executor.Target{RunID: runID, ID: targetID, Kind: kind},
		func(progress int) {
			o.state.SetTargetProgress(runID, targetID, progress)
		},
	)
	if err != nil {
		log.WithError(err).Warn("Target execution failed")
		o.state.SetTargetFailed(runID, targetID)

		return
	}

	o.state.SetTargetSuccess(runID, targetID, path)
}

// failRun marks the run FAILED, detached from the (possibly expired)
// execution context.
func (o *orchestrator) failRun(runID string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer cancel()

	if err := o.records.UpdateRunStatus(
		ctx, runID, store.StatusFailed,
	); err != nil {
		log.WithError(err).Error("Failed to mark run failed")
	}
}

// Status returns the merged durable + ephemeral view of a run. When the
// ephemeral state was lost the view degrades to the durable record's
// coarse status with no per-target detail.
func (o *orchestrator) Status(
	ctx context.Context, runID string,
) (*StatusView, error) {
	rec, err := o.records.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}

		return nil, fmt.Errorf("getting run: %w", err)
	}

	return o.view(rec), nil
}

// LastRun returns the owner's most recent run of the kind.
func (o *orchestrator) LastRun(
	ctx context.Context, owner, kind string,
) (*StatusView, error) {
	rec, err := o.records.LatestRunForOwner(ctx, owner, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no %s runs for %s", ErrNotFound, kind, owner)
		}

		return nil, fmt.Errorf("getting latest run: %w", err)
	}

	return o.view(rec), nil
}

// RawResult locates raw results for a finished run. With a target id it
// returns that target's handle; without one it returns the run-level
// bundle plus the full per-target map.
func (o *orchestrator) RawResult(
	ctx context.Context, runID, targetID string,
) (*RawResultView, error) {
	rec, err := o.records.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}

		return nil, fmt.Errorf("getting run: %w", err)
	}

	if rec.Status != store.StatusSuccess {
		return nil, fmt.Errorf(
			"%w: run %s is %s, result not ready", ErrPrecondition, runID, rec.Status,
		)
	}

	if targetID != "" {
		path, ok := o.state.TargetResult(runID, targetID)
		if !ok || path == nil {
			return nil, fmt.Errorf("%w: target %s", ErrNotFound, targetID)
		}

		return &RawResultView{FilePath: *path}, nil
	}

	view := &RawResultView{}

	if rec.RawResultPath != nil {
		view.FilePath = *rec.RawResultPath
	}

	if targets, ok := o.state.TargetStatuses(runID); ok {
		view.PerTarget = make(map[string]TargetStatus, len(targets))
		for _, t := range targets {
			view.PerTarget[t.TargetID] = t
		}
	}

	return view, nil
}

// CreateSummary stores the summary text and mints the summary artifact
// handle. It requires the ephemeral state to be present and every
// target to have succeeded; re-invocation overwrites the previous
// summary and produces a fresh handle, so callers needing exactly-once
// behavior must deduplicate on their side.
func (o *orchestrator) CreateSummary(
	ctx context.Context, runID, text string,
) (string, error) {
	if _, err := o.records.GetRun(ctx, runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}

		return "", fmt.Errorf("getting run: %w", err)
	}

	if !o.state.AllTargetsSuccess(runID) {
		return "", fmt.Errorf(
			"%w: all targets must succeed before a summary", ErrPrecondition,
		)
	}

	path, err := o.results.WriteSummary(runID, text)
	if err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}

	o.state.SetSummary(runID, text)

	if err := o.records.SetRunSummaryResult(ctx, runID, path); err != nil {
		return "", fmt.Errorf("persisting summary handle: %w", err)
	}

	o.log.WithField("run_id", runID).Info("Summary created")

	return path, nil
}

// view builds a status view from the durable record and whatever
// ephemeral detail is available.
func (o *orchestrator) view(rec *store.Run) *StatusView {
	v := &StatusView{
		RunID:          rec.RunID,
		Owner:          rec.Owner,
		Kind:           rec.Kind,
		Status:         rec.Status,
		TargetStatuses: []TargetStatus{},
	}

	targets, ok := o.state.TargetStatuses(rec.RunID)
	if !ok {
		// Ephemeral state lost (restart): degrade to the coarse status.
		return v
	}

	v.TargetStatuses = append(v.TargetStatuses, targets...)

	return v
}
