package run_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msslab/testmgr/pkg/api/store"
	"github.com/msslab/testmgr/pkg/config"
	"github.com/msslab/testmgr/pkg/executor"
	"github.com/msslab/testmgr/pkg/run"
)

// stubExecutor reports the configured stages, then succeeds, fails, or
// panics per target. A non-nil gate blocks completion until closed.
type stubExecutor struct {
	stages  []int
	fail    map[string]bool
	panics  map[string]bool
	gate    chan struct{}
	results *executor.ResultWriter
}

func (e *stubExecutor) Execute(
	ctx context.Context, target executor.Target, report executor.ProgressFunc,
) (string, error) {
	for _, stage := range e.stages {
		report(stage)
	}

	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if e.panics[target.ID] {
		panic("executor blew up")
	}

	if e.fail[target.ID] {
		return "", errors.New("target execution failed")
	}

	return e.results.WriteTargetResult(target)
}

type testHarness struct {
	orch    run.Orchestrator
	records store.Store
	state   *run.StateStore
	dir     string
}

func setupOrchestrator(t *testing.T, exec *stubExecutor) *testHarness {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	dbCfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	records := store.NewStore(log, dbCfg)
	require.NoError(t, records.Start(context.Background()))
	t.Cleanup(func() { _ = records.Stop() })

	dir := t.TempDir()
	exec.results = executor.NewResultWriter(dir)

	state := run.NewStateStore()

	orch := run.NewOrchestrator(
		log,
		&run.Config{RunTimeout: 5 * time.Second},
		records,
		state,
		executor.NewResultWriter(dir),
		map[string]executor.Executor{
			store.KindLine:   exec,
			store.KindModule: exec,
		},
	)
	require.NoError(t, orch.Start(context.Background()))

	return &testHarness{orch: orch, records: records, state: state, dir: dir}
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{})
	defer func() { require.NoError(t, h.orch.Stop()) }()

	ctx := context.Background()

	_, err := h.orch.Submit(ctx, "alice", "bogus", run.SubmitRequest{
		Targets: []string{"line-a"},
	})
	assert.ErrorIs(t, err, run.ErrInvalid)

	_, err = h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{})
	assert.ErrorIs(t, err, run.ErrInvalid)

	_, err = h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a", ""},
	})
	assert.ErrorIs(t, err, run.ErrInvalid)

	_, err = h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a", "line-a"},
	})
	assert.ErrorIs(t, err, run.ErrInvalid)
}

func TestOrchestrator_SuccessfulRun(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{stages: []int{30, 70}})

	ctx := context.Background()

	view, err := h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets:    []string{"line-a", "line-b"},
		OldVersion: "1.0.0",
		NewVersion: "1.1.0",
	})
	require.NoError(t, err)
	require.NotEmpty(t, view.RunID)
	assert.Equal(t, "alice", view.Owner)
	assert.Equal(t, store.KindLine, view.Kind)
	assert.Len(t, view.TargetStatuses, 2)

	// Stop joins the execution goroutine.
	require.NoError(t, h.orch.Stop())

	final, err := h.orch.Status(ctx, view.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, final.Status)
	require.Len(t, final.TargetStatuses, 2)

	for _, target := range final.TargetStatuses {
		assert.Equal(t, store.StatusSuccess, target.Status)
		assert.Equal(t, 100, target.Progress)
		require.NotNil(t, target.RawResultPath)
		assert.FileExists(t, filepath.Join(h.dir, *target.RawResultPath))
	}

	rec, err := h.records.GetRun(ctx, view.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, rec.Status)
	require.NotNil(t, rec.RawResultPath)
	assert.FileExists(t, filepath.Join(h.dir, *rec.RawResultPath))
	require.NotNil(t, rec.OldVersion)
	assert.Equal(t, "1.0.0", *rec.OldVersion)
}

func TestOrchestrator_AdmissionConflict(t *testing.T) {
	gate := make(chan struct{})
	h := setupOrchestrator(t, &stubExecutor{stages: []int{40}, gate: gate})

	ctx := context.Background()

	first, err := h.orch.Submit(ctx, "alice", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-a"},
	})
	require.NoError(t, err)

	_, err = h.orch.Submit(ctx, "alice", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-b"},
	})
	assert.ErrorIs(t, err, run.ErrConflict)

	// A different kind or owner is admitted independently.
	_, err = h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a"},
	})
	require.NoError(t, err)

	_, err = h.orch.Submit(ctx, "bob", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-a"},
	})
	require.NoError(t, err)

	close(gate)
	require.NoError(t, h.orch.Stop())

	// The terminal run no longer blocks admission.
	final, err := h.orch.Status(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, final.Status)

	_, err = h.orch.Submit(ctx, "alice", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-c"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())
}

func TestOrchestrator_PartialFailureFailsRun(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{
		stages: []int{30, 70},
		fail:   map[string]bool{"line-b": true},
	})

	ctx := context.Background()

	view, err := h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a", "line-b", "line-c"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	final, err := h.orch.Status(ctx, view.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, final.Status)
	require.Len(t, final.TargetStatuses, 3)

	byID := make(map[string]run.TargetStatus)
	for _, target := range final.TargetStatuses {
		byID[target.TargetID] = target
	}

	// Siblings of the failed target still ran to completion.
	assert.Equal(t, store.StatusSuccess, byID["line-a"].Status)
	assert.Equal(t, store.StatusSuccess, byID["line-c"].Status)
	assert.Equal(t, store.StatusFailed, byID["line-b"].Status)
	assert.Equal(t, 70, byID["line-b"].Progress)
	assert.Nil(t, byID["line-b"].RawResultPath)

	_, err = h.orch.RawResult(ctx, view.RunID, "")
	assert.ErrorIs(t, err, run.ErrPrecondition)
}

func TestOrchestrator_ExecutorPanicFailsTarget(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{
		stages: []int{40},
		panics: map[string]bool{"mod-a": true},
	})

	ctx := context.Background()

	view, err := h.orch.Submit(ctx, "alice", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-a", "mod-b"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	final, err := h.orch.Status(ctx, view.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, final.Status)

	byID := make(map[string]run.TargetStatus)
	for _, target := range final.TargetStatuses {
		byID[target.TargetID] = target
	}

	assert.Equal(t, store.StatusFailed, byID["mod-a"].Status)
	assert.Equal(t, store.StatusSuccess, byID["mod-b"].Status)
}

func TestOrchestrator_StatusUnknownRun(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{})
	defer func() { require.NoError(t, h.orch.Stop()) }()

	_, err := h.orch.Status(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, run.ErrNotFound)
}

func TestOrchestrator_StatusDegradesAfterStateLoss(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{stages: []int{30, 70}})

	ctx := context.Background()

	view, err := h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	// A fresh orchestrator over the same records simulates a restart:
	// the ephemeral state is gone, only the durable record survives.
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	restarted := run.NewOrchestrator(
		log,
		&run.Config{},
		h.records,
		run.NewStateStore(),
		executor.NewResultWriter(h.dir),
		map[string]executor.Executor{
			store.KindLine:   &stubExecutor{},
			store.KindModule: &stubExecutor{},
		},
	)
	require.NoError(t, restarted.Start(ctx))

	degraded, err := restarted.Status(ctx, view.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, degraded.Status)
	assert.Empty(t, degraded.TargetStatuses)

	require.NoError(t, restarted.Stop())
}

func TestOrchestrator_RawResult(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{stages: []int{30, 70}})

	ctx := context.Background()

	view, err := h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a", "line-b"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	_, err = h.orch.RawResult(ctx, "no-such-run", "")
	assert.ErrorIs(t, err, run.ErrNotFound)

	perTarget, err := h.orch.RawResult(ctx, view.RunID, "line-a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(view.RunID, "line-a", "raw.json"), perTarget.FilePath)
	assert.Nil(t, perTarget.PerTarget)

	_, err = h.orch.RawResult(ctx, view.RunID, "no-such-target")
	assert.ErrorIs(t, err, run.ErrNotFound)

	bundle, err := h.orch.RawResult(ctx, view.RunID, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(view.RunID, "bundle.json"), bundle.FilePath)
	require.Len(t, bundle.PerTarget, 2)
	assert.Equal(t, store.StatusSuccess, bundle.PerTarget["line-b"].Status)
}

func TestOrchestrator_CreateSummary(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{stages: []int{40, 80}})

	ctx := context.Background()

	_, err := h.orch.CreateSummary(ctx, "no-such-run", "text")
	assert.ErrorIs(t, err, run.ErrNotFound)

	view, err := h.orch.Submit(ctx, "alice", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-a"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	path, err := h.orch.CreateSummary(ctx, view.RunID, "all good")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(view.RunID, "summary.txt"), path)

	content, err := os.ReadFile(filepath.Join(h.dir, path))
	require.NoError(t, err)
	assert.Equal(t, "all good", string(content))

	rec, err := h.records.GetRun(ctx, view.RunID)
	require.NoError(t, err)
	require.NotNil(t, rec.SummaryResultPath)
	assert.Equal(t, path, *rec.SummaryResultPath)

	// Overwriting replaces the text under the same handle.
	_, err = h.orch.CreateSummary(ctx, view.RunID, "revised")
	require.NoError(t, err)

	content, err = os.ReadFile(filepath.Join(h.dir, path))
	require.NoError(t, err)
	assert.Equal(t, "revised", string(content))
}

func TestOrchestrator_CreateSummaryRequiresAllSuccess(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{
		stages: []int{40},
		fail:   map[string]bool{"mod-a": true},
	})

	ctx := context.Background()

	view, err := h.orch.Submit(ctx, "alice", store.KindModule, run.SubmitRequest{
		Targets: []string{"mod-a", "mod-b"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	_, err = h.orch.CreateSummary(ctx, view.RunID, "text")
	assert.ErrorIs(t, err, run.ErrPrecondition)
}

func TestOrchestrator_LastRun(t *testing.T) {
	h := setupOrchestrator(t, &stubExecutor{stages: []int{30}})

	ctx := context.Background()

	_, err := h.orch.LastRun(ctx, "alice", store.KindLine)
	assert.ErrorIs(t, err, run.ErrNotFound)

	first, err := h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-a"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	second, err := h.orch.Submit(ctx, "alice", store.KindLine, run.SubmitRequest{
		Targets: []string{"line-b"},
	})
	require.NoError(t, err)
	require.NoError(t, h.orch.Stop())

	last, err := h.orch.LastRun(ctx, "alice", store.KindLine)
	require.NoError(t, err)
	assert.Equal(t, second.RunID, last.RunID)
	assert.NotEqual(t, first.RunID, last.RunID)
}
