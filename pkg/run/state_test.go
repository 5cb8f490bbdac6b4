package run_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msslab/testmgr/pkg/api/store"
	"github.com/msslab/testmgr/pkg/run"
)

func TestStateStore_CreateRunInitialState(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a", "line-b"})

	targets, ok := s.TargetStatuses("r1")
	require.True(t, ok)
	require.Len(t, targets, 2)

	assert.Equal(t, "line-a", targets[0].TargetID)
	assert.Equal(t, "line-b", targets[1].TargetID)

	for _, target := range targets {
		assert.Equal(t, store.StatusPending, target.Status)
		assert.Equal(t, 0, target.Progress)
		assert.Nil(t, target.RawResultPath)
	}
}

func TestStateStore_UnknownRun(t *testing.T) {
	s := run.NewStateStore()

	_, ok := s.TargetStatuses("missing")
	assert.False(t, ok)

	_, ok = s.TargetResult("missing", "line-a")
	assert.False(t, ok)

	assert.False(t, s.AllTargetsSuccess("missing"))
	assert.Nil(t, s.Summary("missing"))
}

func TestStateStore_ProgressMonotone(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a"})
	s.SetTargetRunning("r1", "line-a")

	s.SetTargetProgress("r1", "line-a", 30)
	s.SetTargetProgress("r1", "line-a", 10)
	s.SetTargetProgress("r1", "line-a", 30)

	targets, ok := s.TargetStatuses("r1")
	require.True(t, ok)
	assert.Equal(t, 30, targets[0].Progress)

	s.SetTargetProgress("r1", "line-a", 250)
	targets, _ = s.TargetStatuses("r1")
	assert.Equal(t, 100, targets[0].Progress)
}

func TestStateStore_ProgressRequiresRunning(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a"})

	s.SetTargetProgress("r1", "line-a", 50)

	targets, _ := s.TargetStatuses("r1")
	assert.Equal(t, store.StatusPending, targets[0].Status)
	assert.Equal(t, 0, targets[0].Progress)
}

func TestStateStore_SuccessSnapsToHundred(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a"})
	s.SetTargetRunning("r1", "line-a")
	s.SetTargetProgress("r1", "line-a", 70)

	s.SetTargetSuccess("r1", "line-a", "r1/line-a/raw.json")

	targets, _ := s.TargetStatuses("r1")
	assert.Equal(t, store.StatusSuccess, targets[0].Status)
	assert.Equal(t, 100, targets[0].Progress)
	require.NotNil(t, targets[0].RawResultPath)
	assert.Equal(t, "r1/line-a/raw.json", *targets[0].RawResultPath)

	path, ok := s.TargetResult("r1", "line-a")
	require.True(t, ok)
	require.NotNil(t, path)
	assert.Equal(t, "r1/line-a/raw.json", *path)
}

func TestStateStore_FailureFreezesProgress(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a"})
	s.SetTargetRunning("r1", "line-a")
	s.SetTargetProgress("r1", "line-a", 40)

	s.SetTargetFailed("r1", "line-a")

	targets, _ := s.TargetStatuses("r1")
	assert.Equal(t, store.StatusFailed, targets[0].Status)
	assert.Equal(t, 40, targets[0].Progress)
	assert.Nil(t, targets[0].RawResultPath)
}

func TestStateStore_TerminalStatesAreSticky(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a", "line-b"})

	s.SetTargetRunning("r1", "line-a")
	s.SetTargetSuccess("r1", "line-a", "r1/line-a/raw.json")
	s.SetTargetFailed("r1", "line-a")
	s.SetTargetProgress("r1", "line-a", 10)

	s.SetTargetRunning("r1", "line-b")
	s.SetTargetFailed("r1", "line-b")
	s.SetTargetSuccess("r1", "line-b", "r1/line-b/raw.json")

	targets, _ := s.TargetStatuses("r1")
	assert.Equal(t, store.StatusSuccess, targets[0].Status)
	assert.Equal(t, 100, targets[0].Progress)
	assert.Equal(t, store.StatusFailed, targets[1].Status)
	assert.Nil(t, targets[1].RawResultPath)
}

func TestStateStore_AllTargetsSuccess(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a", "line-b"})

	assert.False(t, s.AllTargetsSuccess("r1"))

	s.SetTargetRunning("r1", "line-a")
	s.SetTargetSuccess("r1", "line-a", "r1/line-a/raw.json")
	assert.False(t, s.AllTargetsSuccess("r1"))

	s.SetTargetRunning("r1", "line-b")
	s.SetTargetSuccess("r1", "line-b", "r1/line-b/raw.json")
	assert.True(t, s.AllTargetsSuccess("r1"))
}

func TestStateStore_Summary(t *testing.T) {
	s := run.NewStateStore()
	s.CreateRun("r1", []string{"line-a"})

	assert.Nil(t, s.Summary("r1"))

	s.SetSummary("r1", "first")
	s.SetSummary("r1", "second")

	summary := s.Summary("r1")
	require.NotNil(t, summary)
	assert.Equal(t, "second", *summary)
}
