package executor_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msslab/testmgr/pkg/executor"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestStaged_ReportsStagesAndWritesResult(t *testing.T) {
	dir := t.TempDir()

	exec := executor.NewStaged(testLogger(), &executor.Config{
		ResultsDir: dir,
		StepDelay:  time.Millisecond,
		Stages:     []int{30, 70},
	})

	var reported []int

	path, err := exec.Execute(
		context.Background(),
		executor.Target{RunID: "r1", ID: "L1", Kind: "line"},
		func(p int) { reported = append(reported, p) },
	)
	require.NoError(t, err)

	assert.Equal(t, []int{30, 70}, reported)
	assert.Equal(t, filepath.Join("r1", "L1", "raw.json"), path)

	data, err := os.ReadFile(filepath.Join(dir, path))
	require.NoError(t, err)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "r1", manifest["run_id"])
	assert.Equal(t, "L1", manifest["target_id"])
	assert.Equal(t, "line", manifest["kind"])
}

func TestStaged_CancelledContext(t *testing.T) {
	exec := executor.NewStaged(testLogger(), &executor.Config{
		ResultsDir: t.TempDir(),
		StepDelay:  time.Minute,
		Stages:     []int{40, 80},
	})

	ctx, cancel := context.WithTimeout(
		context.Background(), 10*time.Millisecond,
	)
	defer cancel()

	_, err := exec.Execute(
		ctx,
		executor.Target{RunID: "r1", ID: "M1", Kind: "module"},
		func(int) {},
	)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResultWriter_BundleAndSummary(t *testing.T) {
	dir := t.TempDir()
	w := executor.NewResultWriter(dir)

	bundle, err := w.WriteBundle("r2", "module", []string{"M1", "M2"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("r2", "bundle.json"), bundle)

	data, err := os.ReadFile(filepath.Join(dir, bundle))
	require.NoError(t, err)

	var manifest map[string]any
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "r2", manifest["run_id"])
	assert.Len(t, manifest["targets"], 2)

	summary, err := w.WriteSummary("r2", "looks good")
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, summary))
	require.NoError(t, err)
	assert.Equal(t, "looks good", string(content))

	// Overwrite wins.
	_, err = w.WriteSummary("r2", "revised")
	require.NoError(t, err)

	content, err = os.ReadFile(filepath.Join(dir, summary))
	require.NoError(t, err)
	assert.Equal(t, "revised", string(content))
}
