package executor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Target identifies one unit of work within a run: a development line or
// a module server, depending on the run kind.
type Target struct {
	RunID string
	ID    string
	Kind  string
}

// ProgressFunc publishes an intermediate progress percentage for a
// target while it executes.
type ProgressFunc func(progress int)

// Executor performs the actual test work for a single target and
// returns the handle of the raw result it produced. Implementations
// must honor ctx cancellation; a returned error (or panic) is recorded
// by the orchestrator as a FAILED target, never propagated further.
type Executor interface {
	Execute(
		ctx context.Context, target Target, report ProgressFunc,
	) (string, error)
}

// Compile-time interface check.
var _ Executor = (*staged)(nil)

// Config for the staged executor.
type Config struct {
	ResultsDir string
	StepDelay  time.Duration

	// Stages are the intermediate progress checkpoints reported before
	// completion, e.g. {30, 70} for line runs and {40, 80} for module
	// runs.
	Stages []int
}

type staged struct {
	log     logrus.FieldLogger
	cfg     *Config
	results *ResultWriter
}

// NewStaged creates the built-in executor that walks a target through
// fixed progress stages, pausing StepDelay between them, and writes the
// raw result artifact on completion.
func NewStaged(log logrus.FieldLogger, cfg *Config) Executor {
	return &staged{
		log:     log.WithField("component", "executor"),
		cfg:     cfg,
		results: NewResultWriter(cfg.ResultsDir),
	}
}

// Execute walks the configured stages and writes the target's raw
// result. It returns ctx.Err() when cancelled mid-flight so the target
// is recorded as failed.
func (e *staged) Execute(
	ctx context.Context, target Target, report ProgressFunc,
) (string, error) {
	log := e.log.WithFields(logrus.Fields{
		"run_id": target.RunID,
		"target": target.ID,
		"kind":   target.Kind,
	})
	log.Debug("Target execution started")

	for _, stage := range e.cfg.Stages {
		report(stage)

		select {
		case <-time.After(e.cfg.StepDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	path, err := e.results.WriteTargetResult(target)
	if err != nil {
		return "", err
	}

	log.WithField("path", path).Debug("Target execution completed")

	return path, nil
}
