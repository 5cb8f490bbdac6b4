package run

import (
	"sync"

	"github.com/msslab/testmgr/pkg/api/store"
)

// targetState is the live, ephemeral state of one target within a run.
// Each executing goroutine owns exactly one entry; the store mutex makes
// writes visible to concurrent status readers.
type targetState struct {
	status        string
	progress      int
	rawResultPath *string
}

type runState struct {
	order   []string
	targets map[string]*targetState
	summary *string
}

// StateStore holds the fine-grained state of every in-flight and
// completed run for the lifetime of the process. It is the system of
// record for live progress; a restart resets it to empty while the
// durable run records keep their coarse status.
type StateStore struct {
	mu   sync.RWMutex
	runs map[string]*runState
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		runs: make(map[string]*runState),
	}
}

// CreateRun registers a run with its fixed target set, every target
// PENDING at zero progress. The target set never changes afterwards.
func (s *StateStore) CreateRun(runID string, targetIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs := &runState{
		order:   make([]string, 0, len(targetIDs)),
		targets: make(map[string]*targetState, len(targetIDs)),
	}

	for _, id := range targetIDs {
		rs.order = append(rs.order, id)
		rs.targets[id] = &targetState{status: store.StatusPending}
	}

	s.runs[runID] = rs
}

// mutateTarget runs fn on the target's state under the write lock.
// Terminal targets are left untouched.
func (s *StateStore) mutateTarget(
	runID, targetID string, fn func(t *targetState),
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.runs[runID]
	if !ok {
		return
	}

	t, ok := rs.targets[targetID]
	if !ok {
		return
	}

	if t.status == store.StatusSuccess || t.status == store.StatusFailed {
		return
	}

	fn(t)
}

// SetTargetRunning transitions a target to RUNNING.
func (s *StateStore) SetTargetRunning(runID, targetID string) {
	s.mutateTarget(runID, targetID, func(t *targetState) {
		t.status = store.StatusRunning
	})
}

// SetTargetProgress raises a RUNNING target's progress. Values at or
// below the current progress are ignored so observers never see a
// regression.
func (s *StateStore) SetTargetProgress(runID, targetID string, progress int) {
	if progress > 100 {
		progress = 100
	}

	s.mutateTarget(runID, targetID, func(t *targetState) {
		if t.status != store.StatusRunning {
			return
		}

		if progress > t.progress {
			t.progress = progress
		}
	})
}

// SetTargetSuccess marks a target SUCCESS at 100% with its result handle.
func (s *StateStore) SetTargetSuccess(runID, targetID, resultPath string) {
	s.mutateTarget(runID, targetID, func(t *targetState) {
		t.status = store.StatusSuccess
		t.progress = 100
		t.rawResultPath = &resultPath
	})
}

// SetTargetFailed marks a target FAILED. Progress stays frozen at its
// last reported value and no result handle is assigned.
func (s *StateStore) SetTargetFailed(runID, targetID string) {
	s.mutateTarget(runID, targetID, func(t *targetState) {
		t.status = store.StatusFailed
	})
}

// TargetStatuses returns a snapshot of all target states in submission
// order. The second return is false when the run is unknown to the
// ephemeral store (e.g. after a process restart).
func (s *StateStore) TargetStatuses(runID string) ([]TargetStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.runs[runID]
	if !ok {
		return nil, false
	}

	out := make([]TargetStatus, 0, len(rs.order))

	for _, id := range rs.order {
		t := rs.targets[id]
		out = append(out, TargetStatus{
			TargetID:      id,
			Status:        t.status,
			Progress:      t.progress,
			RawResultPath: t.rawResultPath,
		})
	}

	return out, true
}

// TargetResult returns the raw result handle of one target. The second
// return is false when the run or target is unknown.
func (s *StateStore) TargetResult(
	runID, targetID string,
) (*string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.runs[runID]
	if !ok {
		return nil, false
	}

	t, ok := rs.targets[targetID]
	if !ok {
		return nil, false
	}

	return t.rawResultPath, true
}

// AllTargetsSuccess reports whether every target of a known run reached
// SUCCESS. Unknown runs report false.
func (s *StateStore) AllTargetsSuccess(runID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.runs[runID]
	if !ok || len(rs.targets) == 0 {
		return false
	}

	for _, t := range rs.targets {
		if t.status != store.StatusSuccess {
			return false
		}
	}

	return true
}

// SetSummary stores the run's summary text, replacing any previous one.
func (s *StateStore) SetSummary(runID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rs, ok := s.runs[runID]; ok {
		rs.summary = &text
	}
}

// Summary returns the stored summary text, or nil when none was set.
func (s *StateStore) Summary(runID string) *string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rs, ok := s.runs[runID]; ok {
		return rs.summary
	}

	return nil
}
