package run

// TargetStatus is one target's slice of a status view.
type TargetStatus struct {
	TargetID      string  `json:"target_id"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	RawResultPath *string `json:"raw_result_path"`
}

// StatusView is the merged durable + ephemeral view of a run, served to
// polling clients. TargetStatuses is empty when the ephemeral state was
// lost (process restart); the coarse Status always reflects the durable
// record.
type StatusView struct {
	RunID          string         `json:"run_id"`
	Owner          string         `json:"owner"`
	Kind           string         `json:"kind"`
	Status         string         `json:"status"`
	TargetStatuses []TargetStatus `json:"target_statuses"`
}

// RawResultView locates the raw result bundle. PerTarget is populated
// only for run-level queries.
type RawResultView struct {
	FilePath  string                  `json:"file_path"`
	PerTarget map[string]TargetStatus `json:"per_target,omitempty"`
}

// SubmitRequest carries the submission payload for one run.
type SubmitRequest struct {
	Targets    []string
	OldVersion string
	NewVersion string
}
