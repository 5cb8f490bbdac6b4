package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ResultWriter lays out run artifacts under a base directory:
//
//	<base>/<run_id>/<target_id>/raw.json   per-target raw result
//	<base>/<run_id>/bundle.json            run-level bundle manifest
//	<base>/<run_id>/summary.txt            user-authored summary
//
// Returned handles are paths relative to the base directory so the API
// can serve them through its file endpoint without exposing absolute
// filesystem locations.
type ResultWriter struct {
	baseDir string
}

// NewResultWriter creates a writer rooted at baseDir.
func NewResultWriter(baseDir string) *ResultWriter {
	return &ResultWriter{baseDir: baseDir}
}

// targetManifest is the content of a per-target raw result.
type targetManifest struct {
	RunID       string `json:"run_id"`
	TargetID    string `json:"target_id"`
	Kind        string `json:"kind"`
	CompletedAt string `json:"completed_at"`
}

// bundleManifest is the content of a run-level bundle.
type bundleManifest struct {
	RunID     string   `json:"run_id"`
	Kind      string   `json:"kind"`
	Targets   []string `json:"targets"`
	BundledAt string   `json:"bundled_at"`
}

// WriteTargetResult writes the raw result artifact for one target and
// returns its relative handle.
func (w *ResultWriter) WriteTargetResult(target Target) (string, error) {
	rel := filepath.Join(target.RunID, target.ID, "raw.json")

	manifest := targetManifest{
		RunID:       target.RunID,
		TargetID:    target.ID,
		Kind:        target.Kind,
		CompletedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if err := w.writeJSON(rel, manifest); err != nil {
		return "", fmt.Errorf("writing target result: %w", err)
	}

	return rel, nil
}

// WriteBundle writes the run-level bundle manifest referencing all
// successful targets and returns its relative handle.
func (w *ResultWriter) WriteBundle(
	runID, kind string, targets []string,
) (string, error) {
	rel := filepath.Join(runID, "bundle.json")

	manifest := bundleManifest{
		RunID:     runID,
		Kind:      kind,
		Targets:   targets,
		BundledAt: time.Now().UTC().Format(time.RFC3339),
	}

	if err := w.writeJSON(rel, manifest); err != nil {
		return "", fmt.Errorf("writing bundle: %w", err)
	}

	return rel, nil
}

// WriteSummary writes the user-authored summary text and returns its
// relative handle. Re-invocation overwrites the previous summary.
func (w *ResultWriter) WriteSummary(runID, text string) (string, error) {
	rel := filepath.Join(runID, "summary.txt")
	full := filepath.Join(w.baseDir, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating summary directory: %w", err)
	}

	if err := os.WriteFile(full, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing summary: %w", err)
	}

	return rel, nil
}

func (w *ResultWriter) writeJSON(rel string, v any) error {
	full := filepath.Join(w.baseDir, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating result directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling manifest: %w", err)
	}

	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
