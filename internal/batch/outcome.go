package batch

import (
	"time"

	"photo-derivatives-go/internal/derivative"
	"photo-derivatives-go/internal/hasher"
	"photo-derivatives-go/internal/statistics"
)

// Status is the result kind of one source file in a run.
type Status int

const (
	StatusProcessed Status = iota
	StatusSkipped
	StatusFailed
	StatusWouldProcess // dry run only
)

// String returns the label used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	case StatusWouldProcess:
		return "would_process"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FileOutcome is the result of handling one source file. Failures are values
// here and never abort the batch.
type FileOutcome struct {
	Filename    string                           `json:"filename"`
	Digest      hasher.Digest                    `json:"digest,omitempty"`
	Status      Status                           `json:"status"`
	Derivatives map[string]derivative.Derivative `json:"derivatives,omitempty"`
	Err         error                            `json:"-"`
	Error       string                           `json:"error,omitempty"`
	Duration    time.Duration                    `json:"duration"`
}

// Report describes a finished run.
type Report struct {
	RunID      string                `json:"run_id"`
	DryRun     bool                  `json:"dry_run"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Summary    statistics.RunSummary `json:"summary"`
	Outcomes   []FileOutcome         `json:"outcomes"`
	StateSaved bool                  `json:"state_saved"`
	StateError string                `json:"state_error,omitempty"`

	// Interrupted is set when the context was cancelled before every file
	// was handled. Outcomes and state are not recorded for such runs.
	Interrupted bool `json:"interrupted,omitempty"`

	Stats *statistics.Statistics `json:"-"`
}

// Result labels how the run ended: "interrupted", "dry_run", "state_error",
// "partial" when some files failed, or "success".
func (r *Report) Result() string {
	switch {
	case r.Interrupted:
		return "interrupted"
	case r.DryRun:
		return "dry_run"
	case r.StateError != "":
		return "state_error"
	case r.Summary.Failed > 0:
		return "partial"
	default:
		return "success"
	}
}

// Reporter consumes run progress. Calls are serialized by the orchestrator.
type Reporter interface {
	RunStarted(runID string, total int)
	FileDone(runID string, outcome FileOutcome)
	RunDone(report *Report)
}
