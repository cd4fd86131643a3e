package batch

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"photo-derivatives-go/internal/logger"
)

// LogReporter writes run progress to a logrus logger.
type LogReporter struct {
	logger *logrus.Logger
}

// NewLogReporter returns a LogReporter.
func NewLogReporter(logger *logrus.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) RunStarted(runID string, total int) {
	r.logger.WithField("run_id", runID).Debugf("Run started with %d candidate files", total)
}

func (r *LogReporter) FileDone(runID string, outcome FileOutcome) {
	entry := logger.WithFile(r.logger, outcome.Filename).WithField("run_id", runID)

	switch outcome.Status {
	case StatusSkipped:
		entry.Infof("Skipping %s (unchanged)", outcome.Filename)
	case StatusWouldProcess:
		entry.Infof("DRY-RUN: Would process %s", outcome.Filename)
	case StatusFailed:
		entry.WithError(outcome.Err).Errorf("Failed to process %s", outcome.Filename)
	case StatusProcessed:
		var written int64
		for _, d := range outcome.Derivatives {
			written += d.Size
		}
		entry.WithFields(logrus.Fields{
			"derivatives": len(outcome.Derivatives),
			"written":     humanize.IBytes(uint64(written)),
			"elapsed":     outcome.Duration.Round(time.Millisecond).String(),
		}).Infof("Processed %s", outcome.Filename)
	}
}

func (r *LogReporter) RunDone(report *Report) {
	entry := r.logger.WithFields(logrus.Fields{
		"run_id":    report.RunID,
		"processed": report.Summary.Processed,
		"skipped":   report.Summary.Skipped,
		"failed":    report.Summary.Failed,
		"total":     report.Summary.Total,
	})
	switch report.Result() {
	case "interrupted":
		entry.Warn("Batch processing interrupted, state not saved")
	case "dry_run":
		entry.Info("Dry run complete")
	case "state_error":
		entry.WithField("error", report.StateError).Error("Batch processing complete but state could not be saved")
	default:
		entry.Info("Batch processing complete")
	}
}
