package statistics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// RunSummary holds the per-run counts reported at the end of a batch.
type RunSummary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// String returns a one-line rendering of the summary.
func (r RunSummary) String() string {
	return fmt.Sprintf("processed=%d skipped=%d failed=%d total=%d", r.Processed, r.Skipped, r.Failed, r.Total)
}

// Statistics contains the counters for one batch run. Counters are safe for
// concurrent use by workers.
type Statistics struct {
	FilesFound     int64
	FilesProcessed int64
	FilesSkipped   int64
	FilesFailed    int64

	DerivativesWritten    int64
	DerivativesOverBudget int64
	EncodeAttempts        int64

	BytesRead    int64
	BytesWritten int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex
}

// StatError represents an error that occurred while processing a file.
type StatError struct {
	FilePath  string    `json:"file"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime: time.Now(),
		Errors:    make([]StatError, 0),
	}
}

// SetFilesFound records the number of enumerated source files.
func (s *Statistics) SetFilesFound(n int) {
	atomic.StoreInt64(&s.FilesFound, int64(n))
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.FilesProcessed, 1)
}

// IncrementFilesSkipped increases the count of unchanged files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementFilesFailed increases the count of failed files by 1.
func (s *Statistics) IncrementFilesFailed() {
	atomic.AddInt64(&s.FilesFailed, 1)
}

// AddDerivative records one written derivative.
func (s *Statistics) AddDerivative(size int64, attempts int, withinBudget bool) {
	atomic.AddInt64(&s.DerivativesWritten, 1)
	atomic.AddInt64(&s.BytesWritten, size)
	atomic.AddInt64(&s.EncodeAttempts, int64(attempts))
	if !withinBudget {
		atomic.AddInt64(&s.DerivativesOverBudget, 1)
	}
}

// AddBytesRead adds the size of a hashed source file.
func (s *Statistics) AddBytesRead(n int64) {
	atomic.AddInt64(&s.BytesRead, n)
}

// AddError records an error that occurred during processing.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize stamps the end time and duration.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// Summary returns the run counts.
func (s *Statistics) Summary() RunSummary {
	return RunSummary{
		Processed: int(atomic.LoadInt64(&s.FilesProcessed)),
		Skipped:   int(atomic.LoadInt64(&s.FilesSkipped)),
		Failed:    int(atomic.LoadInt64(&s.FilesFailed)),
		Total:     int(atomic.LoadInt64(&s.FilesFound)),
	}
}

// GetErrors returns a copy of the recorded errors.
func (s *Statistics) GetErrors() []StatError {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]StatError(nil), s.Errors...)
}

// GetDuration returns the total duration of the run.
func (s *Statistics) GetDuration() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Duration
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	summary := s.Summary()
	return fmt.Sprintf(`Photo Derivatives Summary:

Files:
		Processed: %d
		Skipped: %d
		Failed: %d
		Total: %d

Derivatives:
		Written: %d
		Over Budget: %d
		Encode Attempts: %d

Performance:
		Duration: %v
		Bytes Read: %s
		Bytes Written: %s`,
		summary.Processed,
		summary.Skipped,
		summary.Failed,
		summary.Total,
		atomic.LoadInt64(&s.DerivativesWritten),
		atomic.LoadInt64(&s.DerivativesOverBudget),
		atomic.LoadInt64(&s.EncodeAttempts),
		s.GetDuration().Round(time.Millisecond),
		humanize.IBytes(uint64(atomic.LoadInt64(&s.BytesRead))),
		humanize.IBytes(uint64(atomic.LoadInt64(&s.BytesWritten))))
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			fmt.Fprintf(&b, "  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		fmt.Fprintf(&b, "  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return b.String()
}
