package statistics_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photo-derivatives-go/internal/statistics"
)

func TestSummaryCounts(t *testing.T) {
	s := statistics.NewStatistics()
	s.SetFilesFound(3)
	s.IncrementFilesProcessed()
	s.IncrementFilesSkipped()
	s.IncrementFilesFailed()

	assert.Equal(t, statistics.RunSummary{Processed: 1, Skipped: 1, Failed: 1, Total: 3}, s.Summary())
	assert.Equal(t, "processed=1 skipped=1 failed=1 total=3", s.Summary().String())
}

func TestCountersAreConcurrencySafe(t *testing.T) {
	s := statistics.NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IncrementFilesProcessed()
			s.AddDerivative(100, 2, i%2 == 0)
			s.AddBytesRead(10)
			s.AddError(fmt.Sprintf("f%d.jpg", i), "process", "boom")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, s.Summary().Processed)
	assert.Equal(t, int64(50), s.DerivativesWritten)
	assert.Equal(t, int64(25), s.DerivativesOverBudget)
	assert.Equal(t, int64(100), s.EncodeAttempts)
	assert.Equal(t, int64(5000), s.BytesWritten)
	assert.Equal(t, int64(500), s.BytesRead)
	assert.Len(t, s.GetErrors(), 50)
}

func TestGetSummaryMentionsCounts(t *testing.T) {
	s := statistics.NewStatistics()
	s.SetFilesFound(2)
	s.IncrementFilesSkipped()
	s.IncrementFilesSkipped()
	s.AddBytesRead(2048)
	s.Finalize()

	out := s.GetSummary()
	assert.Contains(t, out, "Skipped: 2")
	assert.Contains(t, out, "Total: 2")
	assert.Contains(t, out, "2.0 KiB")
	assert.GreaterOrEqual(t, s.GetDuration().Nanoseconds(), int64(0))
}

func TestGetErrorSummary(t *testing.T) {
	s := statistics.NewStatistics()
	assert.Equal(t, "No errors occurred during processing", s.GetErrorSummary())

	for i := 0; i < 12; i++ {
		s.AddError(fmt.Sprintf("f%d.jpg", i), "process", "bad")
	}
	out := s.GetErrorSummary()
	require.Contains(t, out, "Errors (12 total)")
	assert.Contains(t, out, "... and 2 more errors")
}
