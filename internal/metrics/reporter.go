package metrics

import (
	"photo-derivatives-go/internal/batch"
)

// Reporter feeds batch progress into the prometheus collectors.
type Reporter struct{}

// NewReporter returns a Reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

func (*Reporter) RunStarted(string, int) {}

func (*Reporter) FileDone(_ string, outcome batch.FileOutcome) {
	RecordFile(outcome.Status.String())
	for _, d := range outcome.Derivatives {
		RecordDerivative(d.Profile, d.Size, d.Attempts, d.WithinBudget)
	}
}

func (*Reporter) RunDone(report *batch.Report) {
	RecordRun(report.Result(), report.FinishedAt.Sub(report.StartedAt))
}
