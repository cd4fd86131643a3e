// Package batch runs one pass over a source directory: it hashes every
// supported image, renders derivatives for the ones that changed and records
// the new digests once every file has been handled.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"photo-derivatives-go/internal/derivative"
	"photo-derivatives-go/internal/hasher"
	"photo-derivatives-go/internal/state"
	"photo-derivatives-go/internal/statistics"
)

// DefaultExtensions are used when Options.Extensions is empty.
var DefaultExtensions = []string{".jpg", ".jpeg"}

// Options controls a run.
type Options struct {
	SourceDir  string
	OutputDir  string
	Extensions []string
	Workers    int

	DryRun bool
	Force  bool

	// RetryFailed leaves the digest of a failed file out of the saved
	// mapping so the next run tries it again.
	RetryFailed bool
}

// Orchestrator drives batch runs. A single Orchestrator must not run
// concurrently with itself; callers serialize Run.
type Orchestrator struct {
	opts      Options
	logger    *logrus.Logger
	hasher    *hasher.Hasher
	store     *state.Store
	writer    *derivative.Writer
	layout    derivative.Layout
	reporters []Reporter

	mu sync.Mutex // serializes reporter calls
}

// NewOrchestrator returns an Orchestrator. Reporters receive progress in the
// order files finish.
func NewOrchestrator(
	opts Options,
	logger *logrus.Logger,
	h *hasher.Hasher,
	store *state.Store,
	writer *derivative.Writer,
	reporters ...Reporter,
) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts = append(exts, strings.ToLower(ext))
	}
	opts.Extensions = exts

	return &Orchestrator{
		opts:      opts,
		logger:    logger,
		hasher:    h,
		store:     store,
		writer:    writer,
		layout:    derivative.Layout{Root: opts.OutputDir, Extension: writer.Extension()},
		reporters: reporters,
	}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Run performs one batch pass. Per-file failures are recorded in the report
// and never abort the run. The returned error is set only for failures that
// affect the whole run: the source directory cannot be listed, the output
// tree cannot be created, the context is cancelled or the state file cannot
// be written. The report is returned alongside a state save error.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	stats := statistics.NewStatistics()
	report := &Report{
		RunID:     uuid.NewString(),
		DryRun:    o.opts.DryRun,
		StartedAt: stats.StartTime,
		Stats:     stats,
	}
	log := o.logger.WithField("run_id", report.RunID)

	if err := o.prepareOutput(); err != nil {
		return nil, err
	}

	files, err := o.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	stats.SetFilesFound(len(files))
	o.runStarted(report.RunID, len(files))

	if len(files) == 0 {
		log.Infof("No supported images found in %s", o.opts.SourceDir)
		o.finish(report)
		return report, nil
	}

	log.Infof("Found %d images to check", len(files))
	if o.opts.DryRun {
		log.Info("Running in dry-run mode - no derivatives or state will be written")
	}

	prior := o.store.Load()
	outcomes := make([]FileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, name := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome := o.processFile(gctx, name, prior, stats)
			outcomes[i] = outcome
			o.fileDone(report.RunID, outcome)
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		report.Interrupted = true
		o.finish(report)
		return nil, fmt.Errorf("run interrupted: %w", err)
	}

	report.Outcomes = outcomes

	if !o.opts.DryRun {
		if err := o.store.Save(o.mergeMapping(outcomes)); err != nil {
			report.StateError = err.Error()
			o.finish(report)
			return report, fmt.Errorf("failed to save state: %w", err)
		}
		report.StateSaved = true
	}

	o.finish(report)
	return report, nil
}

func (o *Orchestrator) prepareOutput() error {
	if o.opts.DryRun {
		return nil
	}
	if err := os.MkdirAll(o.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", o.opts.OutputDir, err)
	}
	for _, p := range o.writer.Profiles() {
		dir := o.layout.Dir(p)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	return nil
}

// discoverFiles lists supported images directly inside the source directory,
// sorted by name. Subdirectories are not descended into.
func (o *Orchestrator) discoverFiles() ([]string, error) {
	entries, err := os.ReadDir(o.opts.SourceDir)
	if err != nil {
		return nil, err
	}

	var files []string
	stems := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !o.isSupportedFile(name) {
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if other, ok := stems[stem]; ok {
			o.logger.Warnf("%s and %s share the output name %s, the last one written wins", other, name, stem+o.layout.Extension)
		}
		stems[stem] = name

		files = append(files, name)
	}
	slices.Sort(files)
	return files, nil
}

func (o *Orchestrator) isSupportedFile(name string) bool {
	return slices.Contains(o.opts.Extensions, strings.ToLower(filepath.Ext(name)))
}

// processFile handles one source file. It never returns an error; failures
// are carried in the outcome.
func (o *Orchestrator) processFile(ctx context.Context, name string, prior state.Mapping, stats *statistics.Statistics) FileOutcome {
	start := time.Now()
	outcome := FileOutcome{Filename: name}

	data, digest, err := o.hasher.HashFile(filepath.Join(o.opts.SourceDir, name))
	if err != nil {
		stats.IncrementFilesFailed()
		stats.AddError(name, "read", err.Error())
		return o.failed(outcome, err, start)
	}
	stats.AddBytesRead(int64(len(data)))
	outcome.Digest = digest

	if !o.opts.Force && !state.NeedsProcessing(name, digest, prior) {
		stats.IncrementFilesSkipped()
		outcome.Status = StatusSkipped
		outcome.Duration = time.Since(start)
		return outcome
	}

	if o.opts.DryRun {
		stats.IncrementFilesProcessed()
		outcome.Status = StatusWouldProcess
		outcome.Duration = time.Since(start)
		return outcome
	}

	src := derivative.SourceImage{Filename: name, Data: data, Digest: digest}
	derivatives, err := o.writer.Process(ctx, src, o.layout.Destination(src))
	for _, d := range derivatives {
		stats.AddDerivative(d.Size, d.Attempts, d.WithinBudget)
	}
	outcome.Derivatives = derivatives
	if err != nil {
		stats.IncrementFilesFailed()
		stats.AddError(name, "process", err.Error())
		return o.failed(outcome, err, start)
	}

	stats.IncrementFilesProcessed()
	outcome.Status = StatusProcessed
	outcome.Duration = time.Since(start)
	return outcome
}

func (o *Orchestrator) failed(outcome FileOutcome, err error, start time.Time) FileOutcome {
	outcome.Status = StatusFailed
	outcome.Err = err
	outcome.Error = err.Error()
	outcome.Duration = time.Since(start)
	return outcome
}

// mergeMapping builds the mapping to persist from this run's outcomes. Files
// no longer present are dropped. A failed file keeps its digest only when
// retries are disabled.
func (o *Orchestrator) mergeMapping(outcomes []FileOutcome) state.Mapping {
	m := make(state.Mapping, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Digest == "" {
			continue
		}
		if outcome.Status == StatusFailed && o.opts.RetryFailed {
			continue
		}
		m[outcome.Filename] = outcome.Digest
	}
	return m
}

func (o *Orchestrator) runStarted(runID string, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.reporters {
		r.RunStarted(runID, total)
	}
}

func (o *Orchestrator) fileDone(runID string, outcome FileOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.reporters {
		r.FileDone(runID, outcome)
	}
}

func (o *Orchestrator) finish(report *Report) {
	report.Stats.Finalize()
	report.FinishedAt = report.Stats.EndTime
	report.Summary = report.Stats.Summary()

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.reporters {
		r.RunDone(report)
	}
}
