package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"photo-derivatives-go/internal/batch"
	"photo-derivatives-go/internal/codec"
	"photo-derivatives-go/internal/compressor"
	"photo-derivatives-go/internal/config"
	"photo-derivatives-go/internal/derivative"
	"photo-derivatives-go/internal/extractor"
	"photo-derivatives-go/internal/hasher"
	"photo-derivatives-go/internal/logger"
	"photo-derivatives-go/internal/metrics"
	"photo-derivatives-go/internal/state"
	"photo-derivatives-go/internal/watcher"
	"photo-derivatives-go/internal/web"
)

var (
	cfgFile   string
	sourceDir string
	outputDir string
	dryRun    bool
	force     bool
	workers   int
	verbose   bool
	quiet     bool
	version   = "dev"
	port      int
)

// rootCmd is the base command for the CLI. It performs one batch run.
var rootCmd = &cobra.Command{
	Use:   "photo-derivatives",
	Short: "Generate size-bounded thumbnail and medium derivatives for a photo directory",
	Long: `photo-derivatives reads every JPEG in a source directory and writes a
resized, recompressed derivative per configured profile (by default a
600px thumbnail and a 2000px medium image), searching for the highest
quality that fits each profile's size budget.

Content digests of processed sources are stored next to the output, so
unchanged images are skipped on later runs.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess()
	},
}

// watchCmd runs once and then again whenever the source directory changes.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process the source directory and re-run on changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

// serveCmd starts the run API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the run API server",
	Long: `Starts an HTTP server that triggers batch runs and reports their progress:

  GET  /api/status      current run state
  POST /api/runs        start a run ({"dry_run": bool, "force": bool})
  GET  /api/runs/last   report of the last run
  GET  /ws              per-file outcome stream
  GET  /metrics         prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// inspectCmd prints the metadata of an image file.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show dimensions, orientation and metadata tags of an image",
	Long: `Shows the dimensions, EXIF orientation and embedded metadata of an image.
Uses exiftool when it is installed and goexif otherwise. Useful to check
that derivatives carry no metadata.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	flags.BoolVar(&quiet, "quiet", false, "suppress non-error output")
	flags.StringVar(&sourceDir, "source", "", "source directory containing images")
	flags.StringVar(&outputDir, "output", "", "output directory for derivatives (default: <source>/dist)")
	flags.BoolVar(&dryRun, "dry-run", false, "report what would be processed without writing anything")
	flags.BoolVar(&force, "force", false, "reprocess every image regardless of stored digests")
	flags.IntVar(&workers, "workers", 0, "number of images processed in parallel")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the API server on (default from config, 8080)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
}

// runProcess executes a single batch run.
func runProcess() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	orch, err := newOrchestrator(cfg, log, cfg.Processing.DryRun, cfg.Processing.Force)
	if err != nil {
		return err
	}

	opts := orch.Options()
	log.WithFields(logrus.Fields{
		"source":     opts.SourceDir,
		"output":     opts.OutputDir,
		"workers":    opts.Workers,
		"extensions": opts.Extensions,
	}).Debug("Starting batch run")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("batch run failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + report.Stats.GetSummary())
		if report.Summary.Failed > 0 {
			fmt.Println("\n" + report.Stats.GetErrorSummary())
		}
	}

	return nil
}

// runWatch processes the source directory and keeps watching it.
func runWatch() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	orch, err := newOrchestrator(cfg, log, cfg.Processing.DryRun, cfg.Processing.Force)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.NewWatcher(cfg.SourceDirectory, cfg.SupportedExtensions, cfg.Watch.Debounce,
		func(ctx context.Context) error {
			_, err := orch.Run(ctx)
			return err
		}, log)

	return w.Watch(ctx)
}

// runServe starts the API server and handles graceful shutdown.
func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log := setupLogger(cfg)
	if _, err := cfg.BuildProfiles(); err != nil {
		return err
	}

	var server *web.Server
	server = web.NewServer(log, func(ctx context.Context, req web.RunRequest) (*batch.Report, error) {
		orch, err := newOrchestrator(cfg, log, cfg.Processing.DryRun || req.DryRun, cfg.Processing.Force || req.Force, server)
		if err != nil {
			return nil, err
		}
		return orch.Run(ctx)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	fmt.Printf("Run API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	case <-sigChan:
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}

// runInspect prints metadata for a given file.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	log := logrus.New()
	if !verbose {
		log.SetLevel(logrus.WarnLevel)
	}

	meta, err := extractor.NewExiftoolInspector(log).Inspect(filePath)
	if err != nil {
		return fmt.Errorf("inspect failed: %w", err)
	}

	fmt.Printf("File:        %s\n", meta.Path)
	fmt.Printf("Reader:      %s\n", meta.Source)
	fmt.Printf("Dimensions:  %dx%d\n", meta.Width, meta.Height)
	fmt.Printf("Orientation: %s\n", meta.Orientation)

	if !meta.HasEmbeddedMetadata() {
		fmt.Println("No embedded metadata")
		return nil
	}

	fmt.Printf("Tags (%d):\n", len(meta.Tags))
	for _, name := range extractor.SortedTagNames(meta) {
		fmt.Printf("  %s: %s\n", name, meta.Tags[name])
	}
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig(cfgFile, func(c *config.Config) {
		if sourceDir != "" {
			c.SourceDirectory = sourceDir
		}
		if c.SourceDirectory == "" {
			c.SourceDirectory = "."
		}
		if outputDir != "" {
			c.OutputDirectory = outputDir
		}
		if dryRun {
			c.Processing.DryRun = true
		}
		if force {
			c.Processing.Force = true
		}
		if workers > 0 {
			c.Processing.Workers = workers
		}
	})
}

// newOrchestrator wires the processing pipeline for cfg.
func newOrchestrator(cfg *config.Config, log *logrus.Logger, dryRun, force bool, reporters ...batch.Reporter) (*batch.Orchestrator, error) {
	profiles, err := cfg.BuildProfiles()
	if err != nil {
		return nil, err
	}

	c := codec.NewImagingCodec(extractor.NewEXIFExtractor(log))
	searcher := compressor.NewQualitySearcher(c, cfg.Processing.QualityStep, log)
	writer := derivative.NewWriter(c, searcher, profiles, log)
	store := state.NewStore(cfg.StatePath(), log)

	all := append([]batch.Reporter{batch.NewLogReporter(log), metrics.NewReporter()}, reporters...)

	return batch.NewOrchestrator(batch.Options{
		SourceDir:   cfg.SourceDirectory,
		OutputDir:   cfg.OutputDirectory,
		Extensions:  cfg.SupportedExtensions,
		Workers:     cfg.Processing.Workers,
		DryRun:      dryRun,
		Force:       force,
		RetryFailed: cfg.Processing.RetryFailed,
	}, log, hasher.New(), store, writer, all...), nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}
	logger.ApplyVerbosity(&loggerCfg, verbose, quiet)

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
		log.Warnf("Falling back to default logger: %v", err)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
