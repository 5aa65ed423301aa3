package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"morpho-filters/internal/config"
	"morpho-filters/internal/debug/timing"
	"morpho-filters/internal/logger"
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/memory"
	"morpho-filters/internal/pipeline"
	"morpho-filters/internal/processing/chain"
	"morpho-filters/internal/processing/filters"
	"morpho-filters/internal/shutdown"
)

const (
	AppName    = "morpho-filters"
	AppVersion = "1.0.0"

	flagConfig   = "config"
	flagInput    = "input"
	flagOutput   = "output"
	flagLogLevel = "log-level"
	flagWorkers  = "workers"
	flagBatch    = "batch-size"
)

// Application holds everything one pipeline run needs.
type Application struct {
	config      *config.Config
	logger      logger.Logger
	memory      *memory.Tracker
	timing      *timing.Tracker
	coordinator *pipeline.Coordinator
	shutdown    *shutdown.Manager
}

func main() {
	app := &cli.App{
		Name:    AppName,
		Usage:   "run morphological filters over annotated image datasets",
		Version: AppVersion,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "process a dataset with the filters of a pipeline file",
				UsageText: AppName + " run --config pipeline.yaml [--input dir] [--output dir]",
				Flags: []cli.Flag{
					&cli.PathFlag{Name: flagConfig, Aliases: []string{"c"}, Required: true, Usage: "pipeline file (YAML)"},
					&cli.PathFlag{Name: flagInput, Aliases: []string{"i"}, Usage: "dataset directory, overrides the pipeline file"},
					&cli.PathFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "output directory, overrides the pipeline file"},
					&cli.StringFlag{Name: flagLogLevel, Usage: "debug, info, warn, error or disabled"},
					&cli.IntFlag{Name: flagWorkers, Usage: "default workers per filter"},
					&cli.IntFlag{Name: flagBatch, Usage: "records loaded per batch, 0 for all at once"},
				},
				Action: runAction,
			},
			{
				Name:   "list",
				Usage:  "list the available filters",
				Action: listAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.Path(flagConfig))
	if err != nil {
		return cli.Exit(err, 2)
	}
	applyOverrides(c, cfg)

	application, err := NewApplication(c.Context, cfg)
	if err != nil {
		return cli.Exit(err, 2)
	}

	if err := application.Run(); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func applyOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet(flagInput) {
		cfg.Input = c.Path(flagInput)
	}
	if c.IsSet(flagOutput) {
		cfg.Output = c.Path(flagOutput)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagBatch) {
		cfg.BatchSize = c.Int(flagBatch)
	}
}

// NewApplication validates cfg and wires the filters, chain and coordinator.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	registry := filters.DefaultRegistry()
	if err := cfg.Validate(registry); err != nil {
		return nil, fmt.Errorf("invalid pipeline file: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	appLogger := logger.NewConsoleLogger(level)

	memTracker := memory.NewTracker(cfg.MemoryLimit)
	timingTracker := timing.NewTracker()

	deps := filters.Dependencies{
		Ops:     morphology.NewOpenCV(appLogger),
		Logger:  appLogger,
		Tracker: memTracker,
	}

	steps, err := cfg.BuildFilters(registry, deps)
	if err != nil {
		return nil, err
	}

	coordinator, err := pipeline.NewCoordinator(pipeline.CoordinatorConfig{
		Chain:     chain.NewProcessingChain(steps, timingTracker, appLogger),
		Memory:    memTracker,
		Timing:    timingTracker,
		Logger:    appLogger,
		BatchSize: cfg.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	shutdownManager := shutdown.NewManager(ctx, appLogger)
	shutdownManager.Register("memory report", func() {
		if leaks := memTracker.DetectLeaks(0); len(leaks) > 0 {
			memTracker.Report(appLogger)
		}
	})

	appLogger.Info("Application", "pipeline ready", map[string]interface{}{
		"version":    AppVersion,
		"go_version": runtime.Version(),
		"filters":    len(steps),
		"input":      cfg.Input,
		"output":     cfg.Output,
	})

	return &Application{
		config:      cfg,
		logger:      appLogger,
		memory:      memTracker,
		timing:      timingTracker,
		coordinator: coordinator,
		shutdown:    shutdownManager,
	}, nil
}

func (app *Application) Run() error {
	app.shutdown.Listen()
	defer app.shutdown.Shutdown()

	result, err := app.coordinator.Run(app.shutdown.Context(), app.config.Input, app.config.Output)
	if err != nil {
		app.logger.Error("Application", err, map[string]interface{}{
			"records_written": result.Records,
		})
		return err
	}
	return nil
}

func listAction(c *cli.Context) error {
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, reg := range filters.DefaultRegistry().Registrations() {
		fmt.Fprintf(w, "%s\t%s\n", reg.Name, reg.Description)
	}
	return w.Flush()
}
