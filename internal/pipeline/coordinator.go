package pipeline

import (
	"context"
	"fmt"
	"time"

	"morpho-filters/internal/debug/timing"
	"morpho-filters/internal/logger"
	"morpho-filters/internal/opencv/memory"
	"morpho-filters/internal/processing/chain"

	"github.com/samber/lo"
)

// Result summarises one Run.
type Result struct {
	Records  int
	Batches  int
	Duration time.Duration
}

// Coordinator loads a dataset in batches, pushes every batch through the chain
// and writes the results.
type Coordinator struct {
	chain     *chain.ProcessingChain
	loader    *Loader
	saver     *Saver
	memory    *memory.Tracker
	timing    *timing.Tracker
	logger    logger.Logger
	batchSize int
}

type CoordinatorConfig struct {
	Chain     *chain.ProcessingChain
	Loader    *Loader
	Saver     *Saver
	Memory    *memory.Tracker
	Timing    *timing.Tracker
	Logger    logger.Logger
	BatchSize int
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("coordinator needs a processing chain")
	}
	if err := cfg.Chain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter chain: %w", err)
	}

	c := &Coordinator{
		chain:     cfg.Chain,
		loader:    cfg.Loader,
		saver:     cfg.Saver,
		memory:    cfg.Memory,
		timing:    cfg.Timing,
		logger:    cfg.Logger,
		batchSize: cfg.BatchSize,
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	if c.timing == nil {
		c.timing = timing.NewTracker()
	}
	if c.loader == nil {
		c.loader = NewLoader(c.logger, c.timing)
	}
	if c.saver == nil {
		c.saver = NewSaver(c.logger, c.timing)
	}
	return c, nil
}

// Run processes every image in input and writes the results to output. Batches
// run one after another; a cancelled context stops before the next batch.
func (c *Coordinator) Run(ctx context.Context, input, output string) (Result, error) {
	start := time.Now()
	var result Result

	paths, err := c.loader.List(input)
	if err != nil {
		return result, err
	}
	if len(paths) == 0 {
		c.logger.Warning("Coordinator", "no images found", map[string]interface{}{"input": input})
		return result, nil
	}

	size := c.batchSize
	if size < 1 {
		size = len(paths)
	}

	c.logger.Info("Coordinator", "processing dataset", map[string]interface{}{
		"images":  len(paths),
		"filters": c.chain.GetStepNames(),
		"batch":   size,
	})

	for i, batch := range lo.Chunk(paths, size) {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records, err := c.loader.Load(ctx, batch)
		if err != nil {
			return result, fmt.Errorf("batch %d: %w", i, err)
		}

		processed, err := c.chain.Execute(ctx, records)
		if err != nil {
			return result, fmt.Errorf("batch %d: %w", i, err)
		}

		if err := c.saver.Save(ctx, output, processed); err != nil {
			return result, fmt.Errorf("batch %d: %w", i, err)
		}

		result.Batches++
		result.Records += len(processed)

		c.logger.Debug("Coordinator", "batch done", map[string]interface{}{
			"batch":   i,
			"records": len(processed),
		})
	}

	result.Duration = time.Since(start)
	c.report(result)
	return result, nil
}

func (c *Coordinator) report(result Result) {
	for _, s := range c.timing.Summaries() {
		c.logger.Debug("Coordinator", "timing", map[string]interface{}{
			"operation": s.Operation,
			"count":     s.Count,
			"average":   s.Average.String(),
			"max":       s.Max.String(),
		})
	}

	if c.memory != nil {
		c.memory.Report(c.logger)
	}

	c.logger.Info("Coordinator", "dataset processed", map[string]interface{}{
		"records":  result.Records,
		"batches":  result.Batches,
		"duration": result.Duration.String(),
	})
}
