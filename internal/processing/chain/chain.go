package chain

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"morpho-filters/internal/debug/timing"
	"morpho-filters/internal/logger"
	"morpho-filters/internal/models"
	"morpho-filters/internal/processing/filters"
)

// ProcessingChain runs filters in order, each one receiving the records its
// predecessor produced.
type ProcessingChain struct {
	steps  []filters.Filter
	timing *timing.Tracker
	logger logger.Logger
}

func NewProcessingChain(steps []filters.Filter, tracker *timing.Tracker, log logger.Logger) *ProcessingChain {
	if tracker == nil {
		tracker = timing.NewTracker()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ProcessingChain{
		steps:  steps,
		timing: tracker,
		logger: log,
	}
}

// Validate checks that every filter accepts at least one kind its predecessor
// can generate.
func (pc *ProcessingChain) Validate() error {
	for i := 1; i < len(pc.steps); i++ {
		prev, next := pc.steps[i-1], pc.steps[i]
		if len(lo.Intersect(prev.Generates(), next.Accepts())) == 0 {
			return fmt.Errorf("step %d (%s) accepts %v but %s generates %v",
				i, next.Name(), next.Accepts(), prev.Name(), prev.Generates())
		}
	}
	return nil
}

// Execute passes records through every step. Input records are never modified.
func (pc *ProcessingChain) Execute(ctx context.Context, records []*models.Record) ([]*models.Record, error) {
	current := records

	for i, step := range pc.steps {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		stepCtx := pc.timing.StartTiming(ctx, step.Name())
		result, err := step.Process(stepCtx, current)
		elapsed := pc.timing.EndTiming(stepCtx)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s) failed: %w", i, step.Name(), err)
		}
		if len(result) != len(current) {
			return nil, fmt.Errorf("step %d (%s) returned %d records for %d", i, step.Name(), len(result), len(current))
		}

		pc.logger.Debug("ProcessingChain", "step completed", map[string]interface{}{
			"step":     step.Name(),
			"records":  len(result),
			"duration": elapsed.String(),
		})

		current = result
	}

	return current, nil
}

func (pc *ProcessingChain) AddStep(step filters.Filter) {
	pc.steps = append(pc.steps, step)
}

func (pc *ProcessingChain) InsertStep(index int, step filters.Filter) error {
	if index < 0 || index > len(pc.steps) {
		return fmt.Errorf("index out of range: %d", index)
	}

	pc.steps = append(pc.steps[:index], append([]filters.Filter{step}, pc.steps[index:]...)...)
	return nil
}

func (pc *ProcessingChain) RemoveStep(index int) error {
	if index < 0 || index >= len(pc.steps) {
		return fmt.Errorf("index out of range: %d", index)
	}

	pc.steps = append(pc.steps[:index], pc.steps[index+1:]...)
	return nil
}

func (pc *ProcessingChain) StepCount() int {
	return len(pc.steps)
}

func (pc *ProcessingChain) GetStepNames() []string {
	return lo.Map(pc.steps, func(step filters.Filter, _ int) string {
		return step.Name()
	})
}

// Timings summarises how long each filter took across all executions.
func (pc *ProcessingChain) Timings() []timing.Summary {
	return pc.timing.Summaries()
}
