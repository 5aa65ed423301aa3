package filters

import (
	"context"
	"errors"
	"fmt"

	"morpho-filters/internal/logger"
	"morpho-filters/internal/models"
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/memory"
	"morpho-filters/internal/opencv/safe"
)

// Filter is one pipeline stage. Process never mutates its input records; the
// returned slice has one record per input record, in input order.
type Filter interface {
	Name() string
	Description() string
	Accepts() []models.Kind
	Generates() []models.Kind
	Process(ctx context.Context, records []*models.Record) ([]*models.Record, error)
}

var (
	ErrInvalidConfig     = errors.New("invalid filter configuration")
	ErrUnsupportedFormat = errors.New("unsupported format requirement")
	ErrIncorrectFormat   = errors.New("incorrect image format")
)

// ConfigError names the offending option. It matches ErrInvalidConfig with errors.Is.
type ConfigError struct {
	Filter string
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	msg := e.Field
	if e.Value != nil {
		msg = fmt.Sprintf("%s=%v", e.Field, e.Value)
	}
	msg += ": " + e.Reason
	if e.Filter != "" {
		msg = e.Filter + ": " + msg
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Format is the pixel layout a filter needs before its operation runs.
type Format string

const (
	FormatAny       Format = "any"
	FormatBinary    Format = "binary"
	FormatGrayscale Format = "grayscale"
)

// ApplyTo selects which parts of a record a filter transforms.
type ApplyTo string

const (
	ApplyToImage       ApplyTo = "image"
	ApplyToAnnotations ApplyTo = "annotations"
	ApplyToBoth        ApplyTo = "both"
)

func (a ApplyTo) includesImage() bool {
	return a == ApplyToImage || a == ApplyToBoth
}

func (a ApplyTo) includesAnnotations() bool {
	return a == ApplyToAnnotations || a == ApplyToBoth
}

// OutputFormat converts a transformed image before it is re-encoded.
type OutputFormat string

const (
	OutputAsIs      OutputFormat = "as-is"
	OutputBinary    OutputFormat = "binary"
	OutputGrayscale OutputFormat = "grayscale"
	OutputRGB       OutputFormat = "rgb"
)

// IncorrectFormatAction decides what happens to an image that does not meet the
// filter's Format.
type IncorrectFormatAction string

const (
	ActionConvert IncorrectFormatAction = "convert"
	ActionWarn    IncorrectFormatAction = "warn"
	ActionSkip    IncorrectFormatAction = "skip"
	ActionFail    IncorrectFormatAction = "fail"
)

var (
	applyTos      = []ApplyTo{ApplyToImage, ApplyToAnnotations, ApplyToBoth}
	outputFormats = []OutputFormat{OutputAsIs, OutputBinary, OutputGrayscale, OutputRGB}
	actions       = []IncorrectFormatAction{ActionConvert, ActionWarn, ActionSkip, ActionFail}
)

// Dependencies are shared by every filter of a pipeline.
type Dependencies struct {
	Ops     morphology.Operations
	Logger  logger.Logger
	Tracker *memory.Tracker
}

func (d Dependencies) withDefaults() (Dependencies, error) {
	if d.Ops == nil {
		return d, fmt.Errorf("%w: no morphology operations configured", ErrInvalidConfig)
	}
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	return d, nil
}

// memTracker keeps a nil *memory.Tracker from turning into a non-nil interface.
func (d Dependencies) memTracker() safe.MemoryTracker {
	if d.Tracker == nil {
		return nil
	}
	return d.Tracker
}

func (d Dependencies) checkMemory() error {
	if d.Tracker == nil {
		return nil
	}
	return d.Tracker.CheckLimit()
}

var allKinds = models.AllKinds()
