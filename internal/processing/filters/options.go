package filters

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/samber/lo"
)

// CommonOptions are understood by every image and annotation filter.
type CommonOptions struct {
	ApplyTo               string `json:"apply_to"`
	OutputFormat          string `json:"output_format"`
	IncorrectFormatAction string `json:"incorrect_format_action"`
	Workers               int    `json:"workers"`
}

type KernelOptions struct {
	CommonOptions
	KernelSize    int `json:"kernel_size"`
	NumIterations int `json:"num_iterations"`
}

type FillOptions struct {
	CommonOptions
	Size int `json:"size"`
}

type SkeletonizeOptions struct {
	CommonOptions
	Prune bool `json:"prune"`
	Size  int  `json:"size"`
}

// LocatorOptions configure the branch point and tip detectors, which always read
// the image and replace the annotation.
type LocatorOptions struct {
	IncorrectFormatAction string `json:"incorrect_format_action"`
	Workers               int    `json:"workers"`
}

const (
	DefaultKernelSize    = 3
	DefaultNumIterations = 1
	DefaultFillSize      = 1
	DefaultPruneSize     = 10
)

func DefaultCommonOptions() CommonOptions {
	return CommonOptions{
		ApplyTo:               string(ApplyToImage),
		OutputFormat:          string(OutputAsIs),
		IncorrectFormatAction: string(ActionConvert),
		Workers:               1,
	}
}

func DefaultKernelOptions() KernelOptions {
	return KernelOptions{
		CommonOptions: DefaultCommonOptions(),
		KernelSize:    DefaultKernelSize,
		NumIterations: DefaultNumIterations,
	}
}

func DefaultFillOptions() FillOptions {
	return FillOptions{CommonOptions: DefaultCommonOptions(), Size: DefaultFillSize}
}

func DefaultSkeletonizeOptions() SkeletonizeOptions {
	return SkeletonizeOptions{CommonOptions: DefaultCommonOptions(), Size: DefaultPruneSize}
}

func DefaultLocatorOptions() LocatorOptions {
	return LocatorOptions{IncorrectFormatAction: string(ActionConvert), Workers: 1}
}

// decodeOptions overlays raw onto out, which must already hold the defaults.
// Unknown keys are rejected; "3" decodes into an int.
func decodeOptions(filter string, raw map[string]interface{}, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Squash:           true,
	})
	if err != nil {
		return fmt.Errorf("creating option decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return &ConfigError{Filter: filter, Field: "options", Reason: err.Error()}
	}
	return nil
}

// settings is the validated form of CommonOptions.
type settings struct {
	applyTo      ApplyTo
	outputFormat OutputFormat
	action       IncorrectFormatAction
	workers      int
}

func (o CommonOptions) settings(filter string) (settings, error) {
	s := settings{
		applyTo:      ApplyTo(o.ApplyTo),
		outputFormat: OutputFormat(o.OutputFormat),
		action:       IncorrectFormatAction(o.IncorrectFormatAction),
		workers:      o.Workers,
	}

	if !lo.Contains(applyTos, s.applyTo) {
		return s, &ConfigError{Filter: filter, Field: "apply_to", Value: o.ApplyTo,
			Reason: fmt.Sprintf("must be one of %v", applyTos)}
	}
	if !lo.Contains(outputFormats, s.outputFormat) {
		return s, &ConfigError{Filter: filter, Field: "output_format", Value: o.OutputFormat,
			Reason: fmt.Sprintf("must be one of %v", outputFormats)}
	}
	if err := validateAction(filter, o.IncorrectFormatAction); err != nil {
		return s, err
	}
	if err := atLeastOne(filter, "workers", o.Workers); err != nil {
		return s, err
	}
	return s, nil
}

func (o LocatorOptions) settings(filter string) (settings, error) {
	if err := validateAction(filter, o.IncorrectFormatAction); err != nil {
		return settings{}, err
	}
	if err := atLeastOne(filter, "workers", o.Workers); err != nil {
		return settings{}, err
	}
	return settings{
		applyTo:      ApplyToImage,
		outputFormat: OutputAsIs,
		action:       IncorrectFormatAction(o.IncorrectFormatAction),
		workers:      o.Workers,
	}, nil
}

func validateAction(filter, action string) error {
	if !lo.Contains(actions, IncorrectFormatAction(action)) {
		return &ConfigError{Filter: filter, Field: "incorrect_format_action", Value: action,
			Reason: fmt.Sprintf("must be one of %v", actions)}
	}
	return nil
}

func atLeastOne(filter, field string, value int) error {
	if value < 1 {
		return &ConfigError{Filter: filter, Field: field, Value: value, Reason: "must be at least 1"}
	}
	return nil
}
