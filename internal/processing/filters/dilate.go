package filters

import (
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/safe"
)

const (
	DilateName = "dilate"
	ErodeName  = "erode"

	DilateDescription = "Dilates grayscale images with a square kernel. Images get converted to grayscale if necessary."
	ErodeDescription  = "Erodes grayscale images with a square kernel. Images get converted to grayscale if necessary."
)

// NewDilate grows bright regions of grayscale images with a square kernel.
// A kernel size of 1 makes the filter return its input untouched.
func NewDilate(opts KernelOptions, deps Dependencies) (*MorphologicalFilter, error) {
	return newKernelFilter(DilateName, DilateDescription, opts, deps,
		func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
			return ops.Dilate(src, opts.KernelSize, opts.NumIterations)
		})
}

// NewErode shrinks bright regions of grayscale images with a square kernel.
func NewErode(opts KernelOptions, deps Dependencies) (*MorphologicalFilter, error) {
	return newKernelFilter(ErodeName, ErodeDescription, opts, deps,
		func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
			return ops.Erode(src, opts.KernelSize, opts.NumIterations)
		})
}

func newKernelFilter(name, description string, opts KernelOptions, deps Dependencies, transform Transform) (*MorphologicalFilter, error) {
	if err := atLeastOne(name, "kernel_size", opts.KernelSize); err != nil {
		return nil, err
	}
	if err := atLeastOne(name, "num_iterations", opts.NumIterations); err != nil {
		return nil, err
	}

	s, err := opts.settings(name)
	if err != nil {
		return nil, err
	}

	return newMorphological(definition{
		name:        name,
		description: description,
		required:    FormatGrayscale,
		transform:   transform,
		nothingToDo: opts.KernelSize == 1,
		params: map[string]interface{}{
			"kernel_size":    opts.KernelSize,
			"num_iterations": opts.NumIterations,
		},
	}, s, deps)
}
