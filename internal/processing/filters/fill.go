package filters

import (
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/safe"
)

const (
	FillName      = "fill"
	FillHolesName = "fill-holes"

	FillDescription      = "Removes objects below the specified size from binary images. Images get converted to binary if necessary."
	FillHolesDescription = "Fills holes in binary objects. Images get converted to binary if necessary."
)

// NewFill removes foreground objects smaller than opts.Size pixels.
func NewFill(opts FillOptions, deps Dependencies) (*MorphologicalFilter, error) {
	if err := atLeastOne(FillName, "size", opts.Size); err != nil {
		return nil, err
	}

	s, err := opts.settings(FillName)
	if err != nil {
		return nil, err
	}

	return newMorphological(definition{
		name:        FillName,
		description: FillDescription,
		required:    FormatBinary,
		transform: func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
			return ops.Fill(src, opts.Size)
		},
		params: map[string]interface{}{"size": opts.Size},
	}, s, deps)
}

// NewFillHoles fills background regions enclosed by foreground.
func NewFillHoles(opts CommonOptions, deps Dependencies) (*MorphologicalFilter, error) {
	s, err := opts.settings(FillHolesName)
	if err != nil {
		return nil, err
	}

	return newMorphological(definition{
		name:        FillHolesName,
		description: FillHolesDescription,
		required:    FormatBinary,
		transform: func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
			return ops.FillHoles(src)
		},
	}, s, deps)
}
