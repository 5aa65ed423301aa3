package filters

import (
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/safe"
)

const (
	SkeletonizeName        = "skeletonize"
	SkeletonizeDescription = "Reduces binary objects to 1 pixel wide representations (skeleton), optionally pruning short branches. Images get converted to binary if necessary."
)

// NewSkeletonize thins binary objects to one pixel wide lines. With Prune set,
// barbs shorter than Size are removed, using the binary input as mask.
func NewSkeletonize(opts SkeletonizeOptions, deps Dependencies) (*MorphologicalFilter, error) {
	if err := atLeastOne(SkeletonizeName, "size", opts.Size); err != nil {
		return nil, err
	}

	s, err := opts.settings(SkeletonizeName)
	if err != nil {
		return nil, err
	}

	transform := func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
		skeleton, err := ops.Skeletonize(src)
		if err != nil || !opts.Prune {
			return skeleton, err
		}
		defer skeleton.Close()
		return ops.Prune(skeleton, src, opts.Size)
	}

	return newMorphological(definition{
		name:        SkeletonizeName,
		description: SkeletonizeDescription,
		required:    FormatBinary,
		transform:   transform,
		params:      map[string]interface{}{"prune": opts.Prune, "size": opts.Size},
	}, s, deps)
}
