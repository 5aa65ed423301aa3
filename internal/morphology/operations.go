// Package morphology holds the pixel-level operations the filters delegate to.
//
// Every operation takes a single channel 8-bit Mat and returns a new Mat owned by
// the caller; inputs are never modified. Binary operations treat any nonzero sample
// as foreground and produce 0/255 masks. Dilate and Erode keep grey levels.
package morphology

import (
	"morpho-filters/internal/opencv/safe"
)

type Operations interface {
	// Dilate grows bright regions with a kernelSize x kernelSize square, iterations times.
	Dilate(src *safe.Mat, kernelSize, iterations int) (*safe.Mat, error)
	// Erode shrinks bright regions with a kernelSize x kernelSize square, iterations times.
	Erode(src *safe.Mat, kernelSize, iterations int) (*safe.Mat, error)
	// Fill removes 4-connected foreground objects with fewer than size pixels.
	Fill(src *safe.Mat, size int) (*safe.Mat, error)
	// FillHoles sets every background region not connected to the border.
	FillHoles(src *safe.Mat) (*safe.Mat, error)
	// Skeletonize thins foreground objects to one pixel wide lines.
	Skeletonize(src *safe.Mat) (*safe.Mat, error)
	// Prune removes barbs shorter than size pixels from a skeleton. A non-nil mask
	// restricts the result to the mask's foreground.
	Prune(skeleton, mask *safe.Mat, size int) (*safe.Mat, error)
	// FindBranchPoints marks skeleton pixels where three or more lines meet.
	FindBranchPoints(skeleton *safe.Mat) (*safe.Mat, error)
	// FindTips marks skeleton pixels that end a line.
	FindTips(skeleton *safe.Mat) (*safe.Mat, error)
}
