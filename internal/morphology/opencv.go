package morphology

import (
	"fmt"
	"image"
	"image/color"

	"morpho-filters/internal/logger"
	"morpho-filters/internal/opencv/conversion"
	"morpho-filters/internal/opencv/safe"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// OpenCV implements Operations with gocv. Pruning walks the skeleton graph on
// the raw pixel buffer.
type OpenCV struct {
	logger logger.Logger
}

var _ Operations = (*OpenCV)(nil)

func NewOpenCV(log logger.Logger) *OpenCV {
	if log == nil {
		log = logger.NewNop()
	}
	return &OpenCV{logger: log}
}

func (o *OpenCV) Dilate(src *safe.Mat, kernelSize, iterations int) (*safe.Mat, error) {
	return o.morph(src, kernelSize, iterations, "dilate", gocv.Dilate)
}

func (o *OpenCV) Erode(src *safe.Mat, kernelSize, iterations int) (*safe.Mat, error) {
	return o.morph(src, kernelSize, iterations, "erode", gocv.Erode)
}

func (o *OpenCV) morph(src *safe.Mat, kernelSize, iterations int, name string, apply func(gocv.Mat, *gocv.Mat, gocv.Mat) error) (*safe.Mat, error) {
	if err := safe.ValidateSingleChannel(src, name); err != nil {
		return nil, err
	}
	if kernelSize < 1 || iterations < 1 {
		return nil, fmt.Errorf("%s: kernel size %d and iterations %d must be at least 1", name, kernelSize, iterations)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	output := gocv.NewMat()
	if err := apply(src.GetMat(), &output, kernel); err != nil {
		output.Close()
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}

	for i := 1; i < iterations; i++ {
		temp := gocv.NewMat()
		err := apply(output, &temp, kernel)
		output.Close()
		if err != nil {
			temp.Close()
			return nil, fmt.Errorf("%s iteration %d failed: %w", name, i+1, err)
		}
		output = temp
	}

	return src.Derive(output, name)
}

func (o *OpenCV) Fill(src *safe.Mat, size int) (*safe.Mat, error) {
	if size < 1 {
		return nil, fmt.Errorf("fill: size %d must be at least 1", size)
	}

	mask, err := o.mask(src, "fill")
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	keep := func(s componentStats) bool { return s.area >= size }
	out, removed, err := relabel(mask.GetMat(), keep, 4)
	if err != nil {
		return nil, fmt.Errorf("fill: %w", err)
	}

	o.logger.Debug("Morphology", "fill removed small objects", map[string]interface{}{
		"removed": removed,
		"size":    size,
	})

	return safe.NewMatFromBytesWithTracker(src.Rows(), src.Cols(), gocv.MatTypeCV8UC1, out, src.Tracker(), "fill")
}

func (o *OpenCV) FillHoles(src *safe.Mat) (*safe.Mat, error) {
	mask, err := o.mask(src, "fill holes")
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	inverted := gocv.NewMat()
	defer inverted.Close()
	if err := gocv.BitwiseNot(mask.GetMat(), &inverted); err != nil {
		return nil, fmt.Errorf("fill holes: inverting mask: %w", err)
	}

	rows, cols := src.Rows(), src.Cols()
	touchesBorder := func(s componentStats) bool {
		return s.left == 0 || s.top == 0 || s.left+s.width == cols || s.top+s.height == rows
	}

	// background components that reach the border stay background; the rest are holes
	background, holes, err := relabel(inverted, touchesBorder, 4)
	if err != nil {
		return nil, fmt.Errorf("fill holes: %w", err)
	}

	out := make([]byte, len(background))
	for i, v := range background {
		if v == 0 {
			out[i] = 255
		}
	}

	o.logger.Debug("Morphology", "filled holes", map[string]interface{}{"holes": holes})

	return safe.NewMatFromBytesWithTracker(rows, cols, gocv.MatTypeCV8UC1, out, src.Tracker(), "fill_holes")
}

func (o *OpenCV) Skeletonize(src *safe.Mat) (*safe.Mat, error) {
	mask, err := o.mask(src, "skeletonize")
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	dst := gocv.NewMat()
	if err := contrib.Thinning(mask.GetMat(), &dst, contrib.ThinningZhangSuen); err != nil {
		dst.Close()
		return nil, fmt.Errorf("skeletonize failed: %w", err)
	}

	return src.Derive(dst, "skeleton")
}

func (o *OpenCV) Prune(skeleton, mask *safe.Mat, size int) (*safe.Mat, error) {
	if size < 1 {
		return nil, fmt.Errorf("prune: size %d must be at least 1", size)
	}

	g, err := toGrid(skeleton, "prune")
	if err != nil {
		return nil, err
	}

	out := prune(g, size)

	if mask != nil {
		if err := safe.ValidateSameSize(skeleton, mask, "prune"); err != nil {
			return nil, err
		}
		m, err := toGrid(mask, "prune mask")
		if err != nil {
			return nil, err
		}
		for i := range out {
			if m.pix[i] == 0 {
				out[i] = 0
			}
		}
	}

	return safe.NewMatFromBytesWithTracker(g.h, g.w, gocv.MatTypeCV8UC1, out, skeleton.Tracker(), "pruned")
}

func (o *OpenCV) FindBranchPoints(skeleton *safe.Mat) (*safe.Mat, error) {
	return o.hitMiss(skeleton, branchTemplates, "branch_points")
}

func (o *OpenCV) FindTips(skeleton *safe.Mat) (*safe.Mat, error) {
	return o.hitMiss(skeleton, tipTemplates, "tips")
}

// hitMiss marks the pixels whose 3x3 neighbourhood matches any of templates.
// Pixels outside the image count as background.
func (o *OpenCV) hitMiss(src *safe.Mat, templates []template, tag string) (*safe.Mat, error) {
	mask, err := o.mask(src, tag)
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	padded := gocv.NewMat()
	defer padded.Close()
	if err := gocv.CopyMakeBorder(mask.GetMat(), &padded, 1, 1, 1, 1, gocv.BorderConstant, color.RGBA{}); err != nil {
		return nil, fmt.Errorf("%s: padding: %w", tag, err)
	}

	hits := gocv.Zeros(padded.Rows(), padded.Cols(), gocv.MatTypeCV8UC1)
	defer hits.Close()

	for _, t := range templates {
		kernel := t.kernel()
		matched := gocv.NewMat()
		err := gocv.MorphologyEx(padded, &matched, gocv.MorphHitmiss, kernel)
		kernel.Close()
		if err == nil {
			err = gocv.BitwiseOr(hits, matched, &hits)
		}
		matched.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: hit-or-miss: %w", tag, err)
		}
	}

	region := hits.Region(image.Rect(1, 1, mask.Cols()+1, mask.Rows()+1))
	defer region.Close()

	return src.Derive(region.Clone(), tag)
}

// mask normalises a binary input, whether {0,1} or {0,255}, to 0/255.
func (o *OpenCV) mask(src *safe.Mat, operation string) (*safe.Mat, error) {
	if err := safe.ValidateSingleChannel(src, operation); err != nil {
		return nil, err
	}
	return conversion.ToMask(src)
}

func toGrid(src *safe.Mat, operation string) (grid, error) {
	if err := safe.ValidateSingleChannel(src, operation); err != nil {
		return grid{}, err
	}
	pix, err := src.Bytes()
	if err != nil {
		return grid{}, err
	}
	return grid{w: src.Cols(), h: src.Rows(), pix: pix}, nil
}

type componentStats struct {
	left, top, width, height, area int
}

// relabel labels the connected components of a 0/255 mask and returns a 0/255
// buffer holding only the components keep accepts, plus how many were dropped.
func relabel(mask gocv.Mat, keep func(componentStats) bool, connectivity int) ([]byte, int, error) {
	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStatsWithParams(mask, &labels, &stats, &centroids,
		connectivity, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	// label 0 is the background
	kept := make([]bool, n)
	dropped := 0
	for i := 1; i < n; i++ {
		s := componentStats{
			left:   int(stats.GetIntAt(i, int(gocv.CC_STAT_LEFT))),
			top:    int(stats.GetIntAt(i, int(gocv.CC_STAT_TOP))),
			width:  int(stats.GetIntAt(i, int(gocv.CC_STAT_WIDTH))),
			height: int(stats.GetIntAt(i, int(gocv.CC_STAT_HEIGHT))),
			area:   int(stats.GetIntAt(i, int(gocv.CC_STAT_AREA))),
		}
		kept[i] = keep(s)
		if !kept[i] {
			dropped++
		}
	}

	ids, err := labels.DataPtrInt32()
	if err != nil {
		return nil, 0, fmt.Errorf("reading labels: %w", err)
	}

	out := make([]byte, len(ids))
	for i, id := range ids {
		if id > 0 && int(id) < n && kept[id] {
			out[i] = 255
		}
	}
	return out, dropped, nil
}
