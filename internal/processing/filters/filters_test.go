package filters

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"morpho-filters/internal/logger"
	"morpho-filters/internal/models"
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/conversion"
	"morpho-filters/internal/opencv/memory"
	"morpho-filters/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op       string
	channels int
	max      float32
}

// recordingOps runs the real OpenCV operations and remembers what each one saw.
type recordingOps struct {
	*morphology.OpenCV
	mu    sync.Mutex
	calls []call
	// identitySkeleton makes Skeletonize return a copy of its input.
	identitySkeleton bool
}

func newRecordingOps() *recordingOps {
	return &recordingOps{OpenCV: morphology.NewOpenCV(logger.NewNop())}
}

func (r *recordingOps) note(op string, src *safe.Mat) {
	_, maxVal, _ := src.MinMax()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{op: op, channels: src.Channels(), max: maxVal})
}

func (r *recordingOps) seen() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func (r *recordingOps) Dilate(src *safe.Mat, k, it int) (*safe.Mat, error) {
	r.note("dilate", src)
	return r.OpenCV.Dilate(src, k, it)
}

func (r *recordingOps) Erode(src *safe.Mat, k, it int) (*safe.Mat, error) {
	r.note("erode", src)
	return r.OpenCV.Erode(src, k, it)
}

func (r *recordingOps) Fill(src *safe.Mat, size int) (*safe.Mat, error) {
	r.note("fill", src)
	return r.OpenCV.Fill(src, size)
}

func (r *recordingOps) FillHoles(src *safe.Mat) (*safe.Mat, error) {
	r.note("fill-holes", src)
	return r.OpenCV.FillHoles(src)
}

func (r *recordingOps) Skeletonize(src *safe.Mat) (*safe.Mat, error) {
	r.note("skeletonize", src)
	if r.identitySkeleton {
		return conversion.ToMask(src)
	}
	return r.OpenCV.Skeletonize(src)
}

func (r *recordingOps) FindTips(src *safe.Mat) (*safe.Mat, error) {
	r.note("find-tips", src)
	return r.OpenCV.FindTips(src)
}

func (r *recordingOps) FindBranchPoints(src *safe.Mat) (*safe.Mat, error) {
	r.note("find-branch-points", src)
	return r.OpenCV.FindBranchPoints(src)
}

func testDeps(t *testing.T, ops morphology.Operations) Dependencies {
	t.Helper()
	tracker := memory.NewTracker(0)
	t.Cleanup(func() {
		assert.Zero(t, tracker.ActiveMats(), "filters leaked Mats")
	})
	return Dependencies{Ops: ops, Logger: logger.NewNop(), Tracker: tracker}
}

// sketch draws '#' as 255 and '.' as 0 into a grayscale image.
func sketch(rows ...string) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, len(rows[0]), len(rows)))
	for y, row := range rows {
		for x, c := range row {
			if c == '#' {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func pngRecord(t *testing.T, name string, img image.Image) *models.Record {
	t.Helper()
	return &models.Record{
		Name:       name,
		Kind:       models.KindClassification,
		Format:     "png",
		Data:       encodePNG(t, img),
		Metadata:   models.Metadata{"source": name, "nested": map[string]interface{}{"day": 3}},
		Annotation: &models.Classification{Label: "leaf"},
	}
}

func colourSquare() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.NRGBA{A: 255}
			if x >= 2 && x < 6 && y >= 2 && y < 6 {
				c = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func decodeGray(t *testing.T, data []byte) []byte {
	t.Helper()
	m, err := conversion.Decode(data, nil)
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, 1, m.Channels())
	pix, err := m.Bytes()
	require.NoError(t, err)
	return pix
}

func countNonZero(pix []byte) int {
	n := 0
	for _, v := range pix {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestKernelSizeOneIsIdentity(t *testing.T) {
	ops := newRecordingOps()
	for _, ctor := range []func(KernelOptions, Dependencies) (*MorphologicalFilter, error){NewDilate, NewErode} {
		opts := DefaultKernelOptions()
		opts.KernelSize = 1
		f, err := ctor(opts, testDeps(t, ops))
		require.NoError(t, err)

		in := []*models.Record{pngRecord(t, "a.png", colourSquare())}
		out, err := f.Process(context.Background(), in)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Same(t, in[0], out[0])
	}
	assert.Empty(t, ops.seen())
}

func TestBinaryFiltersReceiveZeroOne(t *testing.T) {
	ops := newRecordingOps()
	deps := testDeps(t, ops)

	fill, err := NewFill(DefaultFillOptions(), deps)
	require.NoError(t, err)
	holes, err := NewFillHoles(DefaultCommonOptions(), deps)
	require.NoError(t, err)
	skel, err := NewSkeletonize(DefaultSkeletonizeOptions(), deps)
	require.NoError(t, err)
	tips, err := NewFindTips(DefaultLocatorOptions(), deps)
	require.NoError(t, err)
	branches, err := NewFindBranchPoints(DefaultLocatorOptions(), deps)
	require.NoError(t, err)

	for _, f := range []Filter{fill, holes, skel, tips, branches} {
		_, err := f.Process(context.Background(), []*models.Record{pngRecord(t, "c.png", colourSquare())})
		require.NoError(t, err, f.Name())
	}

	calls := ops.seen()
	require.Len(t, calls, 5)
	for _, c := range calls {
		assert.Equal(t, 1, c.channels, c.op)
		assert.EqualValues(t, 1, c.max, c.op)
	}
}

func TestGrayscaleFiltersReceiveOneChannel(t *testing.T) {
	ops := newRecordingOps()
	f, err := NewErode(DefaultKernelOptions(), testDeps(t, ops))
	require.NoError(t, err)

	_, err = f.Process(context.Background(), []*models.Record{pngRecord(t, "c.png", colourSquare())})
	require.NoError(t, err)

	calls := ops.seen()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].channels)
	assert.EqualValues(t, 255, calls[0].max)
}

func TestProcessKeepsCardinalityOrderKindAndMetadata(t *testing.T) {
	opts := DefaultKernelOptions()
	opts.Workers = 4
	f, err := NewDilate(opts, testDeps(t, newRecordingOps()))
	require.NoError(t, err)

	var in []*models.Record
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png", "f.png"} {
		rec := pngRecord(t, name, sketch("....", ".#..", "....", "...."))
		in = append(in, rec)
	}
	in[2].Kind = models.KindObjectDetection
	in[2].Annotation = &models.ObjectDetection{Objects: []models.LocatedObject{{X: 1, Y: 1, Width: 2, Height: 2}}}

	out, err := f.Process(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	for i := range in {
		assert.Equal(t, in[i].Name, out[i].Name)
		assert.Equal(t, in[i].Kind, out[i].Kind)
		assert.Equal(t, in[i].Format, out[i].Format)
		assert.Equal(t, in[i].Metadata, out[i].Metadata)
		assert.Equal(t, in[i].Annotation, out[i].Annotation)
		assert.Equal(t, 9, countNonZero(decodeGray(t, out[i].Data)))
	}

	out[0].Metadata["nested"].(map[string]interface{})["day"] = 4
	assert.Equal(t, 3, in[0].Metadata["nested"].(map[string]interface{})["day"])
}

func TestSkeletonizePruneRemovesShortBranch(t *testing.T) {
	rows := []string{
		"......................",
		"..........#...........",
		"..........#...........",
		"..........#...........",
		"..####################",
		"......................",
	}

	run := func(prune bool) []byte {
		ops := newRecordingOps()
		ops.identitySkeleton = true
		opts := DefaultSkeletonizeOptions()
		opts.Prune = prune
		opts.Size = 5
		f, err := NewSkeletonize(opts, testDeps(t, ops))
		require.NoError(t, err)

		out, err := f.Process(context.Background(), []*models.Record{pngRecord(t, "s.png", sketch(rows...))})
		require.NoError(t, err)
		return decodeGray(t, out[0].Data)
	}

	width := len(rows[0])
	pruned := run(true)
	kept := run(false)

	for y := 1; y <= 3; y++ {
		assert.Zero(t, pruned[y*width+10], "pruned barb row %d", y)
		assert.EqualValues(t, 255, kept[y*width+10], "kept barb row %d", y)
	}
	assert.Equal(t, 20, countNonZero(pruned))
	assert.Equal(t, 23, countNonZero(kept))
}

func TestLocatorWithNoMatchesGivesEmptyDetections(t *testing.T) {
	f, err := NewFindTips(DefaultLocatorOptions(), testDeps(t, newRecordingOps()))
	require.NoError(t, err)

	in := pngRecord(t, "empty.png", image.NewGray(image.Rect(0, 0, 6, 6)))
	out, err := f.Process(context.Background(), []*models.Record{in})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, models.KindObjectDetection, out[0].Kind)
	assert.Equal(t, in.Data, out[0].Data)
	assert.Equal(t, in.Metadata, out[0].Metadata)
	det, ok := out[0].Annotation.(*models.ObjectDetection)
	require.True(t, ok)
	assert.NotNil(t, det.Objects)
	assert.Empty(t, det.Objects)
}

func TestLocatorsEmitRowMajorPoints(t *testing.T) {
	deps := testDeps(t, newRecordingOps())
	img := sketch(
		"...#...",
		"...#...",
		"#######",
	)

	tips, err := NewFindTips(DefaultLocatorOptions(), deps)
	require.NoError(t, err)
	out, err := tips.Process(context.Background(), []*models.Record{pngRecord(t, "t.png", img)})
	require.NoError(t, err)

	det := out[0].Annotation.(*models.ObjectDetection)
	require.Len(t, det.Objects, 3)
	assert.Equal(t, []image.Point{{3, 0}, {0, 2}, {6, 2}}, []image.Point{
		{det.Objects[0].X, det.Objects[0].Y},
		{det.Objects[1].X, det.Objects[1].Y},
		{det.Objects[2].X, det.Objects[2].Y},
	})
	for _, o := range det.Objects {
		assert.Equal(t, 1, o.Width)
		assert.Equal(t, 1, o.Height)
		assert.Equal(t, "tip", o.Metadata[MetaType])
	}

	branches, err := NewFindBranchPoints(DefaultLocatorOptions(), deps)
	require.NoError(t, err)
	out, err = branches.Process(context.Background(), []*models.Record{pngRecord(t, "t.png", img)})
	require.NoError(t, err)

	det = out[0].Annotation.(*models.ObjectDetection)
	require.Len(t, det.Objects, 1)
	assert.Equal(t, models.LocatedObject{X: 3, Y: 2, Width: 1, Height: 1,
		Metadata: models.Metadata{MetaType: "branch"}}, det.Objects[0])
}

func TestApplyToAnnotationsWithoutSegmentationKeepsImageBytes(t *testing.T) {
	ops := newRecordingOps()
	opts := DefaultKernelOptions()
	opts.ApplyTo = string(ApplyToAnnotations)
	f, err := NewDilate(opts, testDeps(t, ops))
	require.NoError(t, err)

	in := pngRecord(t, "a.png", colourSquare())
	out, err := f.Process(context.Background(), []*models.Record{in})
	require.NoError(t, err)

	assert.Equal(t, in.Data, out[0].Data)
	assert.Empty(t, ops.seen())
}

func TestApplyToAnnotationsTransformsLayers(t *testing.T) {
	opts := DefaultKernelOptions()
	opts.ApplyTo = string(ApplyToAnnotations)
	f, err := NewDilate(opts, testDeps(t, newRecordingOps()))
	require.NoError(t, err)

	dot := sketch(".....", ".....", "..#..", ".....", ".....")
	in := pngRecord(t, "seg.png", colourSquare())
	in.Kind = models.KindSegmentation
	in.Annotation = &models.Segmentation{Layers: []models.Layer{
		{Label: "leaf", Mask: dot},
		{Label: "stem", Mask: image.NewGray(dot.Rect)},
	}}

	out, err := f.Process(context.Background(), []*models.Record{in})
	require.NoError(t, err)

	assert.Equal(t, in.Data, out[0].Data)
	seg, ok := out[0].Segmentation()
	require.True(t, ok)
	assert.Equal(t, []string{"leaf", "stem"}, seg.Labels())
	assert.Equal(t, 9, countNonZero(seg.Layers[0].Mask.Pix))
	assert.Zero(t, countNonZero(seg.Layers[1].Mask.Pix))

	// input layer untouched
	assert.Equal(t, 1, countNonZero(dot.Pix))
}

func TestApplyToBothWithFill(t *testing.T) {
	opts := DefaultFillOptions()
	opts.ApplyTo = string(ApplyToBoth)
	opts.Size = 2
	f, err := NewFill(opts, testDeps(t, newRecordingOps()))
	require.NoError(t, err)

	img := sketch(
		"#.....",
		"......",
		"...##.",
		"...##.",
	)
	in := pngRecord(t, "f.png", img)
	in.Kind = models.KindSegmentation
	in.Annotation = &models.Segmentation{Layers: []models.Layer{{Label: "obj", Mask: img}}}

	out, err := f.Process(context.Background(), []*models.Record{in})
	require.NoError(t, err)

	assert.Equal(t, 4, countNonZero(decodeGray(t, out[0].Data)))
	seg, _ := out[0].Segmentation()
	assert.Equal(t, 4, countNonZero(seg.Layers[0].Mask.Pix))
}

func TestOutputFormats(t *testing.T) {
	cases := map[OutputFormat]int{
		OutputAsIs:      1,
		OutputGrayscale: 1,
		OutputBinary:    1,
		OutputRGB:       3,
	}
	for format, channels := range cases {
		opts := DefaultKernelOptions()
		opts.OutputFormat = string(format)
		f, err := NewDilate(opts, testDeps(t, newRecordingOps()))
		require.NoError(t, err)

		out, err := f.Process(context.Background(), []*models.Record{pngRecord(t, "o.png", sketch("....", ".#..", "...."))})
		require.NoError(t, err)

		m, err := conversion.Decode(out[0].Data, nil)
		require.NoError(t, err)
		assert.Equal(t, channels, m.Channels(), string(format))
		m.Close()
	}
}

func TestIncorrectFormatActions(t *testing.T) {
	deps := testDeps(t, newRecordingOps())

	opts := DefaultFillOptions()
	opts.IncorrectFormatAction = string(ActionFail)
	failing, err := NewFill(opts, deps)
	require.NoError(t, err)
	_, err = failing.Process(context.Background(), []*models.Record{pngRecord(t, "c.png", colourSquare())})
	assert.ErrorIs(t, err, ErrIncorrectFormat)
	assert.Contains(t, err.Error(), "c.png")

	opts.IncorrectFormatAction = string(ActionSkip)
	skipping, err := NewFill(opts, deps)
	require.NoError(t, err)
	in := pngRecord(t, "c.png", colourSquare())
	out, err := skipping.Process(context.Background(), []*models.Record{in})
	require.NoError(t, err)
	assert.Same(t, in, out[0])

	opts.IncorrectFormatAction = string(ActionWarn)
	warning, err := NewFill(opts, deps)
	require.NoError(t, err)
	out, err = warning.Process(context.Background(), []*models.Record{pngRecord(t, "c.png", colourSquare())})
	require.NoError(t, err)
	assert.Equal(t, 16, countNonZero(decodeGray(t, out[0].Data)))
}

func TestLocatorIncorrectFormatActions(t *testing.T) {
	ops := newRecordingOps()
	deps := testDeps(t, ops)

	opts := DefaultLocatorOptions()
	opts.IncorrectFormatAction = string(ActionFail)
	failing, err := NewFindTips(opts, deps)
	require.NoError(t, err)
	_, err = failing.Process(context.Background(), []*models.Record{pngRecord(t, "c.png", colourSquare())})
	assert.ErrorIs(t, err, ErrIncorrectFormat)
	assert.Contains(t, err.Error(), "c.png")

	opts.IncorrectFormatAction = string(ActionSkip)
	skipping, err := NewFindBranchPoints(opts, deps)
	require.NoError(t, err)
	in := pngRecord(t, "c.png", colourSquare())
	out, err := skipping.Process(context.Background(), []*models.Record{in})
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, models.KindObjectDetection, out[0].Kind)
	assert.Equal(t, in.Data, out[0].Data)
	assert.Equal(t, in.Metadata, out[0].Metadata)
	det, ok := out[0].Annotation.(*models.ObjectDetection)
	require.True(t, ok)
	assert.NotNil(t, det.Objects)
	assert.Empty(t, det.Objects)
	assert.Empty(t, ops.seen())
}

func TestProcessErrorNamesRecord(t *testing.T) {
	f, err := NewDilate(DefaultKernelOptions(), testDeps(t, newRecordingOps()))
	require.NoError(t, err)

	bad := &models.Record{Name: "broken.png", Kind: models.KindClassification, Format: "png", Data: []byte("nope")}
	_, err = f.Process(context.Background(), []*models.Record{pngRecord(t, "ok.png", colourSquare()), bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.png")
}

func TestProcessHonoursCancelledContext(t *testing.T) {
	f, err := NewDilate(DefaultKernelOptions(), testDeps(t, newRecordingOps()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Process(ctx, []*models.Record{pngRecord(t, "a.png", colourSquare())})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConstructorsValidateEagerly(t *testing.T) {
	deps := Dependencies{Ops: newRecordingOps()}

	kernel := DefaultKernelOptions()
	kernel.KernelSize = 0
	_, err := NewDilate(kernel, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	kernel = DefaultKernelOptions()
	kernel.NumIterations = 0
	_, err = NewErode(kernel, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	fill := DefaultFillOptions()
	fill.Size = 0
	_, err = NewFill(fill, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	skel := DefaultSkeletonizeOptions()
	skel.Prune = true
	skel.Size = 0
	_, err = NewSkeletonize(skel, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	common := DefaultCommonOptions()
	common.ApplyTo = "everything"
	_, err = NewFillHoles(common, deps)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "apply_to", cfgErr.Field)

	locator := DefaultLocatorOptions()
	locator.Workers = 0
	_, err = NewFindTips(locator, deps)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewFillHoles(DefaultCommonOptions(), Dependencies{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestUnsupportedRequiredFormat(t *testing.T) {
	s, err := DefaultCommonOptions().settings("odd")
	require.NoError(t, err)

	_, err = newMorphological(definition{name: "odd", required: Format("rgb")}, s, Dependencies{Ops: newRecordingOps()})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Filter: "fill", Field: "size", Value: 0, Reason: "must be at least 1"}
	assert.Equal(t, "fill: size=0: must be at least 1", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
