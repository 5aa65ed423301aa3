package conversion

import (
	"fmt"
	"image"

	"morpho-filters/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// BinaryThreshold is the grey level at and above which a pixel counts as foreground
// when an image is forced to binary.
const BinaryThreshold = 128

// IsGrayscale reports whether src already has a single 8-bit channel.
func IsGrayscale(src *safe.Mat) bool {
	return src != nil && src.Type() == gocv.MatTypeCV8UC1
}

// IsBinary reports whether src is single channel with every sample in {0,1}.
func IsBinary(src *safe.Mat) (bool, error) {
	if !IsGrayscale(src) {
		return false, nil
	}

	_, maxVal, err := src.MinMax()
	if err != nil {
		return false, err
	}

	return maxVal <= 1, nil
}

// ToGrayscale converts any supported Mat into a single 8-bit channel. A source that
// already is one is cloned so the caller may always close the result.
func ToGrayscale(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "grayscale conversion"); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if is16BitType(src.Type()) {
		eight, err := ConvertMatType(src, eightBitOf(src.Type()))
		if err != nil {
			return nil, err
		}
		defer eight.Close()
		return ToGrayscale(eight)
	}

	if src.Channels() == 1 {
		return src.Clone()
	}

	var code gocv.ColorConversionCode
	switch src.Channels() {
	case 3:
		code = gocv.ColorBGRToGray
	case 4:
		code = gocv.ColorBGRAToGray
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}

	dst := gocv.NewMat()
	if err := gocv.CvtColor(src.GetMat(), &dst, code); err != nil {
		dst.Close()
		return nil, fmt.Errorf("grayscale conversion failed: %w", err)
	}

	return src.Derive(dst, "grayscale")
}

// ToBinary converts src to a single channel Mat holding only 0 and 1.
func ToBinary(src *safe.Mat) (*safe.Mat, error) {
	gray, err := ToGrayscale(src)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	dst := gocv.NewMat()
	gocv.Threshold(gray.GetMat(), &dst, BinaryThreshold-1, 1, gocv.ThresholdBinary)

	return gray.Derive(dst, "binary")
}

// ToMask maps every nonzero sample of a single channel Mat to 255.
func ToMask(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateSingleChannel(src, "mask conversion"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.Threshold(src.GetMat(), &dst, 0, 255, gocv.ThresholdBinary)

	return src.Derive(dst, "mask")
}

// ToBGR expands src to three channels.
func ToBGR(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "BGR conversion"); err != nil {
		return nil, err
	}

	var code gocv.ColorConversionCode
	switch src.Channels() {
	case 1:
		code = gocv.ColorGrayToBGR
	case 3:
		return src.Clone()
	case 4:
		code = gocv.ColorBGRAToBGR
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}

	dst := gocv.NewMat()
	if err := gocv.CvtColor(src.GetMat(), &dst, code); err != nil {
		dst.Close()
		return nil, fmt.Errorf("BGR conversion failed: %w", err)
	}

	return src.Derive(dst, "bgr")
}

// GrayToMat copies a Go grayscale image into a single channel Mat.
func GrayToMat(img *image.Gray, tracker safe.MemoryTracker) (*safe.Mat, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	pix := img.Pix
	if img.Stride != width || b.Min != (image.Point{}) {
		pix = make([]byte, 0, width*height)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			start := img.PixOffset(b.Min.X, y)
			pix = append(pix, img.Pix[start:start+width]...)
		}
	}

	return safe.NewMatFromBytesWithTracker(height, width, gocv.MatTypeCV8UC1, pix, tracker, "gray_image")
}

// MatToGray copies a single channel Mat into a Go grayscale image.
func MatToGray(src *safe.Mat) (*image.Gray, error) {
	if err := safe.ValidateSingleChannel(src, "Mat to image conversion"); err != nil {
		return nil, err
	}

	data, err := src.Bytes()
	if err != nil {
		return nil, err
	}

	return &image.Gray{
		Pix:    data,
		Stride: src.Cols(),
		Rect:   image.Rect(0, 0, src.Cols(), src.Rows()),
	}, nil
}
