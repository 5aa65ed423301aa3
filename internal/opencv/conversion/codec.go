package conversion

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"

	"morpho-filters/internal/opencv/safe"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SniffFormat reads just the header of an encoded image and reports its container
// format ("png", "jpeg", "gif", "bmp", "tiff" or "webp") and size.
func SniffFormat(data []byte) (string, image.Point, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", image.Point{}, fmt.Errorf("unrecognised image data: %w", err)
	}
	return format, image.Pt(cfg.Width, cfg.Height), nil
}

// Decode turns encoded image bytes into an 8-bit Mat, keeping the channel layout
// (1, 3 or 4 channels) of the source.
func Decode(data []byte, tracker safe.MemoryTracker) (*safe.Mat, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no image data")
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("decode produced an empty image")
	}

	decoded, err := safe.NewMatFromMatWithTracker(mat, tracker, "decoded")
	mat.Close()
	if err != nil {
		return nil, err
	}

	if is16BitType(decoded.Type()) {
		defer decoded.Close()
		return ConvertMatType(decoded, eightBitOf(decoded.Type()))
	}

	return decoded, nil
}

// Encode writes src in the given container format.
func Encode(src *safe.Mat, format string) ([]byte, error) {
	if err := safe.ValidateMatForOperation(src, "encode"); err != nil {
		return nil, err
	}

	if format == "gif" {
		return encodeGIF(src)
	}

	ext, err := fileExt(format)
	if err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(ext, src.GetMat())
	if err != nil {
		return nil, fmt.Errorf("encode as %s failed: %w", format, err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func fileExt(format string) (gocv.FileExt, error) {
	switch format {
	case "png", "":
		return gocv.PNGFileExt, nil
	case "jpeg", "jpg":
		return gocv.JPEGFileExt, nil
	case "bmp":
		return gocv.FileExt(".bmp"), nil
	case "tiff", "tif":
		return gocv.FileExt(".tif"), nil
	case "webp":
		return gocv.FileExt(".webp"), nil
	default:
		return "", fmt.Errorf("unsupported output format %q", format)
	}
}

// encodeGIF covers the one container OpenCV cannot write.
func encodeGIF(src *safe.Mat) ([]byte, error) {
	var img image.Image
	if src.Channels() == 1 {
		gray, err := MatToGray(src)
		if err != nil {
			return nil, err
		}
		img = gray
	} else {
		bgr, err := ToBGR(src)
		if err != nil {
			return nil, err
		}
		defer bgr.Close()

		data, err := bgr.Bytes()
		if err != nil {
			return nil, err
		}
		rgba := image.NewRGBA(image.Rect(0, 0, bgr.Cols(), bgr.Rows()))
		for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
			rgba.Pix[j], rgba.Pix[j+1], rgba.Pix[j+2], rgba.Pix[j+3] = data[i+2], data[i+1], data[i], 255
		}
		img = rgba
	}

	pal := palette.Plan9
	if _, ok := img.(*image.Gray); ok {
		pal = grayPalette()
	}
	paletted := image.NewPaletted(img.Bounds(), pal)
	draw.Draw(paletted, paletted.Rect, img, img.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := gif.Encode(&buf, paletted, nil); err != nil {
		return nil, fmt.Errorf("encode as gif failed: %w", err)
	}
	return buf.Bytes(), nil
}

func grayPalette() color.Palette {
	pal := make(color.Palette, 256)
	for i := range pal {
		pal[i] = color.Gray{Y: uint8(i)}
	}
	return pal
}
