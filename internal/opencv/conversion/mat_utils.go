package conversion

import (
	"fmt"

	"morpho-filters/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// MatProperties describes a Mat for log fields.
type MatProperties struct {
	Rows     int
	Cols     int
	Channels int
	DataType string
}

func GetMatProperties(mat *safe.Mat) MatProperties {
	if mat == nil || mat.Empty() {
		return MatProperties{DataType: "empty"}
	}

	return MatProperties{
		Rows:     mat.Rows(),
		Cols:     mat.Cols(),
		Channels: mat.Channels(),
		DataType: getDataTypeName(mat.Type()),
	}
}

// Fields flattens the properties for structured logging.
func (p MatProperties) Fields() map[string]interface{} {
	return map[string]interface{}{
		"width":    p.Cols,
		"height":   p.Rows,
		"channels": p.Channels,
		"type":     p.DataType,
	}
}

// ConvertMatType converts src to targetType, rescaling between 8 and 16 bit depths.
func ConvertMatType(src *safe.Mat, targetType gocv.MatType) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "Mat type conversion"); err != nil {
		return nil, err
	}

	if src.Type() == targetType {
		return src.Clone()
	}

	scale, offset := getConversionParameters(src.Type(), targetType)

	dst := gocv.NewMat()
	srcMat := src.GetMat()
	if err := srcMat.ConvertToWithParams(&dst, targetType, float32(scale), float32(offset)); err != nil {
		dst.Close()
		return nil, fmt.Errorf("type conversion failed: %w", err)
	}

	result, err := src.Derive(dst, "convert_type")
	if err != nil {
		return nil, fmt.Errorf("type conversion failed: %w", err)
	}
	return result, nil
}

func getDataTypeName(matType gocv.MatType) string {
	switch matType {
	case gocv.MatTypeCV8UC1:
		return "8-bit unsigned single channel"
	case gocv.MatTypeCV8UC3:
		return "8-bit unsigned 3-channel"
	case gocv.MatTypeCV8UC4:
		return "8-bit unsigned 4-channel"
	case gocv.MatTypeCV16UC1:
		return "16-bit unsigned single channel"
	case gocv.MatTypeCV16UC3:
		return "16-bit unsigned 3-channel"
	case gocv.MatTypeCV16UC4:
		return "16-bit unsigned 4-channel"
	default:
		return fmt.Sprintf("unknown type %d", int(matType))
	}
}

func getConversionParameters(srcType, dstType gocv.MatType) (scale, offset float64) {
	scale = 1.0
	offset = 0.0

	switch {
	case is16BitType(srcType) && is8BitType(dstType):
		scale = 1.0 / 257.0
	case is8BitType(srcType) && is16BitType(dstType):
		scale = 257.0
	}

	return scale, offset
}

func is8BitType(matType gocv.MatType) bool {
	return matType == gocv.MatTypeCV8UC1 || matType == gocv.MatTypeCV8UC3 || matType == gocv.MatTypeCV8UC4
}

func is16BitType(matType gocv.MatType) bool {
	return matType == gocv.MatTypeCV16UC1 || matType == gocv.MatTypeCV16UC3 || matType == gocv.MatTypeCV16UC4
}

// eightBitOf maps a 16-bit type to its 8-bit counterpart with the same channel count.
func eightBitOf(matType gocv.MatType) gocv.MatType {
	switch matType {
	case gocv.MatTypeCV16UC3:
		return gocv.MatTypeCV8UC3
	case gocv.MatTypeCV16UC4:
		return gocv.MatTypeCV8UC4
	default:
		return gocv.MatTypeCV8UC1
	}
}
