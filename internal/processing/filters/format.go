package filters

import (
	"fmt"

	"morpho-filters/internal/opencv/conversion"
	"morpho-filters/internal/opencv/safe"
)

func checkFormat(required Format) error {
	switch required {
	case FormatAny, FormatBinary, FormatGrayscale:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(required))
	}
}

// coercer brings decoded images into the format a filter requires.
type coercer struct {
	filter   string
	required Format
	deps     Dependencies
}

// coerce returns a Mat in the required format, owned by the caller. When the
// action is skip and src does not comply, it returns (nil, true, nil).
func (c coercer) coerce(src *safe.Mat, name string, action IncorrectFormatAction) (*safe.Mat, bool, error) {
	var (
		ok      bool
		err     error
		convert func(*safe.Mat) (*safe.Mat, error)
	)

	switch c.required {
	case FormatAny:
		m, err := src.Clone()
		return m, false, err
	case FormatGrayscale:
		ok = conversion.IsGrayscale(src)
		convert = conversion.ToGrayscale
	case FormatBinary:
		ok, err = conversion.IsBinary(src)
		if err != nil {
			return nil, false, err
		}
		convert = conversion.ToBinary
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(c.required))
	}

	if ok {
		m, err := src.Clone()
		return m, false, err
	}

	fields := conversion.GetMatProperties(src).Fields()
	fields["record"] = name
	fields["required"] = string(c.required)

	switch action {
	case ActionSkip:
		c.deps.Logger.Info(c.filter, "skipping image in wrong format", fields)
		return nil, true, nil
	case ActionFail:
		return nil, false, fmt.Errorf("%w: %s is not %s", ErrIncorrectFormat, name, c.required)
	case ActionWarn:
		c.deps.Logger.Warning(c.filter, "converting image to required format", fields)
	default:
		c.deps.Logger.Debug(c.filter, "converting image to required format", fields)
	}

	m, err := convert(src)
	if err != nil {
		return nil, false, fmt.Errorf("converting to %s: %w", c.required, err)
	}
	return m, false, nil
}

// applyOutputFormat returns a new Mat in the configured output format.
func applyOutputFormat(src *safe.Mat, format OutputFormat) (*safe.Mat, error) {
	switch format {
	case OutputGrayscale:
		return conversion.ToGrayscale(src)
	case OutputRGB:
		return conversion.ToBGR(src)
	case OutputBinary:
		gray, err := conversion.ToGrayscale(src)
		if err != nil {
			return nil, err
		}
		defer gray.Close()

		binary, err := conversion.IsBinary(gray)
		if err != nil {
			return nil, err
		}
		if binary {
			return conversion.ToMask(gray)
		}

		bin, err := conversion.ToBinary(gray)
		if err != nil {
			return nil, err
		}
		defer bin.Close()
		return conversion.ToMask(bin)
	default:
		return src.Clone()
	}
}
