package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"morpho-filters/internal/debug/timing"
	"morpho-filters/internal/logger"
	"morpho-filters/internal/models"
	"morpho-filters/internal/opencv/conversion"

	"github.com/samber/lo"
	"golang.org/x/image/draw"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp", ".gif"}

// Loader reads a dataset directory: images plus optional <base>.json sidecars.
type Loader struct {
	logger logger.Logger
	timing *timing.Tracker
}

func NewLoader(log logger.Logger, tracker *timing.Tracker) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	if tracker == nil {
		tracker = timing.NewTracker()
	}
	return &Loader{logger: log, timing: tracker}
}

// List returns the image files directly inside dir, sorted by name.
func (l *Loader) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing dataset: %w", err)
	}

	return lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() {
			return "", false
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		return filepath.Join(dir, e.Name()), lo.Contains(imageExtensions, ext)
	}), nil
}

func (l *Loader) Load(ctx context.Context, paths []string) ([]*models.Record, error) {
	records := make([]*models.Record, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *Loader) LoadFile(path string) (*models.Record, error) {
	ctx := l.timing.StartTiming(context.Background(), "load")
	defer l.timing.EndTiming(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	format, size, err := conversion.SniffFormat(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	rec := &models.Record{
		Name:     filepath.Base(path),
		Kind:     models.KindClassification,
		Format:   format,
		Data:     data,
		Metadata: models.Metadata{},
	}

	sc, err := readSidecar(sidecarPath(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("DatasetLoader", "image loaded without sidecar", map[string]interface{}{
			"name":   rec.Name,
			"format": format,
		})
		return rec, nil
	case err != nil:
		return nil, err
	}

	rec.Kind = sc.Kind
	if sc.Metadata != nil {
		rec.Metadata = sc.Metadata
	}
	if rec.Annotation, err = l.annotation(filepath.Dir(path), sc, size); err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Name, err)
	}

	l.logger.Debug("DatasetLoader", "image loaded", map[string]interface{}{
		"name":   rec.Name,
		"format": format,
		"kind":   string(rec.Kind),
		"width":  size.X,
		"height": size.Y,
	})

	return rec, nil
}

func (l *Loader) annotation(dir string, sc *sidecar, size image.Point) (models.Annotation, error) {
	switch sc.Kind {
	case models.KindObjectDetection:
		return &models.ObjectDetection{Objects: objectsFromSidecar(sc.Objects)}, nil
	case models.KindSegmentation:
		seg := &models.Segmentation{Layers: make([]models.Layer, len(sc.Layers))}
		for i, layer := range sc.Layers {
			seg.Layers[i].Label = layer.Label
			if layer.Mask == "" {
				continue
			}
			mask, err := loadMask(filepath.Join(dir, filepath.FromSlash(layer.Mask)), size)
			if err != nil {
				return nil, fmt.Errorf("layer %q: %w", layer.Label, err)
			}
			seg.Layers[i].Mask = mask
		}
		return seg, nil
	default:
		return &models.Classification{Label: sc.Label}, nil
	}
}

// loadMask decodes a mask image into a 0/255 *image.Gray of the image's size.
// Masks of a different size are rescaled with nearest neighbour sampling.
func loadMask(path string, size image.Point) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding mask: %w", err)
	}

	gray := image.NewGray(image.Rect(0, 0, size.X, size.Y))
	if img.Bounds().Size() == size {
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		draw.NearestNeighbor.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	for i, v := range gray.Pix {
		if v != 0 {
			gray.Pix[i] = 255
		}
	}
	return gray, nil
}
