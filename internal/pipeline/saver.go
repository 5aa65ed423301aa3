package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"morpho-filters/internal/debug/timing"
	"morpho-filters/internal/logger"
	"morpho-filters/internal/models"

	"go.uber.org/multierr"
)

// Saver writes records back as a dataset directory the Loader can read.
type Saver struct {
	logger logger.Logger
	timing *timing.Tracker
}

func NewSaver(log logger.Logger, tracker *timing.Tracker) *Saver {
	if log == nil {
		log = logger.NewNop()
	}
	if tracker == nil {
		tracker = timing.NewTracker()
	}
	return &Saver{logger: log, timing: tracker}
}

func (s *Saver) Save(ctx context.Context, dir string, records []*models.Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.SaveRecord(dir, rec); err != nil {
			return fmt.Errorf("%s: %w", rec.Name, err)
		}
	}
	return nil
}

func (s *Saver) SaveRecord(dir string, rec *models.Record) error {
	ctx := s.timing.StartTiming(context.Background(), "save")
	defer s.timing.EndTiming(ctx)

	name := outputName(rec)
	if err := writeFile(filepath.Join(dir, name), func(w io.Writer) error {
		_, err := w.Write(rec.Data)
		return err
	}); err != nil {
		return err
	}

	if rec.Annotation == nil && len(rec.Metadata) == 0 {
		return nil
	}

	sc := &sidecar{Kind: rec.Kind, Metadata: rec.Metadata}
	switch a := rec.Annotation.(type) {
	case *models.Classification:
		sc.Label = a.Label
	case *models.ObjectDetection:
		sc.Objects = objectsToSidecar(a.Objects)
	case *models.Segmentation:
		layers, err := s.saveLayers(dir, name, a)
		if err != nil {
			return err
		}
		sc.Layers = layers
	}

	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}

	err = writeFile(sidecarPath(filepath.Join(dir, name)), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Debug("DatasetSaver", "record saved", map[string]interface{}{
		"name": name,
		"kind": string(rec.Kind),
	})
	return nil
}

func (s *Saver) saveLayers(dir, name string, seg *models.Segmentation) ([]sidecarLayer, error) {
	if err := os.MkdirAll(filepath.Join(dir, LayersDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating layer directory: %w", err)
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	layers := make([]sidecarLayer, len(seg.Layers))
	for i, layer := range seg.Layers {
		layers[i].Label = layer.Label
		if layer.Mask == nil {
			continue
		}

		rel := path.Join(LayersDir, fmt.Sprintf("%s.%d.png", base, i))
		err := writeFile(filepath.Join(dir, filepath.FromSlash(rel)), func(w io.Writer) error {
			return png.Encode(w, layer.Mask)
		})
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", layer.Label, err)
		}
		layers[i].Mask = rel
	}
	return layers, nil
}

// outputName keeps the record name unless its extension disagrees with the
// container format.
func outputName(rec *models.Record) string {
	name := filepath.Base(rec.Name)
	if rec.Format == "" || models.FormatFromName(name) == rec.Format {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + models.Extension(rec.Format)
}

func writeFile(filename string, write func(io.Writer) error) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))

	return write(f)
}
