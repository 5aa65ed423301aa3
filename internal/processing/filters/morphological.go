package filters

import (
	"context"
	"fmt"
	"image"

	"morpho-filters/internal/models"
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/conversion"
	"morpho-filters/internal/opencv/safe"

	"golang.org/x/sync/errgroup"
)

// Transform is the one array operation a morphological filter applies. It must not
// close src and returns a Mat owned by the caller.
type Transform func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error)

// definition is what distinguishes one morphological filter from another.
type definition struct {
	name        string
	description string
	required    Format
	transform   Transform
	// nothingToDo short-circuits Process, returning the input batch as is.
	nothingToDo bool
	params      map[string]interface{}
}

// MorphologicalFilter decodes each record, brings it into the required format,
// runs the transform on the image and/or segmentation layers and rebuilds the
// record around the result.
type MorphologicalFilter struct {
	def      definition
	settings settings
	deps     Dependencies
	coercer  coercer
}

var _ Filter = (*MorphologicalFilter)(nil)

func newMorphological(def definition, s settings, deps Dependencies) (*MorphologicalFilter, error) {
	if err := checkFormat(def.required); err != nil {
		return nil, fmt.Errorf("%s: %w", def.name, err)
	}

	deps, err := deps.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", def.name, err)
	}

	return &MorphologicalFilter{
		def:      def,
		settings: s,
		deps:     deps,
		coercer:  coercer{filter: def.name, required: def.required, deps: deps},
	}, nil
}

func (f *MorphologicalFilter) Name() string             { return f.def.name }
func (f *MorphologicalFilter) Description() string      { return f.def.description }
func (f *MorphologicalFilter) Accepts() []models.Kind   { return allKinds }
func (f *MorphologicalFilter) Generates() []models.Kind { return allKinds }

// RequiredFormat is the pixel layout the transform is applied to.
func (f *MorphologicalFilter) RequiredFormat() Format { return f.def.required }

func (f *MorphologicalFilter) Process(ctx context.Context, records []*models.Record) ([]*models.Record, error) {
	if f.def.nothingToDo {
		f.deps.Logger.Debug(f.def.name, "parameters make this filter a no-op", f.def.params)
		return records, nil
	}

	out, err := processBatch(ctx, f.settings.workers, records, f.processRecord)
	if err != nil {
		return nil, err
	}

	f.deps.Logger.Debug(f.def.name, "batch processed", map[string]interface{}{
		"records":  len(out),
		"apply_to": string(f.settings.applyTo),
	})
	return out, nil
}

func (f *MorphologicalFilter) processRecord(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.deps.checkMemory(); err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Name, err)
	}

	data := append([]byte(nil), rec.Data...)

	if f.settings.applyTo.includesImage() {
		out, skipped, err := f.processImage(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Name, err)
		}
		if skipped {
			return rec, nil
		}
		data = out
	}

	var annotation models.Annotation
	if rec.Annotation != nil {
		annotation = rec.Annotation.Clone()
	}

	if seg, ok := rec.Segmentation(); ok && f.settings.applyTo.includesAnnotations() {
		rebuilt, err := f.processLayers(seg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec.Name, err)
		}
		annotation = rebuilt
	}

	return &models.Record{
		Name:       rec.Name,
		Kind:       rec.Kind,
		Format:     rec.Format,
		Data:       data,
		Metadata:   rec.Metadata.Clone(),
		Annotation: annotation,
	}, nil
}

func (f *MorphologicalFilter) processImage(rec *models.Record) ([]byte, bool, error) {
	src, err := conversion.Decode(rec.Data, f.deps.memTracker())
	if err != nil {
		return nil, false, err
	}
	defer src.Close()

	prepared, skipped, err := f.coercer.coerce(src, rec.Name, f.settings.action)
	if err != nil || skipped {
		return nil, skipped, err
	}
	defer prepared.Close()

	result, err := f.def.transform(f.deps.Ops, prepared)
	if err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", f.def.name, err)
	}
	defer result.Close()

	final, err := applyOutputFormat(result, f.settings.outputFormat)
	if err != nil {
		return nil, false, err
	}
	defer final.Close()

	format := rec.Format
	if format == "" {
		if format, _, err = conversion.SniffFormat(rec.Data); err != nil {
			return nil, false, err
		}
	}

	data, err := conversion.Encode(final, format)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// processLayers runs the transform over every mask layer, keeping labels and order.
// Layers are masks by construction, so they are always converted silently.
func (f *MorphologicalFilter) processLayers(seg *models.Segmentation) (*models.Segmentation, error) {
	out := &models.Segmentation{Layers: make([]models.Layer, len(seg.Layers))}

	for i, layer := range seg.Layers {
		if layer.Mask == nil {
			out.Layers[i] = models.Layer{Label: layer.Label}
			continue
		}

		mask, err := f.processLayer(layer)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", layer.Label, err)
		}
		out.Layers[i] = models.Layer{Label: layer.Label, Mask: mask}
	}

	return out, nil
}

func (f *MorphologicalFilter) processLayer(layer models.Layer) (*image.Gray, error) {
	src, err := conversion.GrayToMat(layer.Mask, f.deps.memTracker())
	if err != nil {
		return nil, err
	}
	defer src.Close()

	prepared, _, err := f.coercer.coerce(src, layer.Label, ActionConvert)
	if err != nil {
		return nil, err
	}
	defer prepared.Close()

	result, err := f.def.transform(f.deps.Ops, prepared)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", f.def.name, err)
	}
	defer result.Close()

	mask, err := conversion.ToMask(result)
	if err != nil {
		return nil, err
	}
	defer mask.Close()

	return conversion.MatToGray(mask)
}

// processBatch applies fn to every record with at most workers in flight. Results
// keep input order; the first error cancels the rest of the batch.
func processBatch(ctx context.Context, workers int, records []*models.Record,
	fn func(context.Context, *models.Record) (*models.Record, error)) ([]*models.Record, error) {
	results := make([]*models.Record, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for i, rec := range records {
		g.Go(func() error {
			out, err := fn(gctx, rec)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
