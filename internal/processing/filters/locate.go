package filters

import (
	"context"
	"fmt"

	"morpho-filters/internal/models"
	"morpho-filters/internal/morphology"
	"morpho-filters/internal/opencv/conversion"
	"morpho-filters/internal/opencv/safe"
)

const (
	FindBranchPointsName = "find-branch-points"
	FindTipsName         = "find-tips"

	// MetaType is the object metadata key naming what a located pixel is.
	MetaType = "type"

	FindBranchPointsDescription = "Locates branch points in skeletons and stores them as 1x1 objects with type=branch. Images get converted to binary if necessary."
	FindTipsDescription         = "Locates tips in skeletons and stores them as 1x1 objects with type=tip. Images get converted to binary if necessary."
)

// LocatorFilter turns a point mask computed from the image into a detection
// annotation of 1x1 boxes. Image bytes and metadata pass through untouched.
// Records skipped for their format come out as detections without objects.
type LocatorFilter struct {
	name        string
	description string
	pointType   string
	locate      Transform
	settings    settings
	deps        Dependencies
	coercer     coercer
}

var _ Filter = (*LocatorFilter)(nil)

func NewFindBranchPoints(opts LocatorOptions, deps Dependencies) (*LocatorFilter, error) {
	return newLocator(FindBranchPointsName, FindBranchPointsDescription, "branch", opts, deps,
		func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
			return ops.FindBranchPoints(src)
		})
}

func NewFindTips(opts LocatorOptions, deps Dependencies) (*LocatorFilter, error) {
	return newLocator(FindTipsName, FindTipsDescription, "tip", opts, deps,
		func(ops morphology.Operations, src *safe.Mat) (*safe.Mat, error) {
			return ops.FindTips(src)
		})
}

func newLocator(name, description, pointType string, opts LocatorOptions, deps Dependencies, locate Transform) (*LocatorFilter, error) {
	s, err := opts.settings(name)
	if err != nil {
		return nil, err
	}

	deps, err = deps.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return &LocatorFilter{
		name:        name,
		description: description,
		pointType:   pointType,
		locate:      locate,
		settings:    s,
		deps:        deps,
		coercer:     coercer{filter: name, required: FormatBinary, deps: deps},
	}, nil
}

func (f *LocatorFilter) Name() string           { return f.name }
func (f *LocatorFilter) Description() string    { return f.description }
func (f *LocatorFilter) Accepts() []models.Kind { return allKinds }

func (f *LocatorFilter) Generates() []models.Kind {
	return []models.Kind{models.KindObjectDetection}
}

func (f *LocatorFilter) Process(ctx context.Context, records []*models.Record) ([]*models.Record, error) {
	return processBatch(ctx, f.settings.workers, records, f.processRecord)
}

func (f *LocatorFilter) processRecord(ctx context.Context, rec *models.Record) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.deps.checkMemory(); err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Name, err)
	}

	objects, skipped, err := f.findObjects(rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rec.Name, err)
	}
	if skipped {
		// the record still changes kind, it just carries no objects
		objects = []models.LocatedObject{}
	} else {
		f.deps.Logger.Debug(f.name, "located points", map[string]interface{}{
			"record": rec.Name,
			"count":  len(objects),
		})
	}

	return &models.Record{
		Name:       rec.Name,
		Kind:       models.KindObjectDetection,
		Format:     rec.Format,
		Data:       append([]byte(nil), rec.Data...),
		Metadata:   rec.Metadata.Clone(),
		Annotation: &models.ObjectDetection{Objects: objects},
	}, nil
}

func (f *LocatorFilter) findObjects(rec *models.Record) ([]models.LocatedObject, bool, error) {
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

	points, err := f.locate(f.deps.Ops, prepared)
	if err != nil {
		return nil, false, fmt.Errorf("%s failed: %w", f.name, err)
	}
	defer points.Close()

	pix, err := points.Bytes()
	if err != nil {
		return nil, false, err
	}

	return f.toObjects(pix, points.Cols()), false, nil
}

// toObjects scans the point mask in row-major order.
func (f *LocatorFilter) toObjects(pix []byte, cols int) []models.LocatedObject {
	objects := []models.LocatedObject{}
	for i, v := range pix {
		if v == 0 {
			continue
		}
		objects = append(objects, models.LocatedObject{
			X:        i % cols,
			Y:        i / cols,
			Width:    1,
			Height:   1,
			Metadata: models.Metadata{MetaType: f.pointType},
		})
	}
	return objects
}
