package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"morpho-filters/internal/models"
)

// LayersDir holds segmentation masks, relative to the dataset directory.
const LayersDir = "layers"

// sidecar is the <base>.json file stored next to an image.
type sidecar struct {
	Kind     models.Kind     `json:"kind"`
	Metadata models.Metadata `json:"metadata,omitempty"`
	Label    string          `json:"label,omitempty"`
	Objects  []sidecarObject `json:"objects,omitempty"`
	Layers   []sidecarLayer  `json:"layers,omitempty"`
}

type sidecarObject struct {
	X        int             `json:"x"`
	Y        int             `json:"y"`
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Metadata models.Metadata `json:"metadata,omitempty"`
}

type sidecarLayer struct {
	Label string `json:"label"`
	// Mask is a PNG path relative to the dataset directory.
	Mask string `json:"mask"`
}

func sidecarPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
}

func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	if sc.Kind == "" {
		sc.Kind = models.KindClassification
	}
	if _, err := models.ParseKind(string(sc.Kind)); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &sc, nil
}

func objectsToSidecar(objects []models.LocatedObject) []sidecarObject {
	out := make([]sidecarObject, len(objects))
	for i, o := range objects {
		out[i] = sidecarObject{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height, Metadata: o.Metadata}
	}
	return out
}

func objectsFromSidecar(objects []sidecarObject) []models.LocatedObject {
	out := make([]models.LocatedObject, len(objects))
	for i, o := range objects {
		out[i] = models.LocatedObject{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height, Metadata: o.Metadata}
	}
	return out
}
