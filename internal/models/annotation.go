package models

import (
	"image"
)

// Annotation is one of *Classification, *ObjectDetection or *Segmentation.
type Annotation interface {
	Kind() Kind
	Clone() Annotation
}

type Classification struct {
	Label string
}

func (c *Classification) Kind() Kind { return KindClassification }

func (c *Classification) Clone() Annotation {
	out := *c
	return &out
}

// LocatedObject is an axis-aligned box in pixel coordinates.
type LocatedObject struct {
	X        int
	Y        int
	Width    int
	Height   int
	Metadata Metadata
}

type ObjectDetection struct {
	Objects []LocatedObject
}

func (o *ObjectDetection) Kind() Kind { return KindObjectDetection }

func (o *ObjectDetection) Clone() Annotation {
	out := &ObjectDetection{Objects: make([]LocatedObject, len(o.Objects))}
	for i, obj := range o.Objects {
		obj.Metadata = obj.Metadata.Clone()
		out.Objects[i] = obj
	}
	return out
}

// Layer is a single labelled mask; 0 is background, 255 foreground.
type Layer struct {
	Label string
	Mask  *image.Gray
}

type Segmentation struct {
	Layers []Layer
}

func (s *Segmentation) Kind() Kind { return KindSegmentation }

func (s *Segmentation) Clone() Annotation {
	out := &Segmentation{Layers: make([]Layer, len(s.Layers))}
	for i, l := range s.Layers {
		out.Layers[i] = Layer{Label: l.Label, Mask: cloneGray(l.Mask)}
	}
	return out
}

// Labels lists layer labels in order.
func (s *Segmentation) Labels() []string {
	labels := make([]string, len(s.Layers))
	for i, l := range s.Layers {
		labels[i] = l.Label
	}
	return labels
}

func cloneGray(src *image.Gray) *image.Gray {
	if src == nil {
		return nil
	}
	dst := &image.Gray{
		Pix:    append([]uint8(nil), src.Pix...),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	return dst
}
