package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind identifies the annotation family a record belongs to.
type Kind string

const (
	KindClassification  Kind = "classification"
	KindObjectDetection Kind = "object-detection"
	KindSegmentation    Kind = "segmentation"
)

var kinds = []Kind{KindClassification, KindObjectDetection, KindSegmentation}

func AllKinds() []Kind {
	return append([]Kind(nil), kinds...)
}

func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Record is one image of a dataset together with its annotation. Records are
// treated as immutable; filters always build new ones.
type Record struct {
	Name       string
	Kind       Kind
	Format     string
	Data       []byte
	Metadata   Metadata
	Annotation Annotation
}

// Segmentation returns the segmentation annotation, if the record carries one.
func (r *Record) Segmentation() (*Segmentation, bool) {
	seg, ok := r.Annotation.(*Segmentation)
	return seg, ok && seg != nil
}

// Clone deep-copies the record including image bytes.
func (r *Record) Clone() *Record {
	out := &Record{
		Name:     r.Name,
		Kind:     r.Kind,
		Format:   r.Format,
		Data:     append([]byte(nil), r.Data...),
		Metadata: r.Metadata.Clone(),
	}
	if r.Annotation != nil {
		out.Annotation = r.Annotation.Clone()
	}
	return out
}

// FormatFromName derives the container format from a file extension.
func FormatFromName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg":
		return "jpeg"
	case "tif", "tiff":
		return "tiff"
	default:
		return ext
	}
}

// Extension is the file extension, including the dot, used for a container format.
func Extension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "":
		return ".png"
	default:
		return "." + format
	}
}

// Metadata holds free-form record metadata as decoded from JSON.
type Metadata map[string]interface{}

// Clone deep-copies nested maps and slices.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return map[string]interface{}(Metadata(typed).Clone())
	case Metadata:
		return typed.Clone()
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	case []float64:
		return append([]float64(nil), typed...)
	case []int:
		return append([]int(nil), typed...)
	default:
		return v
	}
}
