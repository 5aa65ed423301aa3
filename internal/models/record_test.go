package models

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataCloneIsDeep(t *testing.T) {
	orig := Metadata{
		"plant":  "A1",
		"nested": map[string]interface{}{"day": 3.0},
		"tags":   []interface{}{"x", map[string]interface{}{"k": "v"}},
	}
	cp := orig.Clone()
	assert.Equal(t, orig, cp)

	cp["nested"].(map[string]interface{})["day"] = 4.0
	cp["tags"].([]interface{})[1].(map[string]interface{})["k"] = "w"

	assert.Equal(t, 3.0, orig["nested"].(map[string]interface{})["day"])
	assert.Equal(t, "v", orig["tags"].([]interface{})[1].(map[string]interface{})["k"])
}

func TestMetadataCloneNil(t *testing.T) {
	var m Metadata
	assert.Nil(t, m.Clone())
}

func TestRecordClone(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 2, 2))
	mask.Pix[0] = 255
	r := &Record{
		Name:     "a.png",
		Kind:     KindSegmentation,
		Format:   "png",
		Data:     []byte{1, 2, 3},
		Metadata: Metadata{"k": "v"},
		Annotation: &Segmentation{Layers: []Layer{
			{Label: "leaf", Mask: mask},
		}},
	}

	cp := r.Clone()
	cp.Data[0] = 9
	seg, ok := cp.Segmentation()
	require.True(t, ok)
	seg.Layers[0].Mask.Pix[0] = 0

	assert.Equal(t, byte(1), r.Data[0])
	orig, _ := r.Segmentation()
	assert.Equal(t, uint8(255), orig.Layers[0].Mask.Pix[0])
	assert.Equal(t, []string{"leaf"}, seg.Labels())
}

func TestObjectDetectionClone(t *testing.T) {
	od := &ObjectDetection{Objects: []LocatedObject{
		{X: 1, Y: 2, Width: 1, Height: 1, Metadata: Metadata{"type": "tip"}},
	}}
	cp := od.Clone().(*ObjectDetection)
	cp.Objects[0].Metadata["type"] = "branch"
	assert.Equal(t, "tip", od.Objects[0].Metadata["type"])
	assert.Equal(t, KindObjectDetection, cp.Kind())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("segmentation")
	require.NoError(t, err)
	assert.Equal(t, KindSegmentation, k)

	_, err = ParseKind("video")
	assert.Error(t, err)
	assert.Len(t, AllKinds(), 3)
}

func TestFormatFromName(t *testing.T) {
	assert.Equal(t, "jpeg", FormatFromName("x/IMG.JPG"))
	assert.Equal(t, "png", FormatFromName("a.png"))
	assert.Equal(t, "tiff", FormatFromName("a.tif"))
	assert.Equal(t, ".jpg", Extension("jpeg"))
	assert.Equal(t, ".bmp", Extension("bmp"))
}
