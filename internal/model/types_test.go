package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	ort "github.com/yalue/onnxruntime_go"
)

func TestDefaultMetadataIsValid(t *testing.T) {
	m := DefaultMetadata()
	m.InputName, m.OutputName = "input", "output"
	assert.NoError(t, m.validate())
	assert.Equal(t, 224*224*3, m.InputSize())
}

func TestMetadataValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Metadata)
	}{
		{"zero image size", func(m *Metadata) { m.ImageSize = 0 }},
		{"unknown layout", func(m *Metadata) { m.Layout = "hwc" }},
		{"input mismatch", func(m *Metadata) { m.InputShape = []int64{1, 128, 128, 3} }},
		{"multi output", func(m *Metadata) { m.OutputShape = []int64{1, 2} }},
		{"one class", func(m *Metadata) { m.Classes = []string{"Normal"} }},
		{"layout disagrees with shape", func(m *Metadata) { m.InputShape = []int64{1, 3, 224, 224} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DefaultMetadata()
			tt.mutate(&m)
			assert.Error(t, m.validate())
		})
	}
}

func TestInferLayout(t *testing.T) {
	layout, size := inferLayout([]int64{1, 224, 224, 3}, 0)
	assert.Equal(t, LayoutNHWC, layout)
	assert.Equal(t, 224, size)

	layout, size = inferLayout([]int64{1, 3, 192, 192}, 0)
	assert.Equal(t, LayoutNCHW, layout)
	assert.Equal(t, 192, size)

	layout, size = inferLayout([]int64{1, 150528}, 224)
	assert.Equal(t, LayoutNHWC, layout)
	assert.Equal(t, 224, size)
}

func TestConcreteDims(t *testing.T) {
	assert.Equal(t, []int64{1, 224, 224, 3}, concreteDims(ort.NewShape(-1, 224, 224, 3)))
}
