package model

import (
	"fmt"
	"slices"

	"github.com/Brownie44l1/fundus-api/internal/preprocess"
)

// Labels is the class order the classifier was trained with. Output index i
// of the network is the probability of Labels[i]; the list ships with the
// model artifact and must not be reordered independently of it.
var Labels = []string{
	"Retinal Vein Occlusion",
	"ageDegeneration",
	"cataract",
	"diabetes",
	"myopia",
	"normal",
}

// DefaultTopK is the number of predictions returned when the caller does not
// ask for a specific count.
const DefaultTopK = 3

// Metadata describes the exported ONNX graph.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Validate checks that the artifact matches the preprocessing and the pinned
// label list.
func (m *Metadata) Validate() error {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if !slices.Equal(m.InputShape, preprocess.Shape[:]) {
		return fmt.Errorf("model input shape %v does not match preprocessing shape %v", m.InputShape, preprocess.Shape)
	}
	if m.ImageSize != 0 && m.ImageSize != preprocess.ImageSize {
		return fmt.Errorf("model image size %d does not match preprocessing size %d", m.ImageSize, preprocess.ImageSize)
	}
	if !slices.Equal(m.OutputShape, []int64{1, int64(len(Labels))}) {
		return fmt.Errorf("model output shape %v, expected [1 %d]", m.OutputShape, len(Labels))
	}
	if !slices.Equal(m.Classes, Labels) {
		return fmt.Errorf("model classes %q do not match label list %q", m.Classes, Labels)
	}
	return nil
}

// ClassProbability is one class score from a forward pass.
type ClassProbability struct {
	Label       string  `json:"label"`
	Index       int     `json:"index"`
	Probability float32 `json:"probability"`
}
