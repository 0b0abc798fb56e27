// Package verdict turns ranked class probabilities into the result shown to
// the user.
package verdict

import (
	"encoding/json"
	"fmt"

	"github.com/Brownie44l1/fundus-api/internal/model"
)

const (
	DefaultInvalidThreshold       = 0.50
	DefaultLowConfidenceThreshold = 0.45
)

// Kind is the verdict variant.
type Kind string

const (
	// Invalid means the image is probably not a retinal fundus photo.
	Invalid Kind = "invalid"
	// Diagnosis means the top class cleared the invalid-image threshold.
	Diagnosis Kind = "diagnosis"
)

// Verdict is the outcome of one request. For Invalid only Filename is set.
type Verdict struct {
	Kind               Kind
	Filename           string
	TopK               []model.ClassProbability
	PrimaryLabel       string
	PrimaryProbability float32
	LowConfidence      bool
}

// Payload is the JSON form of a Verdict. Diagnosis fields are nil for an
// Invalid verdict and always present for a Diagnosis, zero values included.
type Payload struct {
	Kind               Kind                     `json:"kind"`
	Filename           string                   `json:"filename"`
	TopK               []model.ClassProbability `json:"top_k,omitempty"`
	PrimaryLabel       *string                  `json:"primary_label,omitempty"`
	PrimaryProbability *float32                 `json:"primary_probability,omitempty"`
	LowConfidence      *bool                    `json:"low_confidence,omitempty"`
}

// Payload returns the fields that belong to v's variant.
func (v Verdict) Payload() Payload {
	p := Payload{Kind: v.Kind, Filename: v.Filename}
	if v.Kind != Diagnosis {
		return p
	}
	label, prob, low := v.PrimaryLabel, v.PrimaryProbability, v.LowConfidence
	p.TopK = v.TopK
	p.PrimaryLabel = &label
	p.PrimaryProbability = &prob
	p.LowConfidence = &low
	return p
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Payload())
}

// Policy holds the two confidence floors.
type Policy struct {
	InvalidThreshold       float64
	LowConfidenceThreshold float64
}

// DefaultPolicy returns the thresholds the classifier was calibrated with.
func DefaultPolicy() Policy {
	return Policy{
		InvalidThreshold:       DefaultInvalidThreshold,
		LowConfidenceThreshold: DefaultLowConfidenceThreshold,
	}
}

// Validate rejects thresholds outside [0, 1].
func (p Policy) Validate() error {
	if p.InvalidThreshold < 0 || p.InvalidThreshold > 1 {
		return fmt.Errorf("invalid image threshold %v outside [0, 1]", p.InvalidThreshold)
	}
	if p.LowConfidenceThreshold < 0 || p.LowConfidenceThreshold > 1 {
		return fmt.Errorf("low confidence threshold %v outside [0, 1]", p.LowConfidenceThreshold)
	}
	return nil
}

// LowConfidenceReachable reports whether an accepted image can ever be
// flagged as low confidence. With the defaults it cannot: anything accepted
// is at least 0.50, above the 0.45 floor.
func (p Policy) LowConfidenceReachable() bool {
	return p.LowConfidenceThreshold > p.InvalidThreshold
}

// Apply classifies topK, which must be sorted highest first. It has no side
// effects. An empty topK yields Invalid.
func (p Policy) Apply(filename string, topK []model.ClassProbability) Verdict {
	if len(topK) == 0 {
		return Verdict{Kind: Invalid, Filename: filename}
	}

	primary := topK[0]
	prob := float64(primary.Probability)
	if prob < p.InvalidThreshold {
		return Verdict{Kind: Invalid, Filename: filename}
	}

	ranked := make([]model.ClassProbability, len(topK))
	copy(ranked, topK)
	return Verdict{
		Kind:               Diagnosis,
		Filename:           filename,
		TopK:               ranked,
		PrimaryLabel:       primary.Label,
		PrimaryProbability: primary.Probability,
		LowConfidence:      prob < p.LowConfidenceThreshold,
	}
}
