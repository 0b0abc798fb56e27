package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Brownie44l1/fundus-api/internal/preprocess"
)

// ErrModelUnavailable is returned when no model was loaded at startup.
var ErrModelUnavailable = errors.New("model not loaded")

const probabilityTolerance = 1e-5

// Model is a forward pass from a flattened input tensor to one probability
// per class, in Labels order.
type Model interface {
	Predict(input []float32) ([]float32, error)
}

// InferenceError reports a failed or malformed forward pass.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Classifier maps model outputs back to labels. A Classifier built with a nil
// Model reports itself unavailable.
type Classifier struct {
	mu     sync.Mutex
	model  Model
	labels []string
}

// NewClassifier wraps m. m may be nil when loading failed.
func NewClassifier(m Model) *Classifier {
	return &Classifier{model: m, labels: Labels}
}

// Available reports whether a model is loaded.
func (c *Classifier) Available() bool {
	return c != nil && c.model != nil
}

// Labels returns the class labels in output order.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// PredictTopK runs one forward pass and returns the k most probable classes,
// highest first. Equal probabilities keep label order. k is clamped to the
// number of labels; k <= 0 selects DefaultTopK.
func (c *Classifier) PredictTopK(t preprocess.Tensor, k int) ([]ClassProbability, error) {
	if !c.Available() {
		return nil, ErrModelUnavailable
	}
	if len(t.Data) != t.Len() {
		return nil, &InferenceError{Err: fmt.Errorf("tensor has %d values for shape %v", len(t.Data), t.Shape)}
	}

	probs, err := c.forward(t.Data)
	if err != nil {
		return nil, err
	}
	if len(probs) != len(c.labels) {
		return nil, &InferenceError{Err: fmt.Errorf("model returned %d scores for %d labels", len(probs), len(c.labels))}
	}

	ranked := make([]ClassProbability, len(probs))
	for i, p := range probs {
		if math.IsNaN(float64(p)) || p < -probabilityTolerance || p > 1+probabilityTolerance {
			return nil, &InferenceError{Err: fmt.Errorf("score %v for %q is not a probability", p, c.labels[i])}
		}
		// softmax rounding can land a hair outside [0, 1]
		p = min(max(p, 0), 1)
		ranked[i] = ClassProbability{Label: c.labels[i], Index: i, Probability: p}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Probability > ranked[j].Probability
	})

	if k <= 0 {
		k = DefaultTopK
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k], nil
}

// forward runs the model under the lock. A panicking backend is reported as
// an InferenceError and the lock is still released.
func (c *Classifier) forward(input []float32) (probs []float32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			probs, err = nil, &InferenceError{Err: fmt.Errorf("model panicked: %v", r)}
		}
	}()

	probs, err = c.model.Predict(input)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return probs, nil
}
