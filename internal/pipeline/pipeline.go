// Package pipeline runs one image through acquisition, preprocessing,
// inference and the verdict policy.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fundus-api/internal/acquire"
	"github.com/Brownie44l1/fundus-api/internal/logging"
	"github.com/Brownie44l1/fundus-api/internal/model"
	"github.com/Brownie44l1/fundus-api/internal/preprocess"
	"github.com/Brownie44l1/fundus-api/internal/verdict"
)

// Acquirer stores and decodes the request image.
type Acquirer interface {
	Acquire(ctx context.Context, src acquire.Source) (*acquire.StoredImage, error)
}

// Classifier ranks the classes for a preprocessed image.
type Classifier interface {
	Available() bool
	PredictTopK(t preprocess.Tensor, k int) ([]model.ClassProbability, error)
}

// Pipeline is safe for concurrent use when its collaborators are.
type Pipeline struct {
	acquirer   Acquirer
	classifier Classifier
	policy     verdict.Policy
	logger     *zap.Logger
}

// New wires the stages together.
func New(acquirer Acquirer, classifier Classifier, policy verdict.Policy, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		acquirer:   acquirer,
		classifier: classifier,
		policy:     policy,
		logger:     logger.Named("pipeline"),
	}
}

// ModelAvailable reports whether predictions can be served.
func (p *Pipeline) ModelAvailable() bool {
	return p.classifier != nil && p.classifier.Available()
}

// Run processes src once and returns its verdict. Every failure is a *Error.
// Files written before a later stage fails are left in place.
func (p *Pipeline) Run(ctx context.Context, src acquire.Source, k int) (*verdict.Verdict, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(p.logger, "pipeline.run", requestID)
	start := time.Now()

	if err := src.Validate(); err != nil {
		opLogger.Info("rejected request", zap.Error(err))
		return nil, &Error{Code: InvalidRequest, Detail: err.Error(), Err: err}
	}

	if !p.ModelAvailable() {
		opLogger.Warn("model unavailable, skipping acquisition")
		return nil, &Error{Code: ModelUnavailable, Detail: "the model is not loaded", Err: model.ErrModelUnavailable}
	}

	stored, err := p.acquirer.Acquire(ctx, src)
	if err != nil {
		return nil, p.acquisitionError(opLogger, requestID, err)
	}

	tensor := preprocess.Preprocess(stored.Image)

	topK, err := p.classifier.PredictTopK(tensor, k)
	if err != nil {
		wrapped := logging.NewOperationError("pipeline.predict", requestID, err)
		if errors.Is(err, model.ErrModelUnavailable) {
			opLogger.Error("model unavailable", zap.Error(wrapped))
			return nil, &Error{Code: ModelUnavailable, Detail: "the model is not loaded", Err: wrapped}
		}
		opLogger.Error("prediction failed", zap.Error(wrapped), zap.String("filename", stored.Filename))
		return nil, &Error{Code: InferenceFailed, Detail: err.Error(), Err: wrapped}
	}

	v := p.policy.Apply(stored.Filename, topK)
	fields := []zap.Field{
		zap.String("filename", stored.Filename),
		zap.String("verdict", string(v.Kind)),
		zap.Bool("low_confidence", v.LowConfidence),
		zap.Duration("elapsed", time.Since(start)),
	}
	if len(topK) > 0 {
		fields = append(fields,
			zap.String("primary_label", topK[0].Label),
			zap.Float32("primary_probability", topK[0].Probability))
	}
	opLogger.Info("prediction complete", fields...)
	return &v, nil
}

func (p *Pipeline) acquisitionError(opLogger *zap.Logger, requestID string, err error) error {
	wrapped := logging.NewOperationError("pipeline.acquire", requestID, err)

	if errors.Is(err, acquire.ErrInvalidRequest) {
		opLogger.Info("rejected request", zap.Error(err))
		return &Error{Code: InvalidRequest, Detail: err.Error(), Err: wrapped}
	}

	var acqErr *acquire.AcquisitionError
	if errors.As(err, &acqErr) {
		opLogger.Warn("image acquisition failed", zap.Error(wrapped), zap.Stringer("kind", acqErr.Kind))
		return &Error{Code: AcquisitionFailed, Kind: acqErr.Kind, Detail: acqErr.Error(), Err: wrapped}
	}

	opLogger.Error("unexpected acquisition error", zap.Error(wrapped))
	return &Error{Code: AcquisitionFailed, Kind: acquire.NetworkFailure, Detail: err.Error(), Err: wrapped}
}
