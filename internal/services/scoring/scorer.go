package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
)

// Scorer turns a signal's features into a ConfidenceScore using the active
// model. Each Score call invokes the model at most once.
type Scorer struct {
	registry *Registry
	timeout  time.Duration
	metrics  domrepo.Metrics
}

func NewScorer(registry *Registry, timeout time.Duration, metrics domrepo.Metrics) *Scorer {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Scorer{registry: registry, timeout: timeout, metrics: metrics}
}

type predictOutcome struct {
	pred models.Prediction
	err  error
}

// Score fails with models.ErrModelUnavailable when no model is installed,
// the call times out or errors, or the model answers out of range, and with
// a *models.FeatureMismatchError when the features don't match the schema.
func (s *Scorer) Score(ctx context.Context, sig *models.Signal) (models.ConfidenceScore, error) {
	model := s.registry.Current()
	if model == nil {
		return models.ConfidenceScore{}, fmt.Errorf("%w: no model installed", models.ErrModelUnavailable)
	}

	vector, err := BuildVector(model.Features(), sig.Features)
	if err != nil {
		return models.ConfidenceScore{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan predictOutcome, 1)
	go func() {
		p, err := model.Predict(ctx, vector)
		done <- predictOutcome{pred: p, err: err}
	}()

	var out predictOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		s.recordError("model_timeout")
		return models.ConfidenceScore{}, fmt.Errorf("%w: model %s: %v", models.ErrModelUnavailable, model.Version(), ctx.Err())
	}
	if s.metrics != nil {
		s.metrics.RecordLatency("model_predict", time.Since(start).Seconds())
	}

	if out.err != nil {
		s.recordError("model_predict")
		return models.ConfidenceScore{}, fmt.Errorf("%w: model %s: %v", models.ErrModelUnavailable, model.Version(), out.err)
	}

	p := out.pred
	if math.IsNaN(p.Probability) || p.Probability < 0 || p.Probability > 1 || math.IsNaN(p.ExpectedProfit) || math.IsInf(p.ExpectedProfit, 0) {
		s.recordError("model_output")
		return models.ConfidenceScore{}, fmt.Errorf("%w: model %s returned probability %v profit %v",
			models.ErrModelUnavailable, model.Version(), p.Probability, p.ExpectedProfit)
	}

	return models.ConfidenceScore{
		Probability:       p.Probability,
		ExpectedProfit:    p.ExpectedProfit,
		ModelVersion:      model.Version(),
		FeatureImportance: model.Importance(),
	}, nil
}

func (s *Scorer) recordError(kind string) {
	if s.metrics != nil {
		s.metrics.RecordError(kind)
	}
}

// BuildVector orders features by schema. Every schema key must be present
// and no other key may appear.
func BuildVector(schema []string, features map[string]float64) ([]float64, error) {
	vector := make([]float64, len(schema))
	var mismatch models.FeatureMismatchError
	inSchema := make(map[string]struct{}, len(schema))
	for i, name := range schema {
		inSchema[name] = struct{}{}
		v, ok := features[name]
		if !ok {
			mismatch.Missing = append(mismatch.Missing, name)
			continue
		}
		vector[i] = v
	}
	for name := range features {
		if _, ok := inSchema[name]; !ok {
			mismatch.Unexpected = append(mismatch.Unexpected, name)
		}
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Unexpected) > 0 {
		sort.Strings(mismatch.Unexpected)
		return nil, &mismatch
	}
	return vector, nil
}
