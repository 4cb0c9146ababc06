package service

import (
	"context"

	"SignalGate/internal/domain/models"
)

// Model is a loaded, immutable confidence model. Predict receives the
// feature values ordered as Features().
type Model interface {
	Version() string
	Features() []string
	Importance() map[string]float64
	Predict(ctx context.Context, vector []float64) (models.Prediction, error)
}
