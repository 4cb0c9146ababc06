package scoring

import (
	"context"
	"time"

	"SignalGate/internal/domain/models"
)

// fakeModel is a scripted Model for tests.
type fakeModel struct {
	version  string
	features []string
	prob     float64
	profit   float64
	err      error
	delay    time.Duration
	calls    int
	lastVec  []float64
}

func (m *fakeModel) Version() string                { return m.version }
func (m *fakeModel) Features() []string             { return m.features }
func (m *fakeModel) Importance() map[string]float64 { return map[string]float64{} }

func (m *fakeModel) Predict(ctx context.Context, v []float64) (models.Prediction, error) {
	m.calls++
	m.lastVec = v
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return models.Prediction{}, ctx.Err()
		}
	}
	if m.err != nil {
		return models.Prediction{}, m.err
	}
	return models.Prediction{Probability: m.prob, ExpectedProfit: m.profit}, nil
}
