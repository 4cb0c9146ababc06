package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stumpArtifact = `{
  "version": "gbdt-test-1",
  "features": ["rsi", "volume_z"],
  "base_score": 0.0,
  "trees": [
    {"nodes": [
      {"feature": 0, "threshold": 30, "left": 1, "right": 2, "gain": 3, "default_left": true},
      {"feature": -1, "value": 1.0},
      {"feature": -1, "value": -1.0}
    ]},
    {"nodes": [
      {"feature": 1, "threshold": 2, "left": 1, "right": 2, "gain": 1},
      {"feature": -1, "value": 0.0},
      {"feature": -1, "value": 0.5}
    ]}
  ],
  "profit_base": 0.01,
  "profit_trees": [
    {"nodes": [
      {"feature": 0, "threshold": 30, "left": 1, "right": 2},
      {"feature": -1, "value": 0.02},
      {"feature": -1, "value": -0.01}
    ]}
  ]
}`

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func TestTreeEnsemble_Predict(t *testing.T) {
	m, err := ParseTreeEnsemble([]byte(stumpArtifact))
	require.NoError(t, err)
	assert.Equal(t, "gbdt-test-1", m.Version())
	assert.Equal(t, []string{"rsi", "volume_z"}, m.Features())

	p, err := m.Predict(context.Background(), []float64{28, 1})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(1.0), p.Probability, 1e-12)
	assert.InDelta(t, 0.03, p.ExpectedProfit, 1e-12)

	p, err = m.Predict(context.Background(), []float64{70, 3})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(-0.5), p.Probability, 1e-12)
	assert.InDelta(t, 0.0, p.ExpectedProfit, 1e-12)
}

func TestTreeEnsemble_MissingValueFollowsDefault(t *testing.T) {
	m, err := ParseTreeEnsemble([]byte(stumpArtifact))
	require.NoError(t, err)

	p, err := m.Predict(context.Background(), []float64{math.NaN(), 0})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(1.0), p.Probability, 1e-12)
}

func TestTreeEnsemble_Importance(t *testing.T) {
	m, err := ParseTreeEnsemble([]byte(stumpArtifact))
	require.NoError(t, err)

	imp := m.Importance()
	assert.InDelta(t, 0.75, imp["rsi"], 1e-12)
	assert.InDelta(t, 0.25, imp["volume_z"], 1e-12)
}

func TestTreeEnsemble_RejectsCorruptArtifacts(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no version":    `{"features":["a"],"trees":[{"nodes":[{"feature":-1,"value":0}]}]}`,
		"no trees":      `{"version":"v","features":["a"],"trees":[]}`,
		"dup feature":   `{"version":"v","features":["a","a"],"trees":[{"nodes":[{"feature":-1,"value":0}]}]}`,
		"bad index":     `{"version":"v","features":["a"],"trees":[{"nodes":[{"feature":3,"threshold":1,"left":1,"right":2},{"feature":-1},{"feature":-1}]}]}`,
		"cycle":         `{"version":"v","features":["a"],"trees":[{"nodes":[{"feature":0,"threshold":1,"left":0,"right":1},{"feature":-1}]}]}`,
		"child too far": `{"version":"v","features":["a"],"trees":[{"nodes":[{"feature":0,"threshold":1,"left":1,"right":5},{"feature":-1}]}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTreeEnsemble([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidArtifact)
		})
	}
}

func TestTreeEnsemble_VectorLength(t *testing.T) {
	m, err := ParseTreeEnsemble([]byte(stumpArtifact))
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), []float64{1})
	assert.Error(t, err)
}
