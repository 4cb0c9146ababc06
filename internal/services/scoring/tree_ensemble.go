package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"SignalGate/internal/domain/models"
	domsvc "SignalGate/internal/domain/service"
)

// Artifact is the on-disk form of a gradient-boosted tree ensemble.
// Classifier trees sum into a logit; profit trees sum into the expected
// profit. Node 0 is the root of every tree.
type Artifact struct {
	Version     string   `json:"version"`
	Features    []string `json:"features"`
	BaseScore   float64  `json:"base_score"`
	Trees       []Tree   `json:"trees"`
	ProfitBase  float64  `json:"profit_base"`
	ProfitTrees []Tree   `json:"profit_trees"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split when Feature >= 0 and a leaf otherwise. Samples with
// value < Threshold go left; NaN follows DefaultLeft.
type Node struct {
	Feature     int     `json:"feature"`
	Threshold   float64 `json:"threshold"`
	Left        int     `json:"left"`
	Right       int     `json:"right"`
	Value       float64 `json:"value"`
	Gain        float64 `json:"gain"`
	DefaultLeft bool    `json:"default_left"`
}

var ErrInvalidArtifact = errors.New("invalid model artifact")

// TreeEnsemble is an immutable, loaded Artifact.
type TreeEnsemble struct {
	art        Artifact
	importance map[string]float64
}

var _ domsvc.Model = (*TreeEnsemble)(nil)

// LoadTreeEnsemble reads and validates an artifact file.
func LoadTreeEnsemble(path string) (*TreeEnsemble, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return ParseTreeEnsemble(data)
}

func ParseTreeEnsemble(data []byte) (*TreeEnsemble, error) {
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return NewTreeEnsemble(art)
}

func NewTreeEnsemble(art Artifact) (*TreeEnsemble, error) {
	if err := art.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return &TreeEnsemble{art: art, importance: gainImportance(art)}, nil
}

func (a *Artifact) validate() error {
	if a.Version == "" {
		return errors.New("version is empty")
	}
	if len(a.Features) == 0 {
		return errors.New("feature list is empty")
	}
	seen := make(map[string]struct{}, len(a.Features))
	for _, f := range a.Features {
		if _, dup := seen[f]; dup {
			return fmt.Errorf("duplicate feature %q", f)
		}
		seen[f] = struct{}{}
	}
	if len(a.Trees) == 0 {
		return errors.New("no classifier trees")
	}
	for i, t := range a.Trees {
		if err := t.validate(len(a.Features)); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	for i, t := range a.ProfitTrees {
		if err := t.validate(len(a.Features)); err != nil {
			return fmt.Errorf("profit tree %d: %w", i, err)
		}
	}
	return nil
}

// validate requires children to sit after their parent, which rules out
// cycles and guarantees evaluation terminates.
func (t *Tree) validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("empty tree")
	}
	for i, n := range t.Nodes {
		if n.Feature < 0 {
			if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
				return fmt.Errorf("node %d: non-finite leaf", i)
			}
			continue
		}
		if n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: bad children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

func (t *Tree) eval(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		v := x[n.Feature]
		switch {
		case math.IsNaN(v):
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case v < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

func gainImportance(art Artifact) map[string]float64 {
	gains := make([]float64, len(art.Features))
	var total float64
	for _, t := range art.Trees {
		for _, n := range t.Nodes {
			if n.Feature >= 0 && n.Gain > 0 {
				gains[n.Feature] += n.Gain
				total += n.Gain
			}
		}
	}
	out := make(map[string]float64, len(art.Features))
	for i, f := range art.Features {
		if total > 0 {
			out[f] = gains[i] / total
		} else {
			out[f] = 0
		}
	}
	return out
}

func (m *TreeEnsemble) Version() string { return m.art.Version }

func (m *TreeEnsemble) Features() []string {
	return append([]string(nil), m.art.Features...)
}

func (m *TreeEnsemble) Importance() map[string]float64 {
	out := make(map[string]float64, len(m.importance))
	for k, v := range m.importance {
		out[k] = v
	}
	return out
}

// Predict evaluates every tree. It does not block and ignores ctx.
func (m *TreeEnsemble) Predict(_ context.Context, vector []float64) (models.Prediction, error) {
	if len(vector) != len(m.art.Features) {
		return models.Prediction{}, fmt.Errorf("vector has %d values, model expects %d", len(vector), len(m.art.Features))
	}

	logit := m.art.BaseScore
	for i := range m.art.Trees {
		logit += m.art.Trees[i].eval(vector)
	}
	profit := m.art.ProfitBase
	for i := range m.art.ProfitTrees {
		profit += m.art.ProfitTrees[i].eval(vector)
	}

	return models.Prediction{
		Probability:    1 / (1 + math.Exp(-logit)),
		ExpectedProfit: profit,
	}, nil
}
