package scoring

import (
	"context"
	"errors"
	"fmt"

	"SignalGate/internal/domain/models"
	domsvc "SignalGate/internal/domain/service"
	xhttp "SignalGate/pkg/http"
)

// HTTPModel delegates inference to a remote model service. The schema is
// fetched once when the model is loaded; a new schema needs a new HTTPModel.
type HTTPModel struct {
	client     *xhttp.Client
	version    string
	features   []string
	importance map[string]float64
}

var _ domsvc.Model = (*HTTPModel)(nil)

type schemaResp struct {
	Version    string             `json:"version"`
	Features   []string           `json:"features"`
	Importance map[string]float64 `json:"importance"`
}

type predictReq struct {
	Version  string             `json:"version"`
	Features map[string]float64 `json:"features"`
}

type predictResp struct {
	Probability    float64 `json:"probability"`
	ExpectedProfit float64 `json:"expected_profit"`
}

// LoadHTTPModel reads the model schema from GET /model.
func LoadHTTPModel(ctx context.Context, client *xhttp.Client) (*HTTPModel, error) {
	if client == nil || client.BaseURL() == "" {
		return nil, errors.New("model service url is not configured")
	}
	var s schemaResp
	if err := client.GetJSON(ctx, "/model", &s); err != nil {
		return nil, fmt.Errorf("fetch model schema: %w", err)
	}
	if s.Version == "" || len(s.Features) == 0 {
		return nil, fmt.Errorf("%w: remote schema missing version or features", ErrInvalidArtifact)
	}
	if s.Importance == nil {
		s.Importance = make(map[string]float64)
	}
	return &HTTPModel{
		client:     client,
		version:    s.Version,
		features:   s.Features,
		importance: s.Importance,
	}, nil
}

func (m *HTTPModel) Version() string { return m.version }

func (m *HTTPModel) Features() []string { return append([]string(nil), m.features...) }

func (m *HTTPModel) Importance() map[string]float64 {
	out := make(map[string]float64, len(m.importance))
	for k, v := range m.importance {
		out[k] = v
	}
	return out
}

// Predict makes a single POST /predict call. There are no retries: the
// caller's deadline bounds the whole call.
func (m *HTTPModel) Predict(ctx context.Context, vector []float64) (models.Prediction, error) {
	if len(vector) != len(m.features) {
		return models.Prediction{}, fmt.Errorf("vector has %d values, model expects %d", len(vector), len(m.features))
	}
	named := make(map[string]float64, len(vector))
	for i, f := range m.features {
		named[f] = vector[i]
	}

	var resp predictResp
	if err := m.client.PostJSON(ctx, "/predict", predictReq{Version: m.version, Features: named}, &resp); err != nil {
		return models.Prediction{}, err
	}
	return models.Prediction(resp), nil
}
