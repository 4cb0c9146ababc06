package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"SignalGate/internal/domain/models"
	domrepo "SignalGate/internal/domain/repository"
	xhttp "SignalGate/pkg/http"
)

type riskSubmitRequest struct {
	Signal     *models.Signal          `json:"signal"`
	Confidence *models.ConfidenceScore `json:"confidence,omitempty"`
}

// HTTPRiskManager submits admitted signals to the risk service. Each call
// is a single POST; retrying is up to the caller and the dispatcher does
// not retry.
type HTTPRiskManager struct {
	client *xhttp.Client
	path   string
}

var _ domrepo.RiskManager = (*HTTPRiskManager)(nil)

func NewHTTPRiskManager(client *xhttp.Client, path string) *HTTPRiskManager {
	if path == "" {
		path = "/risk/submit"
	}
	return &HTTPRiskManager{client: client, path: path}
}

func (r *HTTPRiskManager) Submit(ctx context.Context, sig *models.Signal, conf *models.ConfidenceScore) (models.RiskDecision, error) {
	var out models.RiskDecision
	err := r.client.PostJSON(ctx, r.path, riskSubmitRequest{Signal: sig, Confidence: conf}, &out)
	if err == nil {
		return out, nil
	}
	// 422 carries a rejection reason, not an outage
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.Code == http.StatusUnprocessableEntity {
		return models.RiskDecision{Accepted: false, Reason: se.Body}, nil
	}
	return models.RiskDecision{}, fmt.Errorf("risk submit %s: %w", sig.ID, err)
}
