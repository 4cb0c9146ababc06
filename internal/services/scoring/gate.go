package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalGate/internal/domain/models"
	domsvc "SignalGate/internal/domain/service"
)

// Gate rejects signals whose model probability is below MinProbability.
// On PASS it stores the score in the GateContext for later stages and the
// queue.
type Gate struct {
	scorer         *Scorer
	minProbability float64
	now            func() time.Time
}

var _ domsvc.Gate = (*Gate)(nil)

func NewGate(scorer *Scorer, minProbability float64) *Gate {
	return &Gate{scorer: scorer, minProbability: minProbability, now: time.Now}
}

func (g *Gate) Stage() models.Stage { return models.StageConfidence }

func (g *Gate) Check(ctx context.Context, sig *models.Signal, gc *models.GateContext) models.GateResult {
	score, err := g.scorer.Score(ctx, sig)
	now := g.now()
	if err != nil {
		reason := models.ReasonModelUnavailable
		if errors.Is(err, models.ErrFeatureMismatch) {
			reason = models.ReasonFeatureMismatch
		}
		return models.Reject(models.StageConfidence, sig, reason, err.Error(), now)
	}

	if score.Probability < g.minProbability {
		detail := fmt.Sprintf("probability %.4f below %.4f (model %s)", score.Probability, g.minProbability, score.ModelVersion)
		return models.Reject(models.StageConfidence, sig, models.ReasonLowConfidence, detail, now).WithScore(score.Probability)
	}

	if gc != nil {
		gc.Confidence = &score
	}
	return models.Pass(models.StageConfidence, sig, models.ReasonOK, now).WithScore(score.Probability)
}
