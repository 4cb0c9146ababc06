package service

import (
	"context"

	"SignalGate/internal/domain/models"
)

// Gate is one admission stage. Implementations never return errors: every
// failure is folded into a REJECT result for the signal being checked.
type Gate interface {
	Stage() models.Stage
	Check(ctx context.Context, sig *models.Signal, gc *models.GateContext) models.GateResult
}

// GateFunc adapts a function to the Gate interface.
type GateFunc struct {
	Name models.Stage
	Fn   func(ctx context.Context, sig *models.Signal, gc *models.GateContext) models.GateResult
}

func (g GateFunc) Stage() models.Stage { return g.Name }

func (g GateFunc) Check(ctx context.Context, sig *models.Signal, gc *models.GateContext) models.GateResult {
	return g.Fn(ctx, sig, gc)
}
