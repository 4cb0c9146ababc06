package quality

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"SignalGate/internal/domain/models"
	domsvc "SignalGate/internal/domain/service"

	"github.com/go-playground/validator/v10"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{6,}$`)

type Config struct {
	MaxAge        time.Duration
	MaxFutureSkew time.Duration
}

type Option func(*Validator)

func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// Validator is the first admission stage. It checks structure, price sanity
// and freshness; the checks run in a fixed order and stop at the first
// failure, so the reason code always names the earliest problem.
type Validator struct {
	cfg      Config
	now      func() time.Time
	validate *validator.Validate
}

var _ domsvc.Gate = (*Validator)(nil)

func New(cfg Config, opts ...Option) *Validator {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.MaxFutureSkew <= 0 {
		cfg.MaxFutureSkew = 5 * time.Second
	}
	vd := validator.New()
	vd.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v := &Validator{
		cfg:      cfg,
		now:      time.Now,
		validate: vd,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Validator) Stage() models.Stage { return models.StageValidator }

func (v *Validator) Check(_ context.Context, sig *models.Signal, _ *models.GateContext) models.GateResult {
	return v.Validate(sig)
}

// Validate returns the stage verdict for sig. It has no side effects.
func (v *Validator) Validate(sig *models.Signal) models.GateResult {
	now := v.now()
	reject := func(reason models.ReasonCode, format string, args ...interface{}) models.GateResult {
		return models.Reject(models.StageValidator, sig, reason, fmt.Sprintf(format, args...), now)
	}

	if sig == nil {
		return reject(models.ReasonMissingField, "signal is nil")
	}
	if field, ok := v.firstMissing(sig); ok {
		return reject(models.ReasonMissingField, "%s is required", field)
	}
	if !symbolPattern.MatchString(sig.Symbol) {
		return reject(models.ReasonInvalidSymbol, "symbol %q must be at least 6 upper-case alphanumeric characters", sig.Symbol)
	}
	if !sig.Direction.Valid() {
		return reject(models.ReasonInvalidDirection, "direction %q must be LONG or SHORT", sig.Direction)
	}

	if sig.EntryPrice <= 0 || sig.StopLoss <= 0 {
		return reject(models.ReasonNonPositivePrice, "entry %.8g and stop %.8g must be positive", sig.EntryPrice, sig.StopLoss)
	}
	for i, tp := range sig.TakeProfits {
		if tp <= 0 {
			return reject(models.ReasonNonPositivePrice, "take_profits[%d] %.8g must be positive", i, tp)
		}
	}

	if detail := inconsistentLevels(sig); detail != "" {
		return reject(models.ReasonInconsistentLevels, "%s", detail)
	}

	age := now.Sub(sig.Timestamp)
	if age > v.cfg.MaxAge {
		return reject(models.ReasonStaleSignal, "signal is %s old, max %s", age.Truncate(time.Millisecond), v.cfg.MaxAge)
	}
	if -age > v.cfg.MaxFutureSkew {
		return reject(models.ReasonFutureTimestamp, "signal is %s in the future", (-age).Truncate(time.Millisecond))
	}

	return models.Pass(models.StageValidator, sig, models.ReasonOK, now)
}

// firstMissing reports the first required field, in declaration order, that
// is absent.
func (v *Validator) firstMissing(sig *models.Signal) (string, bool) {
	err := v.validate.Struct(sig)
	if err == nil {
		return "", false
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Field(), true
	}
	return err.Error(), true
}

func inconsistentLevels(sig *models.Signal) string {
	switch sig.Direction {
	case models.DirectionLong:
		if sig.StopLoss >= sig.EntryPrice {
			return fmt.Sprintf("LONG stop %.8g must be below entry %.8g", sig.StopLoss, sig.EntryPrice)
		}
		for i, tp := range sig.TakeProfits {
			if tp <= sig.EntryPrice {
				return fmt.Sprintf("LONG take_profits[%d] %.8g must be above entry %.8g", i, tp, sig.EntryPrice)
			}
		}
	case models.DirectionShort:
		if sig.StopLoss <= sig.EntryPrice {
			return fmt.Sprintf("SHORT stop %.8g must be above entry %.8g", sig.StopLoss, sig.EntryPrice)
		}
		for i, tp := range sig.TakeProfits {
			if tp >= sig.EntryPrice {
				return fmt.Sprintf("SHORT take_profits[%d] %.8g must be below entry %.8g", i, tp, sig.EntryPrice)
			}
		}
	}
	return ""
}
