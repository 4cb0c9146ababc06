package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("signal validation failed")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrFeatureMismatch  = errors.New("feature mismatch")
	ErrQueueFull        = errors.New("signal queue full")
	ErrQueueEmpty       = errors.New("signal queue empty")
	ErrStaleEntry       = errors.New("queue entry expired")
)

// FeatureMismatchError lists the differences between a signal's features
// and the model schema.
type FeatureMismatchError struct {
	Missing    []string
	Unexpected []string
}

func (e *FeatureMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing ["+strings.Join(e.Missing, ",")+"]")
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected ["+strings.Join(e.Unexpected, ",")+"]")
	}
	return fmt.Sprintf("%s: %s", ErrFeatureMismatch, strings.Join(parts, " "))
}

func (e *FeatureMismatchError) Unwrap() error { return ErrFeatureMismatch }
