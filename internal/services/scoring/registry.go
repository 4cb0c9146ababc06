package scoring

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	domsvc "SignalGate/internal/domain/service"
	applogger "SignalGate/pkg/logger"
)

// Loader builds a fresh model from its source.
type Loader func(ctx context.Context) (domsvc.Model, error)

type loaded struct {
	model    domsvc.Model
	loadedAt time.Time
}

// ModelInfo describes the active model.
type ModelInfo struct {
	Version  string    `json:"version"`
	Features []string  `json:"features"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Registry holds the active model behind an atomic pointer. Readers take
// the pointer once per call and keep using that model even if a swap
// happens mid-call.
type Registry struct {
	current atomic.Pointer[loaded]
	loader  Loader
	l       *applogger.Logger
}

func NewRegistry(loader Loader, l *applogger.Logger) *Registry {
	return &Registry{loader: loader, l: l}
}

// Current returns the active model or nil if none is installed.
func (r *Registry) Current() domsvc.Model {
	if h := r.current.Load(); h != nil {
		return h.model
	}
	return nil
}

// Swap installs m and returns the model it replaced.
func (r *Registry) Swap(m domsvc.Model) domsvc.Model {
	prev := r.current.Swap(&loaded{model: m, loadedAt: time.Now()})
	if prev == nil {
		return nil
	}
	return prev.model
}

func (r *Registry) Info() (ModelInfo, bool) {
	h := r.current.Load()
	if h == nil || h.model == nil {
		return ModelInfo{}, false
	}
	return ModelInfo{
		Version:  h.model.Version(),
		Features: h.model.Features(),
		LoadedAt: h.loadedAt,
	}, true
}

// Reload builds a model with the loader and installs it. On failure the
// active model stays in place.
func (r *Registry) Reload(ctx context.Context) (ModelInfo, error) {
	if r.loader == nil {
		return ModelInfo{}, fmt.Errorf("no model loader configured")
	}
	m, err := r.loader(ctx)
	if err != nil {
		r.l.Error("model reload failed", applogger.Error(err))
		return ModelInfo{}, err
	}
	prev := r.Swap(m)

	fields := []applogger.Field{applogger.String("version", m.Version()), applogger.Int("features", len(m.Features()))}
	if prev != nil {
		fields = append(fields, applogger.String("previous", prev.Version()))
	}
	r.l.Info("model installed", fields...)

	info, _ := r.Info()
	return info, nil
}
