package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Adapter is the Model Runtime Adapter. It holds at most one loaded model,
// initialised once and never reloaded.
type Adapter struct {
	engine Engine
	opts   LoadOptions
	logger *slog.Logger

	// current is read lock-free by IsReady and Transcribe.
	current atomic.Pointer[loadedModel]

	// inflight is held shared by every running inference so Unload can wait
	// for them before closing the model.
	inflight sync.RWMutex

	initOnce sync.Once
	loadErr  error
}

type loadedModel struct {
	model    Model
	loadedAt time.Time
}

// NewAdapter creates an adapter for the given engine. Call Initialize to load.
func NewAdapter(engine Engine, opts LoadOptions, logger *slog.Logger) *Adapter {
	return &Adapter{
		engine: engine,
		opts:   opts,
		logger: logger,
	}
}

// Initialize loads the model. It runs at most once; a failed load leaves the
// adapter unhealthy for the rest of the process and is not retried.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.logger.Info("loading speech model",
			"engine", a.engine.Name(),
			"model", a.opts.Name,
			"device", a.opts.Device,
			"compute_type", a.opts.ComputeType,
		)

		start := time.Now()
		m, err := a.engine.Load(ctx, a.opts)
		if err != nil {
			a.loadErr = fmt.Errorf("failed to load model %s: %w", a.opts.Name, err)
			a.logger.Error("speech model load failed", "error", err)
			return
		}

		a.current.Store(&loadedModel{model: m, loadedAt: time.Now()})
		a.logger.Info("speech model loaded",
			"model", a.opts.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
	return a.loadErr
}

// IsReady reports whether a model reference is held. No I/O.
func (a *Adapter) IsReady() bool {
	return a.current.Load() != nil
}

// LoadError returns the initialisation failure, if any.
func (a *Adapter) LoadError() error {
	return a.loadErr
}

// Options returns the options the model was (or would be) loaded with.
func (a *Adapter) Options() LoadOptions {
	return a.opts
}

// Transcribe runs inference on an already staged file. It blocks for as long
// as the model needs; ctx cancellation is honoured only if the engine does.
func (a *Adapter) Transcribe(ctx context.Context, audioPath string) (*RawResult, error) {
	a.inflight.RLock()
	defer a.inflight.RUnlock()

	lm := a.current.Load()
	if lm == nil {
		return nil, ErrModelNotReady
	}

	if _, err := os.Stat(audioPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAudioNotFound, audioPath)
		}
		return nil, &InferenceError{Err: err}
	}

	result, err := lm.model.Transcribe(ctx, audioPath)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	if result == nil {
		return nil, &InferenceError{Err: errors.New("model returned no result")}
	}
	return result, nil
}

// Unload clears the model reference and releases it once in-flight
// inferences have finished. Health reports unready immediately.
func (a *Adapter) Unload() error {
	lm := a.current.Swap(nil)
	if lm == nil {
		return nil
	}

	a.inflight.Lock()
	defer a.inflight.Unlock()

	a.logger.Info("unloading speech model", "model", a.opts.Name, "loaded_for", time.Since(lm.loadedAt).String())
	return lm.model.Close()
}

// Close releases the model. Equivalent to Unload.
func (a *Adapter) Close() error {
	return a.Unload()
}
