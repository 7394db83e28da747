// Package model owns the speech-recognition model for the lifetime of the
// process. An Engine knows how to load a model; the Adapter holds the single
// loaded reference and serves synchronous inference against it.
package model

import (
	"context"
	"errors"
)

var (
	// ErrModelNotReady is returned when no model reference is held.
	ErrModelNotReady = errors.New("model not initialized")

	// ErrAudioNotFound is returned when the audio path does not exist.
	ErrAudioNotFound = errors.New("audio file not found")
)

// InferenceError wraps anything the model layer itself raises: corrupt audio,
// unsupported codecs, out-of-memory and so on.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }

// LoadOptions selects which pretrained model to load and where.
type LoadOptions struct {
	Name        string // tiny, base, small, medium, large...
	Device      string // cpu, cuda, auto
	ComputeType string // int8, float16, float32
}

// RawSegment is a timed span exactly as the model produced it.
type RawSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// RawResult is the unnormalised output of one inference call.
// LanguageProbability is nil when the model does not report a confidence.
type RawResult struct {
	Text                string       `json:"text"`
	Language            string       `json:"language,omitempty"`
	LanguageProbability *float64     `json:"language_probability,omitempty"`
	Segments            []RawSegment `json:"segments"`
}

// Engine loads models. Implementations: subprocess (Python CLI), openai
// (OpenAI-compatible HTTP server).
type Engine interface {
	Name() string
	Load(ctx context.Context, opts LoadOptions) (Model, error)
}

// Model is a loaded model instance. Transcribe may be called concurrently.
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (*RawResult, error)
	Close() error
}
