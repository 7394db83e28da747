// Package transcription turns one uploaded audio file into a transcript:
// format check, staging, size check, inference, normalisation and cleanup.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/heimdex/heimdex-stt/internal/audio"
	"github.com/heimdex/heimdex-stt/internal/logging"
	"github.com/heimdex/heimdex-stt/internal/model"
)

// ErrDraining is returned by Process once Drain has been called.
var ErrDraining = errors.New("service shutting down")

// Transcriber runs inference on a staged file. *model.Adapter implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*model.RawResult, error)
}

// Recorder receives pipeline measurements. *metrics.Metrics implements it.
type Recorder interface {
	RecordUpload(sizeBytes int64)
	RecordAudioDuration(seconds float64)
	RecordInference(durationSeconds float64, err error)
	RecordCleanupFailure()
}

// Upload is one request's file as received by the HTTP layer.
type Upload struct {
	MimeType  string
	Filename  string
	Body      io.Reader
	RequestID string
}

// Config holds the pipeline's read-only settings.
type Config struct {
	AllowedFormats   []string
	MaxFileSize      int64
	UploadDir        string
	InferenceTimeout time.Duration // zero = unbounded
}

// Pipeline handles uploads independently; it keeps no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	cfg      Config
	model    Transcriber
	recorder Recorder
	logger   *slog.Logger
	allowed  map[string]struct{}

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// NewPipeline creates a pipeline. recorder may be nil.
func NewPipeline(cfg Config, m Transcriber, recorder Recorder, logger *slog.Logger) *Pipeline {
	allowed := make(map[string]struct{}, len(cfg.AllowedFormats))
	for _, f := range cfg.AllowedFormats {
		allowed[f] = struct{}{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Pipeline{
		cfg:      cfg,
		model:    m,
		recorder: recorder,
		logger:   logging.WithComponent(logger, "pipeline"),
		allowed:  allowed,
	}
}

// Process runs one upload to completion. The returned error is always a
// *Error. Whatever happens, the staged file is gone when Process returns.
//
// Cancellation of ctx does not abort inference; only InferenceTimeout bounds it.
func (p *Pipeline) Process(ctx context.Context, up Upload) (*Result, error) {
	if !p.enter() {
		return nil, failed(KindTranscriptionFailed, ErrDraining)
	}
	defer p.inflight.Done()

	logger := p.logger
	if up.RequestID != "" {
		logger = logging.WithRequestID(logger, up.RequestID)
	}

	// Exact, case-sensitive match before anything touches the disk.
	if _, ok := p.allowed[up.MimeType]; !ok {
		return nil, unsupportedFormat(up.MimeType, p.cfg.AllowedFormats)
	}

	logger.Info("saving uploaded file", "filename", up.Filename, "mime_type", up.MimeType)

	staged, err := stage(p.cfg.UploadDir, up.Filename, up.Body)
	if staged != nil {
		defer p.cleanup(logger, staged)
	}
	if err != nil {
		return nil, failed(KindTranscriptionFailed, err)
	}

	// Checked after the write; the copy itself is not bounded.
	if staged.Size > p.cfg.MaxFileSize {
		return nil, fileTooLarge(staged.Size, p.cfg.MaxFileSize)
	}

	p.recorder.RecordUpload(staged.Size)
	logger.Info("file saved",
		"path", logging.SanitizePath(staged.Path),
		"size_bytes", staged.Size,
		"size", humanize.Bytes(uint64(staged.Size)),
	)

	if audio.IsWAVType(up.MimeType) {
		if info, err := audio.Probe(staged.Path); err == nil {
			p.recorder.RecordAudioDuration(info.Duration.Seconds())
			logger.Debug("wav header",
				"sample_rate", info.SampleRate,
				"channels", info.Channels,
				"bit_depth", info.BitDepth,
				"audio_seconds", info.Duration.Seconds(),
			)
		} else {
			logger.Debug("wav probe failed", "error", err)
		}
	}

	raw, err := p.invoke(ctx, staged.Path)
	if err != nil {
		logger.Error("transcription error", "error", err)
		return nil, classify(err, staged.Path)
	}

	result := Normalize(raw)
	logger.Info("transcription complete",
		"language", result.Language,
		"duration", fmt.Sprintf("%.2fs", result.Duration),
		"segments", len(result.Segments),
	)
	return &result, nil
}

func (p *Pipeline) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.inflight.Add(1)
	return true
}

// Drain rejects new uploads and blocks until every running Process call,
// including its staged file cleanup, has returned.
func (p *Pipeline) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.inflight.Wait()
}

func (p *Pipeline) invoke(ctx context.Context, path string) (*model.RawResult, error) {
	ctx = context.WithoutCancel(ctx)
	if p.cfg.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.InferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := p.model.Transcribe(ctx, path)
	p.recorder.RecordInference(time.Since(start).Seconds(), err)
	return raw, err
}

// cleanup never changes the request's outcome; failures are only logged.
func (p *Pipeline) cleanup(logger *slog.Logger, staged *StagedFile) {
	if err := staged.Remove(); err != nil {
		p.recorder.RecordCleanupFailure()
		logger.Warn("failed to clean up staged file",
			"path", logging.SanitizePath(staged.Path),
			"error", err,
		)
		return
	}
	logger.Info("cleaned up temporary file", "path", logging.SanitizePath(staged.Path))
}

func classify(err error, path string) *Error {
	var ie *model.InferenceError
	switch {
	case errors.Is(err, model.ErrAudioNotFound):
		return &Error{
			Kind:    KindAudioNotFound,
			Message: "Audio file not found: " + filepath.Base(path),
			Err:     err,
		}
	case errors.Is(err, model.ErrModelNotReady):
		return &Error{
			Kind:    KindModelNotReady,
			Message: "Transcription failed: Model not initialized",
			Err:     err,
		}
	case errors.As(err, &ie):
		return failed(KindInferenceFailed, ie)
	default:
		return failed(KindTranscriptionFailed, err)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordUpload(int64)             {}
func (nopRecorder) RecordAudioDuration(float64)    {}
func (nopRecorder) RecordInference(float64, error) {}
func (nopRecorder) RecordCleanupFailure()          {}
