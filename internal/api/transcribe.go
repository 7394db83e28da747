package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-stt/internal/history"
	"github.com/heimdex/heimdex-stt/internal/logging"
	"github.com/heimdex/heimdex-stt/internal/metrics"
	"github.com/heimdex/heimdex-stt/internal/transcription"
)

const uploadField = "file"

var errNoFile = errors.New("field required: file")

// transcribeHandler streams the "file" part of a multipart body straight into
// the pipeline. Requests without one are rejected with 422 before staging.
func transcribeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := RequestIDFrom(r.Context())
		logger := logging.WithRequestID(cfg.Logger, requestID)

		part, err := filePart(r)
		if err != nil {
			logger.Warn("malformed upload", "error", err)
			WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		defer part.Close()

		body := &countingReader{r: part}
		up := transcription.Upload{
			MimeType:  part.Header.Get("Content-Type"),
			Filename:  part.FileName(),
			Body:      body,
			RequestID: requestID,
		}

		result, err := cfg.Pipeline.Process(r.Context(), up)

		entry := &history.Entry{
			RequestID:    requestID,
			MimeType:     up.MimeType,
			SizeBytes:    body.n,
			ProcessingMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			kind := transcription.KindOf(err)
			entry.Status = history.StatusError
			entry.Kind = string(kind)
			record(r.Context(), cfg, logger, entry, string(kind))
			writeFailure(w, err)
			return
		}

		entry.Status = history.StatusSuccess
		entry.Language = result.Language
		entry.Duration = result.Duration
		entry.Segments = len(result.Segments)
		record(r.Context(), cfg, logger, entry, metrics.ResultSuccess)

		WriteJSON(w, http.StatusOK, result)
	}
}

// filePart returns the first part named "file" that carries a filename.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, errNoFile
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, errNoFile
		}
		if err != nil {
			return nil, errors.New("malformed multipart body")
		}
		if part.FormName() == uploadField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

// record never affects the response; ledger failures are only logged.
func record(ctx context.Context, cfg ServerConfig, logger *slog.Logger, entry *history.Entry, result string) {
	if cfg.Metrics != nil {
		cfg.Metrics.RecordTranscription(result)
	}
	if cfg.History == nil {
		return
	}
	if err := cfg.History.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("failed to record history", "error", err)
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
