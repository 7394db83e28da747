package transcription

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure. The HTTP layer maps each kind to a
// status code; nothing else about the error influences the response status.
type Kind string

const (
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindFileTooLarge        Kind = "file_too_large"
	KindAudioNotFound       Kind = "audio_not_found"
	KindModelNotReady       Kind = "model_not_ready"
	KindInferenceFailed     Kind = "inference_failed"
	KindTranscriptionFailed Kind = "transcription_failed"
)

// Error is the typed failure returned by Pipeline.Process. Message is safe to
// show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Set for KindUnsupportedFormat.
	MimeType string
	Allowed  []string

	// Set for KindFileTooLarge.
	Size    int64
	MaxSize int64
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err. Errors that did not come from the
// pipeline are reported as KindTranscriptionFailed.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTranscriptionFailed
}

func unsupportedFormat(mimeType string, allowed []string) *Error {
	return &Error{
		Kind:     KindUnsupportedFormat,
		Message:  fmt.Sprintf("Unsupported file format: %s. Supported formats: %s", mimeType, strings.Join(allowed, ", ")),
		MimeType: mimeType,
		Allowed:  allowed,
	}
}

func fileTooLarge(size, maxSize int64) *Error {
	return &Error{
		Kind:    KindFileTooLarge,
		Message: fmt.Sprintf("File too large: %d bytes. Maximum: %d bytes", size, maxSize),
		Size:    size,
		MaxSize: maxSize,
	}
}

func failed(kind Kind, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: "Transcription failed: " + err.Error(),
		Err:     err,
	}
}
