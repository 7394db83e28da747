package api

import (
	"net/http"

	"github.com/heimdex/heimdex-stt/internal/transcription"
)

// StatusForKind maps a pipeline failure kind to its HTTP status.
func StatusForKind(kind transcription.Kind) int {
	switch kind {
	case transcription.KindUnsupportedFormat:
		return http.StatusBadRequest
	case transcription.KindFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case transcription.KindAudioNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure writes a pipeline error. Only the error's kind picks the status.
func writeFailure(w http.ResponseWriter, err error) {
	WriteError(w, StatusForKind(transcription.KindOf(err)), err.Error())
}
