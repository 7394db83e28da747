package history

import "time"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Entry is one finished /transcribe request.
type Entry struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"request_id,omitempty"`
	Status       string    `json:"status"`
	Kind         string    `json:"kind,omitempty"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	Language     string    `json:"language,omitempty"`
	Duration     float64   `json:"duration"`
	Segments     int       `json:"segments"`
	ProcessingMS int64     `json:"processing_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats aggregates the whole ledger.
type Stats struct {
	Total             int            `json:"total"`
	Succeeded         int            `json:"succeeded"`
	Failed            int            `json:"failed"`
	ByKind            map[string]int `json:"by_kind"`
	AvgProcessingMS   float64        `json:"avg_processing_ms"`
	TotalAudioSeconds float64        `json:"total_audio_seconds"`
}
