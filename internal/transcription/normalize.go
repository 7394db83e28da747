package transcription

import (
	"math"
	"strings"

	"github.com/heimdex/heimdex-stt/internal/model"
)

// UnknownLanguage is reported when the model does not detect a language.
const UnknownLanguage = "unknown"

// Segment is one timed span of the transcript.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the response body of a successful transcription.
type Result struct {
	Transcript          string    `json:"transcript"`
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Duration            float64   `json:"duration"`
	Segments            []Segment `json:"segments"`
}

// Normalize reshapes raw model output into the wire contract: times rounded to
// two decimals, text trimmed, duration taken from the last segment, and
// defaults for a missing language or confidence.
func Normalize(raw *model.RawResult) Result {
	segments := make([]Segment, 0, len(raw.Segments))
	for _, s := range raw.Segments {
		start := math.Max(round2(s.Start), 0)
		end := math.Max(round2(s.End), start)
		segments = append(segments, Segment{
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(s.Text),
		})
	}

	duration := 0.0
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}

	language := strings.TrimSpace(raw.Language)
	if language == "" {
		language = UnknownLanguage
	}

	probability := 1.0
	if raw.LanguageProbability != nil {
		probability = math.Min(math.Max(*raw.LanguageProbability, 0), 1)
	}

	return Result{
		Transcript:          strings.TrimSpace(raw.Text),
		Language:            language,
		LanguageProbability: probability,
		Duration:            duration,
		Segments:            segments,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
