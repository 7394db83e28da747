// Package audio provides small helpers for inspecting and producing WAV files.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned by Probe when the file is not a valid RIFF/WAVE file.
var ErrNotWAV = errors.New("not a valid WAV file")

// Info describes a WAV file's format.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe reads the WAV header at path. Only the header is decoded.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, ErrNotWAV
	}

	// The RIFF size includes the headers; the data chunk size is exact.
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("find wav data chunk: %w", err)
	}

	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	bytesPerSec := info.SampleRate * info.Channels * info.BitDepth / 8
	if bytesPerSec > 0 {
		info.Duration = time.Duration(float64(dec.PCMSize) / float64(bytesPerSec) * float64(time.Second))
	}
	return info, nil
}

// IsWAVType reports whether a declared MIME type names a WAV container.
func IsWAVType(mimeType string) bool {
	switch mimeType {
	case "audio/wav", "audio/wave", "audio/x-wav":
		return true
	}
	return false
}

// WriteSilence encodes a mono 16-bit PCM WAV of the given length to w.
func WriteSilence(w io.WriteSeeker, sampleRate int, d time.Duration) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	n := int(float64(sampleRate) * d.Seconds())
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	return enc.Close()
}

// WriteSilenceFile creates path and writes a silent WAV into it.
func WriteSilenceFile(path string, sampleRate int, d time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteSilence(f, sampleRate, d); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
