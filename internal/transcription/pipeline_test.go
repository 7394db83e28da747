package transcription

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/heimdex-stt/internal/audio"
	"github.com/heimdex/heimdex-stt/internal/logging"
	"github.com/heimdex/heimdex-stt/internal/model"
)

type fakeTranscriber struct {
	result *model.RawResult
	err    error

	mu    sync.Mutex
	paths []string
	check func(path string)
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (*model.RawResult, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	if f.check != nil {
		f.check(path)
	}
	return f.result, f.err
}

type countingRecorder struct {
	mu              sync.Mutex
	uploads         int
	audioSeconds    float64
	inferences      int
	inferenceErrors int
	cleanupFailures int
}

func (r *countingRecorder) RecordUpload(int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads++
}

func (r *countingRecorder) RecordAudioDuration(s float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioSeconds += s
}

func (r *countingRecorder) RecordInference(_ float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inferences++
	if err != nil {
		r.inferenceErrors++
	}
}

func (r *countingRecorder) RecordCleanupFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupFailures++
}

func newTestPipeline(t *testing.T, tr Transcriber, rec Recorder) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	p := NewPipeline(Config{
		AllowedFormats: []string{"audio/wav", "audio/mpeg"},
		MaxFileSize:    1024,
		UploadDir:      dir,
	}, tr, rec, logging.Discard())
	return p, dir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Fatalf("staging dir not empty: %v", names)
	}
}

func upload(mime, name string, body []byte) Upload {
	return Upload{MimeType: mime, Filename: name, Body: bytes.NewReader(body)}
}

func TestProcess_Success(t *testing.T) {
	prob := 0.42
	tr := &fakeTranscriber{result: &model.RawResult{
		Text:                "  hello world  ",
		Language:            "en",
		LanguageProbability: &prob,
		Segments: []model.RawSegment{
			{Start: 0, End: 0.504, Text: " hello "},
			{Start: 0.504, End: 1.236, Text: " world"},
		},
	}}
	p, dir := newTestPipeline(t, tr, nil)

	res, err := p.Process(context.Background(), upload("audio/wav", "test.wav", []byte("RIFF data")))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if res.Transcript != "hello world" {
		t.Errorf("Transcript = %q, want %q", res.Transcript, "hello world")
	}
	if res.Language != "en" || res.LanguageProbability != 0.42 {
		t.Errorf("language = %s/%v, want en/0.42", res.Language, res.LanguageProbability)
	}
	if res.Duration != 1.24 {
		t.Errorf("Duration = %v, want 1.24", res.Duration)
	}
	if len(res.Segments) != 2 || res.Segments[0].End != 0.5 || res.Segments[0].Text != "hello" {
		t.Errorf("Segments = %+v", res.Segments)
	}

	if len(tr.paths) != 1 {
		t.Fatalf("transcriber called %d times, want 1", len(tr.paths))
	}
	staged := tr.paths[0]
	if filepath.Dir(staged) != dir {
		t.Errorf("staged in %s, want %s", filepath.Dir(staged), dir)
	}
	if !strings.HasSuffix(staged, ".wav") {
		t.Errorf("staged path %s lost the original extension", staged)
	}
	assertDirEmpty(t, dir)
}

func TestProcess_StagesBytesVerbatim(t *testing.T) {
	body := []byte("RIFF\x00\x01\x02binary\r\n payload")
	tr := &fakeTranscriber{result: &model.RawResult{}}
	tr.check = func(path string) {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("read staged file: %v", err)
			return
		}
		if !bytes.Equal(got, body) {
			t.Errorf("staged bytes = %q, want %q", got, body)
		}
	}
	p, dir := newTestPipeline(t, tr, nil)

	if _, err := p.Process(context.Background(), upload("audio/wav", "a.wav", body)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	assertDirEmpty(t, dir)
}

func TestProcess_UnsupportedFormat(t *testing.T) {
	tr := &fakeTranscriber{result: &model.RawResult{}}
	p, dir := newTestPipeline(t, tr, nil)

	for _, mime := range []string{"text/plain", "AUDIO/WAV", ""} {
		_, err := p.Process(context.Background(), upload(mime, "test.txt", []byte("This is not an audio file")))

		var te *Error
		if !errors.As(err, &te) || te.Kind != KindUnsupportedFormat {
			t.Fatalf("Process(%q) error = %v, want unsupported format", mime, err)
		}
		if !strings.Contains(te.Message, "Unsupported file format: "+mime) {
			t.Errorf("message = %q, want rejected type named", te.Message)
		}
		if !strings.Contains(te.Message, "audio/wav, audio/mpeg") {
			t.Errorf("message = %q, want allow-list", te.Message)
		}
	}
	if len(tr.paths) != 0 {
		t.Error("transcriber called for an unsupported format")
	}
	assertDirEmpty(t, dir)
}

func TestProcess_FileTooLarge(t *testing.T) {
	tr := &fakeTranscriber{result: &model.RawResult{}}
	p, dir := newTestPipeline(t, tr, nil)

	_, err := p.Process(context.Background(), upload("audio/wav", "big.wav", bytes.Repeat([]byte("0"), 1025)))

	var te *Error
	if !errors.As(err, &te) || te.Kind != KindFileTooLarge {
		t.Fatalf("error = %v, want file too large", err)
	}
	if te.Size != 1025 || te.MaxSize != 1024 {
		t.Errorf("size = %d/%d, want 1025/1024", te.Size, te.MaxSize)
	}
	if te.Message != "File too large: 1025 bytes. Maximum: 1024 bytes" {
		t.Errorf("message = %q", te.Message)
	}
	if len(tr.paths) != 0 {
		t.Error("transcriber called for an oversized file")
	}
	assertDirEmpty(t, dir)
}

func TestProcess_ExactlyMaxSizeIsAccepted(t *testing.T) {
	tr := &fakeTranscriber{result: &model.RawResult{}}
	p, dir := newTestPipeline(t, tr, nil)

	if _, err := p.Process(context.Background(), upload("audio/wav", "a.wav", bytes.Repeat([]byte("0"), 1024))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	assertDirEmpty(t, dir)
}

func TestProcess_ErrorKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantKind   Kind
		wantPrefix string
	}{
		{"audio not found", model.ErrAudioNotFound, KindAudioNotFound, "Audio file not found"},
		{"model not ready", model.ErrModelNotReady, KindModelNotReady, "Transcription failed: Model not initialized"},
		{"inference failed", &model.InferenceError{Err: errors.New("corrupt audio")}, KindInferenceFailed, "Transcription failed: corrupt audio"},
		{"unexpected", errors.New("boom"), KindTranscriptionFailed, "Transcription failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &countingRecorder{}
			p, dir := newTestPipeline(t, &fakeTranscriber{err: tt.err}, rec)

			_, err := p.Process(context.Background(), upload("audio/mpeg", "a.mp3", []byte("ID3")))
			if got := KindOf(err); got != tt.wantKind {
				t.Fatalf("KindOf(%v) = %s, want %s", err, got, tt.wantKind)
			}
			if !strings.HasPrefix(err.Error(), tt.wantPrefix) {
				t.Errorf("message = %q, want prefix %q", err.Error(), tt.wantPrefix)
			}
			if !errors.Is(err, tt.err) {
				t.Error("pipeline error does not unwrap to the cause")
			}
			if rec.inferenceErrors != 1 {
				t.Errorf("inference errors recorded = %d, want 1", rec.inferenceErrors)
			}
			assertDirEmpty(t, dir)
		})
	}
}

type failingReader struct{ n int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		k := copy(p, bytes.Repeat([]byte("x"), r.n))
		r.n -= k
		return k, nil
	}
	return 0, io.ErrUnexpectedEOF
}

func TestProcess_PartialWriteIsCleanedUp(t *testing.T) {
	tr := &fakeTranscriber{result: &model.RawResult{}}
	p, dir := newTestPipeline(t, tr, nil)

	_, err := p.Process(context.Background(), Upload{MimeType: "audio/wav", Filename: "a.wav", Body: &failingReader{n: 10}})
	if KindOf(err) != KindTranscriptionFailed {
		t.Fatalf("error = %v, want transcription failed", err)
	}
	assertDirEmpty(t, dir)
}

func TestProcess_StagingDirMissing(t *testing.T) {
	p := NewPipeline(Config{
		AllowedFormats: []string{"audio/wav"},
		MaxFileSize:    1024,
		UploadDir:      filepath.Join(t.TempDir(), "missing"),
	}, &fakeTranscriber{result: &model.RawResult{}}, nil, logging.Discard())

	_, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF")))
	if KindOf(err) != KindTranscriptionFailed {
		t.Fatalf("error = %v, want transcription failed", err)
	}
}

func TestProcess_RepeatedUploadsAreIndependent(t *testing.T) {
	tr := &fakeTranscriber{result: &model.RawResult{Text: "same"}}
	p, dir := newTestPipeline(t, tr, nil)

	for i := 0; i < 2; i++ {
		res, err := p.Process(context.Background(), upload("audio/wav", "same.wav", []byte("RIFF")))
		if err != nil {
			t.Fatalf("Process() #%d error = %v", i, err)
		}
		if res.Transcript != "same" {
			t.Errorf("Transcript = %q", res.Transcript)
		}
		assertDirEmpty(t, dir)
	}
	if tr.paths[0] == tr.paths[1] {
		t.Errorf("staging path reused: %s", tr.paths[0])
	}
}

func TestProcess_ConcurrentUploadsNeverCollide(t *testing.T) {
	tr := &fakeTranscriber{result: &model.RawResult{}}
	p, dir := newTestPipeline(t, tr, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF"))); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, path := range tr.paths {
		if seen[path] {
			t.Errorf("duplicate staging path %s", path)
		}
		seen[path] = true
	}
	assertDirEmpty(t, dir)
}

func TestProcess_IgnoresRequestCancellation(t *testing.T) {
	var sawCancelled bool
	p, dir := newTestPipeline(t, transcriberFunc(func(ctx context.Context, path string) (*model.RawResult, error) {
		sawCancelled = ctx.Err() != nil
		return &model.RawResult{Text: "done"}, nil
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Process(ctx, upload("audio/wav", "a.wav", []byte("RIFF"))); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if sawCancelled {
		t.Error("inference context was cancelled by the request context")
	}
	assertDirEmpty(t, dir)
}

func TestProcess_InferenceTimeout(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(Config{
		AllowedFormats:   []string{"audio/wav"},
		MaxFileSize:      1024,
		UploadDir:        dir,
		InferenceTimeout: 20 * time.Millisecond,
	}, transcriberFunc(func(ctx context.Context, path string) (*model.RawResult, error) {
		<-ctx.Done()
		return nil, &model.InferenceError{Err: ctx.Err()}
	}), nil, logging.Discard())

	_, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF")))
	if KindOf(err) != KindInferenceFailed {
		t.Fatalf("error = %v, want inference failed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded cause", err)
	}
	assertDirEmpty(t, dir)
}

func TestProcess_RecordsWAVAudioDuration(t *testing.T) {
	src := filepath.Join(t.TempDir(), "silence.wav")
	if err := audio.WriteSilenceFile(src, 16000, time.Second); err != nil {
		t.Fatalf("WriteSilenceFile() error = %v", err)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}

	rec := &countingRecorder{}
	dir := t.TempDir()
	p := NewPipeline(Config{
		AllowedFormats: []string{"audio/wav"},
		MaxFileSize:    1 << 20,
		UploadDir:      dir,
	}, &fakeTranscriber{result: &model.RawResult{}}, rec, logging.Discard())

	if _, err := p.Process(context.Background(), upload("audio/wav", "silence.wav", data)); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.uploads != 1 {
		t.Errorf("uploads recorded = %d, want 1", rec.uploads)
	}
	if rec.audioSeconds != 1 {
		t.Errorf("audio seconds recorded = %v, want 1", rec.audioSeconds)
	}
	if rec.inferences != 1 || rec.inferenceErrors != 0 {
		t.Errorf("inferences = %d (errors %d), want 1 (0)", rec.inferences, rec.inferenceErrors)
	}
	assertDirEmpty(t, dir)
}

type transcriberFunc func(ctx context.Context, path string) (*model.RawResult, error)

func (f transcriberFunc) Transcribe(ctx context.Context, path string) (*model.RawResult, error) {
	return f(ctx, path)
}

// blockStagedPath swaps the staged file for a non-empty directory so the
// pipeline's removal fails.
func blockStagedPath(t *testing.T, path string) {
	t.Helper()
	if err := os.Remove(path); err != nil {
		t.Errorf("remove staged file: %v", err)
		return
	}
	if err := os.Mkdir(path, 0700); err != nil {
		t.Errorf("mkdir: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0600); err != nil {
		t.Errorf("write: %v", err)
	}
}

func TestProcess_CleanupFailureDoesNotChangeOutcome(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		rec := &countingRecorder{}
		tr := &fakeTranscriber{result: &model.RawResult{Text: "hi"}}
		tr.check = func(path string) { blockStagedPath(t, path) }
		p, _ := newTestPipeline(t, tr, rec)

		res, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF")))
		if err != nil {
			t.Fatalf("Process() error = %v, want nil", err)
		}
		if res.Transcript != "hi" {
			t.Errorf("Transcript = %q, want hi", res.Transcript)
		}
		if rec.cleanupFailures != 1 {
			t.Errorf("cleanup failures recorded = %d, want 1", rec.cleanupFailures)
		}
	})

	t.Run("inference error", func(t *testing.T) {
		rec := &countingRecorder{}
		tr := &fakeTranscriber{err: &model.InferenceError{Err: errors.New("corrupt audio")}}
		tr.check = func(path string) { blockStagedPath(t, path) }
		p, _ := newTestPipeline(t, tr, rec)

		_, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF")))
		if got := KindOf(err); got != KindInferenceFailed {
			t.Fatalf("KindOf(%v) = %s, want %s", err, got, KindInferenceFailed)
		}
		if err.Error() != "Transcription failed: corrupt audio" {
			t.Errorf("message = %q", err.Error())
		}
		if rec.cleanupFailures != 1 {
			t.Errorf("cleanup failures recorded = %d, want 1", rec.cleanupFailures)
		}
	})
}

func TestPipeline_DrainWaitsForInflight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p, dir := newTestPipeline(t, transcriberFunc(func(ctx context.Context, path string) (*model.RawResult, error) {
		close(started)
		<-release
		return &model.RawResult{Text: "late"}, nil
	}), nil)

	processErr := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF")))
		processErr <- err
	}()
	<-started

	drained := make(chan struct{})
	go func() {
		p.Drain()
		close(drained)
	}()

	select {
	case <-drained:
		t.Fatal("Drain() returned while a transcription was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("Drain() did not return after the transcription finished")
	}

	if err := <-processErr; err != nil {
		t.Errorf("in-flight Process() error = %v, want nil", err)
	}
	assertDirEmpty(t, dir)

	_, err := p.Process(context.Background(), upload("audio/wav", "a.wav", []byte("RIFF")))
	if !errors.Is(err, ErrDraining) {
		t.Errorf("Process() after Drain error = %v, want ErrDraining", err)
	}
	assertDirEmpty(t, dir)
}
