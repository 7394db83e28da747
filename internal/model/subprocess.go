package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// SubprocessConfig holds the subprocess engine's configuration.
type SubprocessConfig struct {
	PythonPath string // path to python binary; empty = auto-detect
	ModuleName string // python module exposing `load` and `transcribe` commands
	Logger     *slog.Logger
	DebugPaths bool // if true, log full file paths; otherwise sanitise
}

// SubprocessEngine runs the model through a Python CLI:
//
//	python -m <module> load --model M --device D --compute-type C --json --out <path>
//	python -m <module> transcribe --audio <file> --model M --device D --compute-type C --out <path>
//
// Both commands write a JSON document to --out and report failures on stderr.
type SubprocessEngine struct {
	cfg    SubprocessConfig
	python string // resolved python path
}

// RunResult is the structured outcome of executing an engine subprocess.
type RunResult struct {
	ExitCode   int
	StderrTail string // last N bytes of stderr
	Duration   time.Duration
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// LoadReport is what the `load` command writes once the model is resident.
type LoadReport struct {
	Model         string `json:"model"`
	Device        string `json:"device"`
	ComputeType   string `json:"compute_type"`
	EngineVersion string `json:"engine_version,omitempty"`
}

// NewSubprocessEngine resolves the Python binary and returns the engine.
func NewSubprocessEngine(cfg SubprocessConfig) (*SubprocessEngine, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	cfg.Logger.Info("subprocess engine initialised",
		"python", python,
		"module", cfg.ModuleName,
	)

	return &SubprocessEngine{cfg: cfg, python: python}, nil
}

func (e *SubprocessEngine) Name() string { return "subprocess" }

// Load asks the CLI to load the requested model and confirm it is usable.
func (e *SubprocessEngine) Load(ctx context.Context, opts LoadOptions) (Model, error) {
	workDir, err := os.MkdirTemp("", "stt-engine-")
	if err != nil {
		return nil, fmt.Errorf("cannot create engine work dir: %w", err)
	}

	outPath := filepath.Join(workDir, "load.json")
	args := append([]string{"load"}, modelArgs(opts)...)
	args = append(args, "--json", "--out", outPath)

	result := e.exec(ctx, outPath, args...)
	if !result.IsSuccess() {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("load exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("cannot read load output: %w", err)
	}

	var report LoadReport
	if err := json.Unmarshal(data, &report); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("cannot parse load JSON: %w", err)
	}
	if report.Model == "" {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("load output missing required field: model")
	}

	e.cfg.Logger.Info("engine load probe complete",
		"model", report.Model,
		"device", report.Device,
		"compute_type", report.ComputeType,
		"engine_version", report.EngineVersion,
		"load_ms", result.Duration.Milliseconds(),
	)

	return &subprocessModel{engine: e, opts: opts, workDir: workDir}, nil
}

type subprocessModel struct {
	engine  *SubprocessEngine
	opts    LoadOptions
	workDir string
}

func (m *subprocessModel) Transcribe(ctx context.Context, audioPath string) (*RawResult, error) {
	outPath := filepath.Join(m.workDir, uuid.NewString()+".json")
	defer os.Remove(outPath)

	args := []string{"transcribe", "--audio", audioPath}
	args = append(args, modelArgs(m.opts)...)
	args = append(args, "--out", outPath)

	result := m.engine.exec(ctx, outPath, args...)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("engine exited %d: %s", result.ExitCode, strings.TrimSpace(truncate(result.StderrTail, 512)))
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read transcription output: %w", err)
	}

	var raw RawResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse transcription JSON: %w", err)
	}
	return &raw, nil
}

func (m *subprocessModel) Close() error {
	return os.RemoveAll(m.workDir)
}

func modelArgs(opts LoadOptions) []string {
	return []string{
		"--model", opts.Name,
		"--device", opts.Device,
		"--compute-type", opts.ComputeType,
	}
}

// exec is the core subprocess execution helper.
func (e *SubprocessEngine) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	cmdArgs := append([]string{"-m", e.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, e.python, cmdArgs...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	e.cfg.Logger.Debug("executing engine command",
		"command", args[0],
		"output", e.safePath(outPath),
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		e.cfg.Logger.Warn("engine command failed",
			"command", args[0],
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		e.cfg.Logger.Debug("engine command succeeded",
			"command", args[0],
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (e *SubprocessEngine) safePath(path string) string {
	if e.cfg.DebugPaths {
		return path
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
