// Package audio records the microphone through an ffmpeg subprocess and
// answers microphone permission queries for it.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"chromate/internal/ports"
)

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopTimeout  = 1200 * time.Millisecond
	stderrLimit         = 4096
)

// exitSettle bounds how long a read that hit EOF waits for the exit status.
const exitSettle = 500 * time.Millisecond

// FailureKind classifies why the recorder stopped producing audio.
type FailureKind string

const (
	FailureDenied FailureKind = "denied"
	FailureDevice FailureKind = "device"
	FailureExited FailureKind = "exited"
)

// deniedMarkers are stderr fragments ffmpeg and its input backends print when
// the microphone is refused rather than missing.
var deniedMarkers = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
	"not permitted to access",
	"connection refused",
	"access to the microphone",
}

var deviceMarkers = []string{
	"no such file or directory",
	"no such device",
	"no such entity",
	"device or resource busy",
	"input/output error",
	"cannot open audio device",
}

// RecorderError reports a recorder that failed to start or died while
// recording. Denials match ports.ErrMicrophoneDenied.
type RecorderError struct {
	Kind   FailureKind
	Stderr string
	Err    error
}

func (e *RecorderError) Error() string {
	msg := "microphone recorder " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *RecorderError) Unwrap() error { return e.Err }

func (e *RecorderError) Is(target error) bool {
	return target == ports.ErrMicrophoneDenied && e.Kind == FailureDenied
}

// classifyFailure maps recorder stderr onto a failure kind.
func classifyFailure(stderr string) FailureKind {
	lower := strings.ToLower(stderr)
	for _, marker := range deniedMarkers {
		if strings.Contains(lower, marker) {
			return FailureDenied
		}
	}
	for _, marker := range deviceMarkers {
		if strings.Contains(lower, marker) {
			return FailureDevice
		}
	}
	return FailureExited
}

// RecorderConfig controls the ffmpeg subprocess.
type RecorderConfig struct {
	Command string
	// Grace is how long the process must survive before it counts as recording.
	Grace time.Duration
	// StopTimeout is how long Stop waits after an interrupt before killing.
	StopTimeout time.Duration
}

// Recorder implements ports.AudioCapture with ffmpeg emitting s16le PCM on stdout.
type Recorder struct {
	cfg    RecorderConfig
	logger *zap.Logger
}

func NewRecorder(cfg RecorderConfig, logger *zap.Logger) *Recorder {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultStartupGrace
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{cfg: cfg, logger: logger}
}

func recorderArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", cfg.InputFormat, "-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le", "-",
	}
}

// Start launches the recorder. A process that exits inside the grace period
// is reported as a *RecorderError.
func (r *Recorder) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	args := recorderArgs(cfg)
	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, &RecorderError{Kind: FailureDenied, Err: err}
		}
		return nil, fmt.Errorf("start recorder: %w", err)
	}

	rec := &recording{
		stdout:      stdout,
		stderr:      stderr,
		process:     cmd.Process,
		exited:      make(chan struct{}),
		stopping:    make(chan struct{}),
		stopTimeout: r.cfg.StopTimeout,
		logger:      r.logger,
	}
	go func() {
		rec.exitErr = cmd.Wait()
		close(rec.exited)
	}()

	select {
	case <-rec.exited:
		failure := &RecorderError{
			Kind:   classifyFailure(stderr.String()),
			Stderr: stderr.String(),
			Err:    rec.exitErr,
		}
		r.logger.Warn("recorder exited during startup", zap.String("kind", string(failure.Kind)), zap.String("stderr", failure.Stderr))
		return nil, failure
	case <-time.After(r.cfg.Grace):
	}

	r.logger.Debug("recorder started", zap.Strings("args", args))
	return rec, nil
}

type recording struct {
	stdout      io.ReadCloser
	stderr      *tailBuffer
	process     *os.Process
	stopTimeout time.Duration
	logger      *zap.Logger

	// exitErr is written once before exited is closed.
	exited  chan struct{}
	exitErr error

	stopping chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// Read returns PCM audio. When the recorder dies on its own the stream ends
// with a *RecorderError instead of io.EOF, so a revoked microphone is not
// mistaken for a clean end.
func (r *recording) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if err == nil || r.isStopping() {
		return n, err
	}
	// Wait closes the pipe once the process is gone.
	if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		return n, err
	}

	select {
	case <-r.exited:
	case <-time.After(exitSettle):
		return n, io.EOF
	}
	if r.exitErr == nil {
		return n, io.EOF
	}
	return n, &RecorderError{
		Kind:   classifyFailure(r.stderr.String()),
		Stderr: r.stderr.String(),
		Err:    r.exitErr,
	}
}

func (r *recording) isStopping() bool {
	select {
	case <-r.stopping:
		return true
	default:
		return false
	}
}

func (r *recording) Close() error { return r.Stop() }

// Stop interrupts the recorder, escalating to kill after the stop timeout.
// An exit status caused by the interrupt is not an error.
func (r *recording) Stop() error {
	r.stopOnce.Do(func() {
		close(r.stopping)
		_ = r.process.Signal(os.Interrupt)

		select {
		case <-r.exited:
		case <-time.After(r.stopTimeout):
			_ = r.process.Kill()
			<-r.exited
		}

		var exitErr *exec.ExitError
		if r.exitErr != nil && !errors.As(r.exitErr, &exitErr) {
			r.stopErr = r.exitErr
		}
		if closeErr := r.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && r.stopErr == nil {
			r.stopErr = closeErr
		}
		r.logger.Debug("recorder stopped", zap.Error(r.stopErr))
	})
	return r.stopErr
}

// tailBuffer keeps the last limit bytes written to it. Writes come from the
// exec copy goroutine.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.buf.String())
}
