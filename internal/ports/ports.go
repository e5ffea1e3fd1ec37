package ports

import (
	"context"
	"errors"
	"io"

	"chromate/internal/domain"
)

// ErrMicrophoneDenied marks capture failures where the OS or the sound server
// refused access to the input device.
var ErrMicrophoneDenied = errors.New("microphone access denied")

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	Language       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// CaptureConfig is the speech capture configuration.
type CaptureConfig struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

// CaptureSession is one live capture instance. Signals is closed after the
// end signal has been delivered.
type CaptureSession interface {
	Signals() <-chan domain.CaptureSignal
	Stop() error
}

// CaptureEngine starts capture sessions that turn speech into transcripts.
type CaptureEngine interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// Permissions queries and requests microphone authorization.
type Permissions interface {
	Query(ctx context.Context) (domain.PermissionState, error)
	Request(ctx context.Context) (domain.PermissionState, error)
}

// InterpretRequest is what gets sent to the remote interpreter.
type InterpretRequest struct {
	Message     string
	ElementInfo *domain.ElementContext
	Commands    []string
}

// Interpreter turns a finalized transcript into a structured action.
type Interpreter interface {
	Interpret(ctx context.Context, req InterpretRequest) (domain.Action, error)
	Commands(ctx context.Context) ([]string, error)
}

// ActionDispatcher performs exactly one page effect per action.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action domain.Action) error
}

// Page is the set of effects a page-attached context can perform.
type Page interface {
	ScrollBy(ctx context.Context, viewportFraction float64) error
	Navigate(ctx context.Context, url string) error
	OpenTab(ctx context.Context, url string) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error
	Reload(ctx context.Context) error
	Close(ctx context.Context) error
	Zoom(ctx context.Context) (float64, error)
	SetZoom(ctx context.Context, level float64) error
	ClickHovered(ctx context.Context) (bool, error)
}

// ElementTracker reports the element currently under the pointer.
type ElementTracker interface {
	HoveredElement(ctx context.Context) (*domain.ElementContext, error)
}

// Messenger delivers fire-and-forget messages to another execution context.
type Messenger interface {
	Send(ctx context.Context, contextID string, msg domain.Message) error
}

// TranscriptRewriter applies deterministic corrections to a transcript.
type TranscriptRewriter interface {
	Apply(text string) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(raw string, normalized string)
	ActionExecuted(action domain.Action)
	IndicatorChanged(visible bool)
	SessionError(code domain.ErrorCode, detail string)
}
