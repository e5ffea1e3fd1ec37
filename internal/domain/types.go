package domain

// SessionState models the voice-command session lifecycle.
type SessionState string

const (
	SessionStateIdle         SessionState = "idle"
	SessionStateListening    SessionState = "listening"
	SessionStateInterpreting SessionState = "interpreting"
	SessionStateExecuting    SessionState = "executing"
	SessionStateError        SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold           SessionStateReason = "mic_cold"
	SessionReasonListeningStarted  SessionStateReason = "listening_started"
	SessionReasonCaptureRestarted  SessionStateReason = "capture_restarted"
	SessionReasonInterpreting      SessionStateReason = "interpreting"
	SessionReasonExecuting         SessionStateReason = "executing"
	SessionReasonTurnCompleted     SessionStateReason = "turn_completed"
	SessionReasonTurnFailed        SessionStateReason = "turn_failed"
	SessionReasonStopped           SessionStateReason = "stopped"
	SessionReasonPermissionDenied  SessionStateReason = "permission_denied"
	SessionReasonWakeWordListening SessionStateReason = "wake_word_listening"
	SessionReasonWakeWordDetected  SessionStateReason = "wake_word_detected"
)

// ErrorCode identifies the error taxonomy surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup        ErrorCode = "startup"
	ErrorCodePermission     ErrorCode = "permission"
	ErrorCodeCapture        ErrorCode = "capture"
	ErrorCodeTransport      ErrorCode = "transport"
	ErrorCodeRemote         ErrorCode = "remote"
	ErrorCodeResponseFormat ErrorCode = "response_format"
	ErrorCodeDelivery       ErrorCode = "delivery"
	ErrorCodeDispatch       ErrorCode = "dispatch"
)

// PermissionState is the tri-state microphone authorization result.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
)

// TranscriptEvent is one recognition result. Only final events are interpreted.
type TranscriptEvent struct {
	ResultIndex int    `json:"resultIndex"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"isFinal"`
}

// CaptureSignalKind mirrors the capture callbacks: start, result, error, end.
type CaptureSignalKind string

const (
	CaptureSignalStart  CaptureSignalKind = "start"
	CaptureSignalResult CaptureSignalKind = "result"
	CaptureSignalError  CaptureSignalKind = "error"
	CaptureSignalEnd    CaptureSignalKind = "end"
)

// CaptureSignal is a single event emitted by a capture session.
type CaptureSignal struct {
	Kind       CaptureSignalKind `json:"kind"`
	Transcript TranscriptEvent   `json:"transcript,omitempty"`
	Code       string            `json:"code,omitempty"`
}

// ElementContext is a read-only snapshot of the element under the pointer.
type ElementContext struct {
	TagName   string `json:"tagName"`
	ClassName string `json:"className"`
	ID        string `json:"id"`
	Text      string `json:"text"`
	Href      string `json:"href"`
	Type      string `json:"type"`
	Role      string `json:"role"`
}

// Status summarizes the current runtime status.
type Status struct {
	State      SessionState `json:"state"`
	Active     bool         `json:"active"`
	MicGranted bool         `json:"micGranted"`
	Utterance  string       `json:"utterance,omitempty"`
	Generation uint64       `json:"generation"`
	Message    string       `json:"message,omitempty"`
}
