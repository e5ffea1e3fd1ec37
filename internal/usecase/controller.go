package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrEmptyUtterance   = errors.New("utterance is empty")
	ErrTurnInFlight     = errors.New("a command is already being handled")
)

const (
	defaultRestartDelay = time.Second
	defaultTurnTimeout  = 20 * time.Second
)

// Capture error codes that end the session or are too routine to surface.
const (
	captureCodeNotAllowed = "not-allowed"
	captureCodeNoSpeech   = "no-speech"
	captureCodeAborted    = "aborted"
)

// Config controls the voice-command session.
type Config struct {
	Capture      ports.CaptureConfig
	RestartDelay time.Duration
	TurnTimeout  time.Duration
}

// Collaborators are the ports the controller drives. Elements and Rewriter
// are optional.
type Collaborators struct {
	Capture     ports.CaptureEngine
	Permissions ports.Permissions
	Interpreter ports.Interpreter
	Dispatcher  ports.ActionDispatcher
	Elements    ports.ElementTracker
	Rewriter    ports.TranscriptRewriter
	Events      ports.EventSink
}

// SessionController runs the listen, interpret, execute loop. At most one
// capture is live and at most one turn is in flight at any time. Continuous
// sessions return to listening after each turn; single-shot sessions end.
type SessionController struct {
	deps      Collaborators
	cfg       Config
	logger    *zap.Logger
	finalizer transcriptFinalizer

	mu            sync.Mutex
	state         domain.SessionState
	active        bool
	micGranted    bool
	generation    uint64
	current       *activeCapture
	launch        chan struct{}
	turn          *turn
	utterance     string
	message       string
	catalog       []string
	restart       *time.Timer
	sessionCtx    context.Context
	cancelSession context.CancelFunc
	subscribers   map[int]func(domain.Status)
	nextSub       int
}

func NewSessionController(deps Collaborators, cfg Config, logger *zap.Logger) *SessionController {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionController{
		deps:        deps,
		cfg:         cfg,
		logger:      logger,
		finalizer:   newTranscriptFinalizer(deps.Rewriter, logger),
		state:       domain.SessionStateIdle,
		subscribers: make(map[int]func(domain.Status)),
	}
}

// Start acquires microphone permission once and begins listening. ctx bounds
// the whole session. Starting an active session is a no-op.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil
	}
	granted := c.micGranted
	c.mu.Unlock()

	if !granted {
		if err := c.ensurePermission(ctx); err != nil {
			return err
		}
	}

	// A capture start left over from a stopped session must finish first.
	for {
		c.mu.Lock()
		if c.active {
			c.mu.Unlock()
			return nil
		}
		pending := c.launch
		if pending == nil {
			break
		}
		c.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.active = true
	c.generation++
	gen := c.generation
	c.message = ""
	c.utterance = ""
	c.sessionCtx, c.cancelSession = context.WithCancel(ctx)
	sessionCtx := c.sessionCtx
	launch := make(chan struct{})
	c.launch = launch
	c.mu.Unlock()

	c.logger.Info("voice session started", zap.Uint64("generation", gen), zap.Bool("continuous", c.cfg.Capture.Continuous))

	if c.deps.Interpreter != nil {
		go c.loadCatalog(sessionCtx, gen)
	}
	c.launchCapture(sessionCtx, gen, false, launch)
	return nil
}

// Stop ends the session and discards any in-flight turn. Stopping an
// inactive session is a no-op.
func (c *SessionController) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	capture := c.current
	c.current = nil
	c.endSessionLocked(domain.SessionStateIdle, domain.SessionReasonStopped)
	c.mu.Unlock()

	if capture != nil {
		capture.stop()
	}
	c.logger.Info("voice session stopped")
	return nil
}

// Status returns a snapshot of the session.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Subscribe registers fn for every status change. fn runs with the
// controller's lock held and must not call back into the controller.
func (c *SessionController) Subscribe(fn func(domain.Status)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// Submit runs one turn for a typed or relayed command. It works with or
// without a live session and returns the turn's outcome.
func (c *SessionController) Submit(ctx context.Context, text string) error {
	normalized := c.finalizer.Normalize(text)
	if normalized == "" {
		return ErrEmptyUtterance
	}

	c.mu.Lock()
	if c.turn != nil {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	t := &turn{generation: c.generation, standalone: !c.active}
	c.beginTurnLocked(t, text, normalized)
	c.mu.Unlock()

	return c.runTurn(ctx, t, normalized)
}

func (c *SessionController) ensurePermission(ctx context.Context) error {
	state := domain.PermissionPrompt
	if c.deps.Permissions != nil {
		var err error
		state, err = c.deps.Permissions.Query(ctx)
		if err != nil {
			c.logger.Warn("permission query failed", zap.Error(err))
			state = domain.PermissionPrompt
		}
		if state == domain.PermissionPrompt {
			state, err = c.deps.Permissions.Request(ctx)
			if err != nil {
				c.logger.Warn("permission request failed", zap.Error(err))
				state = domain.PermissionDenied
			}
		}
	} else {
		state = domain.PermissionGranted
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if state != domain.PermissionGranted {
		c.micGranted = false
		c.message = ErrPermissionDenied.Error()
		c.deps.Events.SessionError(domain.ErrorCodePermission, ErrPermissionDenied.Error())
		c.setStateLocked(domain.SessionStateError, domain.SessionReasonPermissionDenied)
		c.logger.Warn("microphone permission denied", zap.String("state", string(state)))
		return ErrPermissionDenied
	}
	c.micGranted = true
	return nil
}

func (c *SessionController) loadCatalog(ctx context.Context, gen uint64) {
	commands, err := c.deps.Interpreter.Commands(ctx)
	if err != nil {
		c.logger.Debug("command catalog unavailable", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.catalog = commands
	}
}

// launchCapture starts a capture for gen. The caller must have installed
// launch as c.launch; it is closed once the engine call has settled, after a
// stale capture has been released.
func (c *SessionController) launchCapture(ctx context.Context, gen uint64, restarted bool, launch chan struct{}) {
	defer close(launch)
	session, err := c.deps.Capture.Start(ctx, c.cfg.Capture)

	c.mu.Lock()
	if !c.active || c.generation != gen {
		c.mu.Unlock()
		if session != nil {
			_ = session.Stop()
		}
		c.mu.Lock()
		c.clearLaunchLocked(launch)
		c.mu.Unlock()
		return
	}
	c.clearLaunchLocked(launch)

	if errors.Is(err, ports.ErrMicrophoneDenied) {
		c.micGranted = false
		c.message = ErrPermissionDenied.Error()
		c.deps.Events.SessionError(domain.ErrorCodePermission, ErrPermissionDenied.Error())
		c.endSessionLocked(domain.SessionStateError, domain.SessionReasonPermissionDenied)
		c.mu.Unlock()
		c.logger.Warn("capture refused microphone access", zap.Error(err))
		return
	}
	if err != nil {
		c.logger.Warn("capture failed to start", zap.Error(err), zap.Duration("retry_in", c.cfg.RestartDelay))
		c.deps.Events.SessionError(domain.ErrorCodeCapture, "speech capture could not start")
		c.scheduleRestartLocked(gen, c.cfg.RestartDelay)
		c.mu.Unlock()
		return
	}

	capture := newActiveCapture(session, gen)
	c.current = capture
	if c.turn == nil {
		reason := domain.SessionReasonListeningStarted
		if restarted {
			reason = domain.SessionReasonCaptureRestarted
		}
		c.setStateLocked(domain.SessionStateListening, reason)
	}
	c.mu.Unlock()

	go c.consume(capture)
}

func (c *SessionController) clearLaunchLocked(launch chan struct{}) {
	if c.launch == launch {
		c.launch = nil
	}
}

func (c *SessionController) consume(capture *activeCapture) {
	defer close(capture.done)

	failed := false
	for signal := range capture.session.Signals() {
		switch signal.Kind {
		case domain.CaptureSignalStart:
			capture.markStarted()
		case domain.CaptureSignalResult:
			c.handleResult(capture, signal.Transcript)
		case domain.CaptureSignalError:
			failed = true
			if c.handleCaptureError(capture, signal.Code) {
				return
			}
		case domain.CaptureSignalEnd:
		}
	}
	c.captureEnded(capture, failed)
}

func (c *SessionController) handleResult(capture *activeCapture, event domain.TranscriptEvent) {
	if !event.IsFinal {
		c.mu.Lock()
		if c.current == capture {
			c.deps.Events.PartialTranscript(event.Text)
		}
		c.mu.Unlock()
		return
	}

	normalized := c.finalizer.Normalize(event.Text)
	if normalized == "" {
		return
	}

	c.mu.Lock()
	if c.current != capture || !c.active || c.generation != capture.generation {
		c.mu.Unlock()
		return
	}
	if c.turn != nil {
		c.mu.Unlock()
		c.logger.Info("command in flight, dropping transcript", zap.String("utterance", normalized))
		return
	}

	t := &turn{generation: capture.generation}
	c.beginTurnLocked(t, event.Text, normalized)

	var paused *activeCapture
	if !c.cfg.Capture.Continuous {
		paused = c.current
		c.current = nil
	}
	// Stop discards the turn's result but lets its request finish.
	ctx := context.WithoutCancel(c.sessionCtx)
	c.mu.Unlock()

	if paused != nil {
		go paused.stop()
	}
	go func() {
		_ = c.runTurn(ctx, t, normalized)
	}()
}

// handleCaptureError reports whether the error ended the session.
func (c *SessionController) handleCaptureError(capture *activeCapture, code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != capture || !c.active {
		return false
	}

	if code == captureCodeNotAllowed {
		c.current = nil
		c.micGranted = false
		c.message = ErrPermissionDenied.Error()
		c.deps.Events.SessionError(domain.ErrorCodePermission, ErrPermissionDenied.Error())
		c.endSessionLocked(domain.SessionStateError, domain.SessionReasonPermissionDenied)
		go capture.stop()
		c.logger.Warn("capture lost microphone permission")
		return true
	}

	c.logger.Warn("capture error", zap.String("code", code))
	if code != captureCodeNoSpeech && code != captureCodeAborted {
		c.deps.Events.SessionError(domain.ErrorCodeCapture, "speech capture error: "+code)
	}
	return false
}

func (c *SessionController) captureEnded(capture *activeCapture, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != capture {
		return
	}
	c.current = nil
	if !c.active || c.generation != capture.generation {
		return
	}

	var delay time.Duration
	if failed || !capture.hasStarted() || capture.age() < c.cfg.RestartDelay {
		delay = c.cfg.RestartDelay
	}
	c.logger.Info("capture ended, restarting", zap.Duration("delay", delay), zap.Bool("failed", failed))
	c.scheduleRestartLocked(capture.generation, delay)
}

func (c *SessionController) scheduleRestartLocked(gen uint64, delay time.Duration) {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	if delay <= 0 {
		if c.launch != nil {
			return
		}
		launch := make(chan struct{})
		c.launch = launch
		go c.launchCapture(c.sessionCtx, gen, true, launch)
		return
	}
	c.restart = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if !c.active || c.generation != gen || c.current != nil || c.launch != nil {
			c.mu.Unlock()
			return
		}
		launch := make(chan struct{})
		c.launch = launch
		ctx := c.sessionCtx
		c.mu.Unlock()
		c.launchCapture(ctx, gen, true, launch)
	})
}

func (c *SessionController) runTurn(ctx context.Context, t *turn, utterance string) error {
	turnCtx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()

	log := c.logger.With(zap.Uint64("generation", t.generation), zap.String("utterance", utterance))

	var element *domain.ElementContext
	if c.deps.Elements != nil {
		hovered, err := c.deps.Elements.HoveredElement(turnCtx)
		if err != nil {
			log.Debug("hovered element unavailable", zap.Error(err))
		}
		element = hovered
	}

	action, err := c.deps.Interpreter.Interpret(turnCtx, ports.InterpretRequest{
		Message:     utterance,
		ElementInfo: element,
		Commands:    c.catalogSnapshot(),
	})
	if err != nil {
		log.Warn("interpretation failed", zap.Error(err))
		c.finishTurn(t, errorCode(err, domain.ErrorCodeTransport), err)
		return err
	}

	c.mu.Lock()
	if !c.turnCurrentLocked(t) {
		c.releaseTurnLocked(t)
		c.mu.Unlock()
		log.Info("discarding stale interpretation", zap.String("action", string(action.Kind)))
		return nil
	}
	c.setStateLocked(domain.SessionStateExecuting, domain.SessionReasonExecuting)
	c.mu.Unlock()

	if err := c.deps.Dispatcher.Dispatch(turnCtx, action); err != nil {
		log.Warn("action failed", zap.String("action", string(action.Kind)), zap.Error(err))
		c.finishTurn(t, errorCode(err, domain.ErrorCodeDispatch), err)
		return err
	}

	c.mu.Lock()
	if c.turnCurrentLocked(t) {
		c.deps.Events.ActionExecuted(action)
	}
	c.mu.Unlock()
	log.Info("action executed", zap.String("action", string(action.Kind)))
	c.finishTurn(t, "", nil)
	return nil
}

func (c *SessionController) finishTurn(t *turn, code domain.ErrorCode, err error) {
	c.mu.Lock()
	if !c.turnCurrentLocked(t) {
		c.releaseTurnLocked(t)
		c.mu.Unlock()
		return
	}
	c.releaseTurnLocked(t)

	reason := domain.SessionReasonTurnCompleted
	if err != nil {
		reason = domain.SessionReasonTurnFailed
		c.message = err.Error()
		c.deps.Events.SessionError(code, err.Error())
	}

	if t.standalone {
		c.setStateLocked(domain.SessionStateIdle, reason)
		c.mu.Unlock()
		return
	}

	if !c.cfg.Capture.Continuous {
		capture := c.current
		c.current = nil
		c.endSessionLocked(domain.SessionStateIdle, reason)
		c.mu.Unlock()
		if capture != nil {
			capture.stop()
		}
		return
	}

	c.setStateLocked(domain.SessionStateListening, reason)
	c.mu.Unlock()
}

func (c *SessionController) beginTurnLocked(t *turn, raw, normalized string) {
	c.turn = t
	c.utterance = normalized
	c.message = ""
	c.deps.Events.FinalTranscript(raw, normalized)
	c.setStateLocked(domain.SessionStateInterpreting, domain.SessionReasonInterpreting)
}

func (c *SessionController) releaseTurnLocked(t *turn) {
	if c.turn == t {
		c.turn = nil
	}
}

func (c *SessionController) turnCurrentLocked(t *turn) bool {
	if c.turn != t || c.generation != t.generation {
		return false
	}
	return t.standalone || c.active
}

func (c *SessionController) catalogSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.catalog) == 0 {
		return nil
	}
	out := make([]string, len(c.catalog))
	copy(out, c.catalog)
	return out
}

func (c *SessionController) endSessionLocked(state domain.SessionState, reason domain.SessionStateReason) {
	c.active = false
	c.generation++
	c.turn = nil
	c.utterance = ""
	c.catalog = nil
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	if c.cancelSession != nil {
		c.cancelSession()
		c.cancelSession = nil
	}
	c.setStateLocked(state, reason)
}

func (c *SessionController) setStateLocked(state domain.SessionState, reason domain.SessionStateReason) {
	c.state = state
	c.deps.Events.SessionStateChanged(state, reason)
	status := c.statusLocked()
	for _, fn := range c.subscribers {
		fn(status)
	}
}

func (c *SessionController) statusLocked() domain.Status {
	return domain.Status{
		State:      c.state,
		Active:     c.active,
		MicGranted: c.micGranted,
		Utterance:  c.utterance,
		Generation: c.generation,
		Message:    c.message,
	}
}

type codedError interface {
	Code() domain.ErrorCode
}

func errorCode(err error, fallback domain.ErrorCode) domain.ErrorCode {
	var coded codedError
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return fallback
}
