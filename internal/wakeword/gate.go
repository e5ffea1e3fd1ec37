package wakeword

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
	"chromate/internal/transcript"
)

const (
	DefaultKeyword        = "시리야"
	defaultCooldown       = 2 * time.Second
	defaultCommandTimeout = 10 * time.Second
	defaultRestartDelay   = time.Second
)

var ErrNoKeyword = errors.New("wake word keyword is empty")

// CommandSession is the voice-command session the gate hands off to.
type CommandSession interface {
	Start(ctx context.Context) error
	Stop() error
	Subscribe(fn func(domain.Status)) (cancel func())
}

type Config struct {
	Keyword        string
	Cooldown       time.Duration
	CommandTimeout time.Duration
	RestartDelay   time.Duration
	Language       string
}

type phase int

const (
	phaseDisarmed phase = iota
	phaseBackground
	phaseCommand
	phaseCooldown
)

// Gate listens in the background for a keyword and then hands the
// microphone to the command session. Background and command capture are
// never live at the same time.
type Gate struct {
	engine  ports.CaptureEngine
	command CommandSession
	events  ports.EventSink
	cfg     Config
	logger  *zap.Logger

	mu            sync.Mutex
	phase         phase
	generation    uint64
	ctx           context.Context
	background    *backgroundCapture
	commandActive bool
	timer         *time.Timer
	unsubscribe   func()
}

func NewGate(engine ports.CaptureEngine, command CommandSession, events ports.EventSink, cfg Config, logger *zap.Logger) *Gate {
	if cfg.Keyword == "" {
		cfg.Keyword = DefaultKeyword
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{engine: engine, command: command, events: events, cfg: cfg, logger: logger}
}

// Arm starts background listening. ctx bounds the armed period. Arming an
// armed gate is a no-op.
func (g *Gate) Arm(ctx context.Context) error {
	if transcript.Normalize(g.cfg.Keyword) == "" {
		return ErrNoKeyword
	}

	unsubscribe := g.command.Subscribe(g.onCommandStatus)

	g.mu.Lock()
	if g.phase != phaseDisarmed {
		g.mu.Unlock()
		unsubscribe()
		return nil
	}
	g.generation++
	gen := g.generation
	g.ctx = ctx
	g.phase = phaseBackground
	g.unsubscribe = unsubscribe
	g.mu.Unlock()

	g.logger.Info("wake word armed", zap.String("keyword", g.cfg.Keyword))
	g.startBackground(gen)
	return nil
}

// Disarm stops background listening and any command session it started.
func (g *Gate) Disarm() error {
	g.mu.Lock()
	if g.phase == phaseDisarmed {
		g.mu.Unlock()
		return nil
	}
	handedOff := g.phase == phaseCommand
	g.phase = phaseDisarmed
	g.generation++
	g.stopTimerLocked()
	background := g.background
	g.background = nil
	unsubscribe := g.unsubscribe
	g.unsubscribe = nil
	g.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if background != nil {
		background.stop()
	}
	var err error
	if handedOff {
		err = g.command.Stop()
	}
	g.events.IndicatorChanged(false)
	g.logger.Info("wake word disarmed")
	return err
}

func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase != phaseDisarmed
}

func (g *Gate) startBackground(gen uint64) {
	g.mu.Lock()
	if g.generation != gen || g.phase != phaseBackground || g.background != nil {
		g.mu.Unlock()
		return
	}
	ctx := g.ctx
	g.mu.Unlock()

	session, err := g.engine.Start(ctx, ports.CaptureConfig{Continuous: true, InterimResults: true, Language: g.cfg.Language})

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != gen || g.phase != phaseBackground {
		if session != nil {
			go session.Stop()
		}
		return
	}
	if err != nil {
		g.logger.Warn("background capture failed to start", zap.Error(err))
		g.scheduleLocked(g.cfg.RestartDelay, func() { g.startBackground(gen) })
		return
	}

	background := &backgroundCapture{session: session}
	g.background = background
	g.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonWakeWordListening)
	go g.consume(gen, background)
}

func (g *Gate) consume(gen uint64, background *backgroundCapture) {
	for signal := range background.session.Signals() {
		switch signal.Kind {
		case domain.CaptureSignalResult:
			if transcript.ContainsFold(signal.Transcript.Text, g.cfg.Keyword) {
				g.wake(gen, background)
			}
		case domain.CaptureSignalError:
			g.logger.Debug("background capture error", zap.String("code", signal.Code))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.background != background {
		return
	}
	g.background = nil
	if g.generation != gen || g.phase != phaseBackground {
		return
	}
	g.logger.Info("background capture ended, restarting", zap.Duration("delay", g.cfg.RestartDelay))
	g.scheduleLocked(g.cfg.RestartDelay, func() { g.startBackground(gen) })
}

// wake hands off to the command session. Only the first match of a
// background capture counts.
func (g *Gate) wake(gen uint64, background *backgroundCapture) {
	g.mu.Lock()
	if g.generation != gen || g.phase != phaseBackground || g.background != background {
		g.mu.Unlock()
		return
	}
	g.phase = phaseCommand
	g.background = nil
	g.commandActive = false
	ctx := g.ctx
	g.mu.Unlock()

	g.logger.Info("wake word detected")
	g.events.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonWakeWordDetected)
	g.events.IndicatorChanged(true)
	go g.handOff(ctx, gen, background)
}

func (g *Gate) handOff(ctx context.Context, gen uint64, background *backgroundCapture) {
	background.stop()

	g.mu.Lock()
	if g.generation != gen || g.phase != phaseCommand {
		g.mu.Unlock()
		return
	}
	g.scheduleLocked(g.cfg.CommandTimeout, func() {
		g.logger.Info("command window timed out")
		if err := g.command.Stop(); err != nil {
			g.logger.Warn("command session stop failed", zap.Error(err))
		}
		// The session may never have reported itself active.
		g.commandEnded(gen)
	})
	g.mu.Unlock()

	if err := g.command.Start(ctx); err != nil {
		g.logger.Warn("command session failed to start", zap.Error(err))
		g.commandEnded(gen)
	}
}

func (g *Gate) onCommandStatus(status domain.Status) {
	g.mu.Lock()
	if g.phase != phaseCommand {
		g.mu.Unlock()
		return
	}
	if status.Active {
		g.commandActive = true
		g.mu.Unlock()
		return
	}
	ended := g.commandActive
	gen := g.generation
	g.mu.Unlock()

	if ended {
		g.commandEnded(gen)
	}
}

// commandEnded waits out the cooldown and resumes background listening.
func (g *Gate) commandEnded(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation != gen || g.phase != phaseCommand {
		return
	}
	g.phase = phaseCooldown
	g.commandActive = false
	g.scheduleLocked(g.cfg.Cooldown, func() {
		g.mu.Lock()
		if g.generation != gen || g.phase != phaseCooldown {
			g.mu.Unlock()
			return
		}
		g.phase = phaseBackground
		g.mu.Unlock()

		g.events.IndicatorChanged(false)
		g.startBackground(gen)
	})
}

func (g *Gate) scheduleLocked(delay time.Duration, fn func()) {
	g.stopTimerLocked()
	g.timer = time.AfterFunc(delay, fn)
}

func (g *Gate) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

type backgroundCapture struct {
	session ports.CaptureSession
	once    sync.Once
}

func (b *backgroundCapture) stop() {
	b.once.Do(func() {
		_ = b.session.Stop()
	})
}
