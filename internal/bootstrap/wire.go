package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chromate/internal/audio"
	"chromate/internal/browser"
	"chromate/internal/capture"
	"chromate/internal/config"
	"chromate/internal/dispatch"
	"chromate/internal/domain"
	"chromate/internal/interpreter"
	"chromate/internal/messaging"
	"chromate/internal/ports"
	"chromate/internal/providers/deepgram"
	"chromate/internal/rules"
	"chromate/internal/usecase"
	"chromate/internal/wakeword"
)

// LocalPageContext is the hub id of the page driven through the DevTools protocol.
const LocalPageContext = "local-browser"

const shutdownTimeout = 3 * time.Second

// Options select the runtime variant.
type Options struct {
	Events ports.EventSink
	// Transcripts replaces the microphone with newline-delimited text.
	Transcripts io.Reader
	// Fs backs the rules file. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      *zap.Logger
	Controller  *usecase.SessionController
	Gate        *wakeword.Gate
	Interpreter *interpreter.Client
	Dispatcher  ports.ActionDispatcher
	Rules       *rules.Engine
	Hub         *messaging.Hub
	Bridge      *messaging.Bridge
	// Browser is nil when the local page driver is disabled.
	Browser *browser.Driver
	// Lines is set when transcripts come from Options.Transcripts.
	Lines *capture.LineEngine

	mu      sync.Mutex
	baseCtx context.Context
	cancels []func()
}

// Build wires all backend dependencies for cfg.
func Build(cfg config.Config, logger *zap.Logger, opts Options) (*Services, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	rulesEngine, err := rules.NewEngine(fs, cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Config:  cfg,
		Logger:  logger,
		Rules:   rulesEngine,
		Hub:     messaging.NewHub(logger.Named("hub")),
		baseCtx: context.Background(),
	}

	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}

	var engine ports.CaptureEngine
	var permissions ports.Permissions
	if opts.Transcripts != nil {
		s.Lines = capture.NewLineEngine(opts.Transcripts, logger.Named("capture"))
		engine = s.Lines
		permissions = audio.NewProber(nil, audioCfg, "", string(domain.PermissionGranted), logger.Named("permissions"))
	} else {
		recorder := audio.NewRecorder(audio.RecorderConfig{Command: cfg.Audio.RecorderCommand}, logger.Named("audio"))
		provider := deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			Endpointing: cfg.Deepgram.Endpointing,
			KeepAlive:   cfg.Deepgram.KeepAlive,
		}, logger.Named("deepgram"))
		engine = capture.NewStreamingEngine(
			recorder,
			provider,
			audioCfg,
			ports.StreamingConfig{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				Encoding:   "linear16",
				Language:   cfg.Deepgram.Language,
			},
			cfg.Session.ChunkSize,
			logger.Named("capture"),
		)
		permissions = audio.NewProber(recorder, audioCfg, cfg.Audio.RecorderCommand, cfg.Audio.Permission, logger.Named("permissions"))
	}

	s.Interpreter = interpreter.NewClient(interpreter.Config{
		BaseURL: cfg.Interpreter.BaseURL,
		Timeout: cfg.Interpreter.Timeout,
	}, logger.Named("interpreter"))

	dispatchCfg := dispatch.Config{
		OpenInNewTab: cfg.Browser.OpenInNewTab,
		SearchURL:    cfg.Browser.SearchURL,
	}
	var elements ports.ElementTracker
	var localPage ports.Page
	if cfg.Browser.Enabled {
		s.Browser = browser.NewDriver(browser.Config{
			DebuggerURL: cfg.Browser.DebuggerURL,
			Bin:         cfg.Browser.Bin,
			Headless:    cfg.Browser.Headless,
			StartURL:    cfg.Browser.StartURL,
		}, logger.Named("browser"))
		elements = s.Browser
		localPage = s.Browser
	}

	switch {
	case cfg.Bridge.Relay:
		if localPage != nil {
			handler := dispatch.NewPageHandler(dispatch.NewDispatcher(localPage, dispatchCfg, logger.Named("dispatch")), logger.Named("page"))
			unregister, err := s.Hub.Register(LocalPageContext, handler.Handle)
			if err != nil {
				return nil, fmt.Errorf("register local page context: %w", err)
			}
			s.cancels = append(s.cancels, unregister)
		}
		s.Dispatcher = dispatch.NewRelay(s.Hub, cfg.Bridge.Target, localPage, logger.Named("relay"))
	case localPage != nil:
		s.Dispatcher = dispatch.NewDispatcher(localPage, dispatchCfg, logger.Named("dispatch"))
	default:
		s.Dispatcher = dispatch.NewRelay(s.Hub, cfg.Bridge.Target, nil, logger.Named("relay"))
	}

	events := opts.Events
	if events == nil {
		events = nopEvents{}
	}

	s.Controller = usecase.NewSessionController(
		usecase.Collaborators{
			Capture:     engine,
			Permissions: permissions,
			Interpreter: interpreter.WithPhraseFallback(s.Interpreter, logger.Named("interpreter")),
			Dispatcher:  s.Dispatcher,
			Elements:    elements,
			Rewriter:    rulesEngine,
			Events:      events,
		},
		usecase.Config{
			Capture: ports.CaptureConfig{
				// A woken session handles one command and hands the mic back.
				Continuous:     cfg.Session.Continuous && !cfg.Wake.Enabled,
				InterimResults: cfg.Session.InterimResults,
				Language:       cfg.Session.Language,
			},
			RestartDelay: cfg.Session.RestartDelay,
			TurnTimeout:  cfg.Session.TurnTimeout,
		},
		logger.Named("session"),
	)

	s.Gate = wakeword.NewGate(engine, s.Controller, events, wakeword.Config{
		Keyword:        cfg.Wake.Keyword,
		Cooldown:       cfg.Wake.Cooldown,
		CommandTimeout: cfg.Wake.CommandTimeout,
		RestartDelay:   cfg.Session.RestartDelay,
		Language:       cfg.Session.Language,
	}, logger.Named("wakeword"))

	s.Bridge = messaging.NewBridge(s.Hub, s.HandleMessage, logger.Named("bridge"))

	cancelStatus := s.Controller.Subscribe(func(status domain.Status) {
		s.Hub.Broadcast(domain.Message{Type: domain.MessageStatus, Status: &status})
	})
	s.cancels = append(s.cancels, cancelStatus)

	return s, nil
}

// Listen starts voice control: the wake-word gate when enabled, otherwise a
// continuous session.
func (s *Services) Listen(ctx context.Context) error {
	if s.Config.Wake.Enabled {
		return s.Gate.Arm(ctx)
	}
	return s.Controller.Start(ctx)
}

// StopListening ends voice control in either mode.
func (s *Services) StopListening() error {
	var errs []error
	if s.Gate.Armed() {
		errs = append(errs, s.Gate.Disarm())
	}
	errs = append(errs, s.Controller.Stop())
	return errors.Join(errs...)
}

// HandleMessage serves commands from bridged contexts such as an extension popup.
func (s *Services) HandleMessage(ctx context.Context, msg domain.Message) {
	log := s.Logger.With(zap.String("type", string(msg.Type)), zap.String("source", messaging.Source(ctx)))

	switch msg.Type {
	case domain.MessageStartListening:
		if err := s.Listen(s.context()); err != nil {
			log.Warn("start listening failed", zap.Error(err))
		}
	case domain.MessageStopListening:
		if err := s.StopListening(); err != nil {
			log.Warn("stop listening failed", zap.Error(err))
		}
	case domain.MessageVoiceCommand:
		command := msg.Command
		go func() {
			if err := s.Controller.Submit(s.context(), command); err != nil {
				log.Warn("relayed command failed", zap.Error(err))
			}
		}()
	default:
		log.Debug("ignoring bridged message")
	}
}

func (s *Services) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

// Run starts the background pieces: the page driver, the rules watcher and
// the bridge listener. It blocks until ctx is done or one of them fails.
func (s *Services) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if s.Browser != nil {
		if err := s.Browser.Start(ctx); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if s.Config.Rules.Watch {
		group.Go(func() error {
			if err := rules.Watch(groupCtx, s.Rules, s.Logger.Named("rules")); err != nil {
				s.Logger.Warn("rules watcher unavailable", zap.Error(err))
			}
			return nil
		})
	}

	if s.Config.Bridge.ListenAddr != "" {
		listener, err := net.Listen("tcp", s.Config.Bridge.ListenAddr)
		if err != nil {
			return fmt.Errorf("bridge listen: %w", err)
		}
		group.Go(func() error {
			return s.serveBridge(groupCtx, listener)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	return group.Wait()
}

func (s *Services) serveBridge(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/bridge", s.Bridge)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.Logger.Info("bridge listening", zap.String("addr", listener.Addr().String()))
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server: %w", err)
	}
	return nil
}

// Close stops voice control and releases every resource.
func (s *Services) Close() error {
	errs := []error{s.StopListening()}

	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}

	s.Hub.Close()
	if s.Browser != nil {
		errs = append(errs, s.Browser.Shutdown())
	}
	return errors.Join(errs...)
}

type nopEvents struct{}

func (nopEvents) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (nopEvents) PartialTranscript(string)                                           {}
func (nopEvents) FinalTranscript(string, string)                                     {}
func (nopEvents) ActionExecuted(domain.Action)                                       {}
func (nopEvents) IndicatorChanged(bool)                                              {}
func (nopEvents) SessionError(domain.ErrorCode, string)                              {}
