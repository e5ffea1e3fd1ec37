package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

// Error codes reported in capture error signals.
const (
	CodeAudioCapture = "audio-capture"
	CodeNetwork      = "network"
	CodeNotAllowed   = "not-allowed"
)

const streamDrainTimeout = 2 * time.Second

// StreamingEngine records the microphone and streams it to a transcription
// provider. Every Start opens a fresh audio session and provider stream.
type StreamingEngine struct {
	audio     ports.AudioCapture
	provider  ports.TranscriptionProvider
	audioCfg  ports.AudioConfig
	streamCfg ports.StreamingConfig
	chunkSize int
	logger    *zap.Logger
}

func NewStreamingEngine(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	audioCfg ports.AudioConfig,
	streamCfg ports.StreamingConfig,
	chunkSize int,
	logger *zap.Logger,
) *StreamingEngine {
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingEngine{
		audio:     audio,
		provider:  provider,
		audioCfg:  audioCfg,
		streamCfg: streamCfg,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

func (e *StreamingEngine) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	streamCfg := e.streamCfg
	streamCfg.InterimResults = cfg.InterimResults
	if cfg.Language != "" {
		streamCfg.Language = cfg.Language
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = e.audioCfg.SampleRate
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = e.audioCfg.Channels
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	stream, err := e.provider.StartStreaming(sessionCtx, streamCfg)
	if err != nil {
		cancel()
		return nil, err
	}

	audio, err := e.audio.Start(sessionCtx, e.audioCfg)
	if err != nil {
		_ = stream.Close()
		cancel()
		return nil, err
	}

	s := &streamingSession{
		id:         uuid.NewString(),
		cancel:     cancel,
		audio:      audio,
		stream:     stream,
		continuous: cfg.Continuous,
		signals:    make(chan domain.CaptureSignal, 32),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
	s.logger = e.logger.With(zap.String("capture", s.id))

	go s.pump(e.chunkSize)
	go s.run()
	return s, nil
}

type streamingSession struct {
	id         string
	cancel     context.CancelFunc
	audio      ports.AudioSession
	stream     ports.StreamingSession
	continuous bool
	logger     *zap.Logger

	signals  chan domain.CaptureSignal
	quit     chan struct{}
	done     chan struct{}
	pumpDone chan struct{}

	failMu   sync.Mutex
	failCode string

	stopOnce sync.Once
}

func (s *streamingSession) Signals() <-chan domain.CaptureSignal {
	return s.signals
}

// Stop releases the microphone and the provider stream and waits until the
// signal channel is closed.
func (s *streamingSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.release()
	})
	<-s.done
	return nil
}

func (s *streamingSession) release() {
	_ = s.audio.Stop()
	_ = s.stream.Close()
	s.cancel()
}

func (s *streamingSession) pump(chunkSize int) {
	defer close(s.pumpDone)
	if err := pumpAudio(s.audio, s.stream, chunkSize); err != nil {
		select {
		case <-s.quit:
			return
		default:
		}
		s.logger.Warn("audio pump failed", zap.Error(err))
		if errors.Is(err, ports.ErrMicrophoneDenied) {
			s.fail(CodeNotAllowed)
		} else {
			s.fail(CodeAudioCapture)
		}
		_ = s.stream.Close()
		return
	}
	_ = s.stream.CloseSend()
}

func (s *streamingSession) run() {
	defer close(s.done)
	defer close(s.signals)

	s.emit(domain.CaptureSignal{Kind: domain.CaptureSignalStart})

	finished := false
	for event := range s.stream.Events() {
		if !s.emit(domain.CaptureSignal{Kind: domain.CaptureSignalResult, Transcript: event}) {
			s.release()
			<-s.pumpDone
			return
		}
		if event.IsFinal && !s.continuous {
			s.logger.Debug("single-shot capture took its final result")
			finished = true
			break
		}
	}

	if !finished {
		if err := waitForStream(s.stream, streamDrainTimeout); err != nil {
			s.logger.Warn("transcription stream failed", zap.Error(err))
			s.fail(CodeNetwork)
		}
	}
	s.release()
	<-s.pumpDone

	if code := s.failure(); code != "" {
		s.emit(domain.CaptureSignal{Kind: domain.CaptureSignalError, Code: code})
	}
	s.emit(domain.CaptureSignal{Kind: domain.CaptureSignalEnd})
}

func (s *streamingSession) emit(signal domain.CaptureSignal) bool {
	select {
	case s.signals <- signal:
		return true
	case <-s.quit:
		return false
	}
}

func (s *streamingSession) fail(code string) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failCode == "" {
		s.failCode = code
	}
}

func (s *streamingSession) failure() string {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failCode
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
