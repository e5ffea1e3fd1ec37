package capture

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

var ErrSourceExhausted = errors.New("transcript source exhausted")

// LineEngine treats each line of a reader as one final transcript. The reader
// is shared by every session the engine starts, so lines are never replayed.
type LineEngine struct {
	lines  chan string
	done   chan struct{}
	logger *zap.Logger

	once sync.Once
	src  io.Reader
}

func NewLineEngine(src io.Reader, logger *zap.Logger) *LineEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LineEngine{
		lines:  make(chan string),
		done:   make(chan struct{}),
		logger: logger,
		src:    src,
	}
}

// Done is closed once the reader has been fully consumed.
func (e *LineEngine) Done() <-chan struct{} {
	return e.done
}

func (e *LineEngine) Start(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	e.once.Do(func() { go e.scan() })

	select {
	case <-e.done:
		return nil, ErrSourceExhausted
	default:
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &lineSession{
		cancel:  cancel,
		signals: make(chan domain.CaptureSignal, 4),
		done:    make(chan struct{}),
	}
	go s.run(sessionCtx, e.lines, e.done, cfg.Continuous)
	return s, nil
}

func (e *LineEngine) scan() {
	defer close(e.done)
	scanner := bufio.NewScanner(e.src)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		e.lines <- line
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("transcript source failed", zap.Error(err))
	}
}

type lineSession struct {
	cancel   context.CancelFunc
	signals  chan domain.CaptureSignal
	done     chan struct{}
	stopOnce sync.Once
}

func (s *lineSession) Signals() <-chan domain.CaptureSignal {
	return s.signals
}

func (s *lineSession) Stop() error {
	s.stopOnce.Do(s.cancel)
	<-s.done
	return nil
}

func (s *lineSession) run(ctx context.Context, lines <-chan string, exhausted <-chan struct{}, continuous bool) {
	defer close(s.done)
	defer close(s.signals)

	emit := func(signal domain.CaptureSignal) bool {
		select {
		case s.signals <- signal:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(domain.CaptureSignal{Kind: domain.CaptureSignalStart}) {
		return
	}
	index := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-exhausted:
			emit(domain.CaptureSignal{Kind: domain.CaptureSignalEnd})
			return
		case line := <-lines:
			event := domain.TranscriptEvent{ResultIndex: index, Text: line, IsFinal: true}
			index++
			if !emit(domain.CaptureSignal{Kind: domain.CaptureSignalResult, Transcript: event}) {
				return
			}
			if !continuous {
				emit(domain.CaptureSignal{Kind: domain.CaptureSignalEnd})
				return
			}
		}
	}
}
