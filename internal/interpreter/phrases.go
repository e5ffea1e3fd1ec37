package interpreter

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
	"chromate/internal/transcript"
)

const (
	phraseForward = "앞으로 가줘"
	phraseBack    = "뒤로 가줘"
	phraseConnect = "접속해줘"
)

// MatchPhrase recognizes the navigation phrases that need no interpreter:
// going forward or back, and "<site> 접속해줘" to open a site.
func MatchPhrase(command string) (domain.Action, bool) {
	text := transcript.Normalize(command)
	switch text {
	case phraseForward:
		return domain.Action{Kind: domain.ActionForward}, true
	case phraseBack:
		return domain.Action{Kind: domain.ActionBackward}, true
	}
	if !strings.Contains(text, phraseConnect) {
		return domain.Action{}, false
	}
	target, err := NormalizeURL(strings.Replace(text, phraseConnect, "", 1))
	if err != nil {
		return domain.Action{}, false
	}
	return domain.Action{Kind: domain.ActionOpen, URL: target}, true
}

// PhraseFallback wraps an interpreter and answers MatchPhrase commands
// locally when the interpreter cannot be reached.
type PhraseFallback struct {
	next   ports.Interpreter
	logger *zap.Logger
}

func WithPhraseFallback(next ports.Interpreter, logger *zap.Logger) *PhraseFallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PhraseFallback{next: next, logger: logger}
}

func (f *PhraseFallback) Interpret(ctx context.Context, req ports.InterpretRequest) (domain.Action, error) {
	action, err := f.next.Interpret(ctx, req)
	var transport *TransportError
	if err == nil || !errors.As(err, &transport) {
		return action, err
	}
	local, ok := MatchPhrase(req.Message)
	if !ok {
		return action, err
	}
	f.logger.Info("interpreter unreachable, using local phrase",
		zap.String("action", string(local.Kind)),
		zap.Error(err),
	)
	return local, nil
}

func (f *PhraseFallback) Commands(ctx context.Context) ([]string, error) {
	return f.next.Commands(ctx)
}
