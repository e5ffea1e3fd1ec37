package usecase

import (
	"go.uber.org/zap"

	"chromate/internal/ports"
	"chromate/internal/transcript"
)

type transcriptFinalizer struct {
	rewriter ports.TranscriptRewriter
	logger   *zap.Logger
}

func newTranscriptFinalizer(rewriter ports.TranscriptRewriter, logger *zap.Logger) transcriptFinalizer {
	return transcriptFinalizer{rewriter: rewriter, logger: logger}
}

// Normalize applies the rewrite rules and then the canonical whitespace and
// case folding. A failing rule set leaves the text unrewritten.
func (f transcriptFinalizer) Normalize(raw string) string {
	text := raw
	if f.rewriter != nil {
		rewritten, err := f.rewriter.Apply(raw)
		if err != nil {
			f.logger.Warn("transcript rules failed", zap.Error(err))
		} else {
			text = rewritten
		}
	}
	return transcript.Normalize(text)
}
