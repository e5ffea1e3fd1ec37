package usecase

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestTranscriptFinalizerAppliesRulesThenNormalizes(t *testing.T) {
	t.Parallel()

	f := newTranscriptFinalizer(&fakeRules{transform: "  Naver   검색해줘 "}, zap.NewNop())
	if got := f.Normalize("네이버 검색해 줘"); got != "naver 검색해줘" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}

func TestTranscriptFinalizerRulesFailureKeepsText(t *testing.T) {
	t.Parallel()

	f := newTranscriptFinalizer(&fakeRules{err: errors.New("rules")}, zap.NewNop())
	if got := f.Normalize(" 뒤로  가줘 "); got != "뒤로 가줘" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}

func TestTranscriptFinalizerWithoutRules(t *testing.T) {
	t.Parallel()

	f := newTranscriptFinalizer(nil, zap.NewNop())
	if got := f.Normalize("\t\n"); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
}
