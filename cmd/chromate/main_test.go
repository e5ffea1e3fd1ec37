package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chromate/internal/config"
	"chromate/internal/dispatch"
	"chromate/internal/domain"
)

func TestListCommandsFallsBackToBuiltinCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	setupCLI(t, server.URL)

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := listCommands(cmd, nil); err != nil {
		t.Fatalf("listCommands failed: %v", err)
	}
	for _, want := range []string{"[검색]", "- 구글에서 날씨 검색해줘", "[브라우저 제어]", "- 새로고침 해줘", "시리야"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestListCommandsPrintsRemoteCatalog(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/commands" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"commands":["위로 올려줘",{"phrase":"확대해줘"}]}`))
	}))
	defer server.Close()

	setupCLI(t, server.URL)

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	if err := listCommands(cmd, nil); err != nil {
		t.Fatalf("listCommands failed: %v", err)
	}
	if got := out.String(); got != "- 위로 올려줘\n- 확대해줘\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestSayReportsUndeliverableAction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"action":"search","parameters":"네이버"}`))
	}))
	defer server.Close()

	setupCLI(t, server.URL)

	cmd := &cobra.Command{}
	out := &syncBuffer{}
	cmd.SetOut(out)

	err := sayCommand(cmd, []string{"네이버", "검색해줘"})
	if !errors.Is(err, dispatch.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if !strings.Contains(out.String(), "> 네이버 검색해줘") {
		t.Fatalf("expected transcript echo, got:\n%s", out.String())
	}
}

func TestRunSessionFromStdin(t *testing.T) {
	calls := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		calls <- struct{}{}
		_, _ = w.Write([]byte(`{"action":"backward"}`))
	}))
	defer server.Close()

	setupCLI(t, server.URL)
	fromStdin = true
	defer func() { fromStdin = false }()

	cmd := &cobra.Command{}
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetIn(strings.NewReader("뒤로 가줘\n"))

	done := make(chan error, 1)
	go func() { done <- runSession(cmd, nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runSession failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("runSession did not finish after input was consumed")
	}

	if len(calls) != 1 {
		t.Fatalf("expected one interpreter call, got %d", len(calls))
	}
	output := out.String()
	for _, want := range []string{"> 뒤로 가줘", "! delivery"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestApplyRunFlags(t *testing.T) {
	base := config.Defaults(t.TempDir())

	cmd := &cobra.Command{}
	cmd.Flags().BoolVar(&wakeWord, "wake", false, "")
	cmd.Flags().BoolVar(&singleShot, "single-shot", false, "")
	cmd.Flags().StringVar(&bridgeAddr, "bridge", "", "")
	if err := cmd.Flags().Parse([]string{"--wake", "--single-shot", "--bridge", "127.0.0.1:9999"}); err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	got := applyRunFlags(cmd, base)
	if !got.Wake.Enabled || got.Session.Continuous || got.Bridge.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("flags not applied: wake=%v continuous=%v bridge=%q", got.Wake.Enabled, got.Session.Continuous, got.Bridge.ListenAddr)
	}
	if got.Browser.Enabled != base.Browser.Enabled {
		t.Fatalf("unchanged flags must keep config values")
	}
}

func TestConsoleEvents(t *testing.T) {
	var out bytes.Buffer
	events := newConsoleEvents(&out)

	events.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonListeningStarted)
	events.PartialTranscript("무시")
	events.FinalTranscript("시리 야 뒤로", "시리야 뒤로")
	events.ActionExecuted(domain.Action{Kind: domain.ActionOpen, URL: "https://naver.com"})
	events.ActionExecuted(domain.Action{Kind: domain.ActionRefresh})
	events.SessionError(domain.ErrorCodeRemote, "API Error: 500")

	want := "[listening] listening_started\n" +
		"> 시리 야 뒤로 (시리야 뒤로)\n" +
		"= open https://naver.com\n" +
		"= refresh\n" +
		"! remote: API Error: 500\n"
	if out.String() != want {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}

func setupCLI(t *testing.T, interpreterURL string) {
	t.Helper()
	home := t.TempDir()
	cfg = config.Defaults(home)
	cfg.Interpreter.BaseURL = interpreterURL
	cfg.Browser.Enabled = false
	cfg.Bridge.ListenAddr = ""
	cfg.Rules.Watch = false
	cfg.Rules.Path = filepath.Join(home, "missing.rules")
	cfg.Session.RestartDelay = 50 * time.Millisecond
	logger = zap.NewNop()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
