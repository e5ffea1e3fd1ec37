package bootstrap

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"

	"chromate/internal/config"
	"chromate/internal/domain"
)

func TestBuildSuccess(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	services, err := Build(cfg, nil, Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Controller == nil || services.Gate == nil || services.Bridge == nil {
		t.Fatalf("expected assembled services: %+v", services)
	}
	if services.Browser != nil {
		t.Fatalf("browser driver should be disabled")
	}
	if services.Lines != nil {
		t.Fatalf("microphone build should not use a line source")
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, cfg.Rules.Path, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := Build(cfg, nil, Options{Fs: fs}); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestSubmitRelaysRewrittenCommand(t *testing.T) {
	t.Parallel()

	messages := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		messages <- body.Message
		_, _ = w.Write([]byte(`{"action":"scroll","parameters":{"direction":"up"}}`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Interpreter.BaseURL = server.URL
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, cfg.Rules.Path, []byte("스크롤 업 => 위로 스크롤\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	services, err := Build(cfg, nil, Options{Fs: fs})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	page := registerPage(t, services)

	if err := services.Controller.Submit(context.Background(), "스크롤 업"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case got := <-messages:
		if got != "위로 스크롤" {
			t.Fatalf("expected rewritten message, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("interpreter was not called")
	}

	msg := waitForPageMessage(t, page, domain.MessageScroll)
	if msg.Direction != domain.DirectionUp {
		t.Fatalf("unexpected scroll message: %+v", msg)
	}
}

func TestHandleMessageVoiceCommand(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"action":"open","parameters":"naver.com"}`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.Interpreter.BaseURL = server.URL
	services, err := Build(cfg, nil, Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	page := registerPage(t, services)
	services.HandleMessage(context.Background(), domain.Message{Type: domain.MessageVoiceCommand, Command: "네이버 열어줘"})

	msg := waitForPageMessage(t, page, domain.MessageNavigateTo)
	if msg.URL != "https://naver.com" {
		t.Fatalf("unexpected navigate message: %+v", msg)
	}
}

func TestHandleMessageVoiceCommandWithoutInterpreter(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	unreachable := server.URL
	server.Close()

	cfg := testConfig(t)
	cfg.Interpreter.BaseURL = unreachable
	services, err := Build(cfg, nil, Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	page := registerPage(t, services)
	services.HandleMessage(context.Background(), domain.Message{Type: domain.MessageVoiceCommand, Command: "뒤로 가줘"})

	waitForPageMessage(t, page, domain.MessageNavigateBack)
}

func TestListenAndStopWithLineSource(t *testing.T) {
	t.Parallel()

	reader, writer := io.Pipe()
	defer writer.Close()

	cfg := testConfig(t)
	services, err := Build(cfg, nil, Options{Fs: afero.NewMemMapFs(), Transcripts: reader})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if services.Lines == nil {
		t.Fatalf("expected line engine")
	}

	page := registerPage(t, services)

	services.HandleMessage(context.Background(), domain.Message{Type: domain.MessageStartListening})
	if !services.Controller.Status().Active {
		t.Fatalf("expected active session")
	}
	status := waitForPageMessage(t, page, domain.MessageStatus)
	if status.Status == nil {
		t.Fatalf("status broadcast without payload")
	}

	services.HandleMessage(context.Background(), domain.Message{Type: domain.MessageStopListening})
	if services.Controller.Status().Active {
		t.Fatalf("expected session to stop")
	}
}

func TestListenArmsGateWhenWakeWordEnabled(t *testing.T) {
	t.Parallel()

	reader, writer := io.Pipe()
	defer writer.Close()

	cfg := testConfig(t)
	cfg.Wake.Enabled = true
	services, err := Build(cfg, nil, Options{Fs: afero.NewMemMapFs(), Transcripts: reader})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer services.Close()

	if err := services.Listen(context.Background()); err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	if !services.Gate.Armed() {
		t.Fatalf("expected armed gate")
	}
	if services.Controller.Status().Active {
		t.Fatalf("command session should wait for the wake word")
	}

	if err := services.StopListening(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if services.Gate.Armed() {
		t.Fatalf("expected disarmed gate")
	}
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	home := t.TempDir()
	cfg := config.Defaults(home)
	cfg.Interpreter.BaseURL = "http://127.0.0.1:1"
	cfg.Browser.Enabled = false
	cfg.Bridge.Relay = true
	cfg.Bridge.ListenAddr = ""
	cfg.Rules.Watch = false
	cfg.Rules.Path = filepath.Join(home, "substitutions.rules")
	cfg.Deepgram.APIKey = "test-key"
	return cfg
}

func registerPage(t *testing.T, services *Services) <-chan domain.Message {
	t.Helper()
	received := make(chan domain.Message, 16)
	unregister, err := services.Hub.Register("page", func(_ context.Context, msg domain.Message) {
		select {
		case received <- msg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	t.Cleanup(unregister)
	return received
}

func waitForPageMessage(t *testing.T, page <-chan domain.Message, kind domain.MessageType) domain.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-page:
			if msg.Type == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message received", kind)
			return domain.Message{}
		}
	}
}
