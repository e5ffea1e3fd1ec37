package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, nil)
	if p.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	if p.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
	if p.cfg.KeepAlive != defaultKeepAlive {
		t.Fatalf("unexpected keepalive: %s", p.cfg.KeepAlive)
	}
}

func TestProviderStartStreamingRequiresAPIKey(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{APIKey: ""}, nil)
	_, err := p.StartStreaming(context.Background(), ports.StreamingConfig{})
	if err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"}, ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"wss://api.deepgram.com/v1/listen", "encoding=linear16", "sample_rate=16000", "channels=1"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
	if strings.Contains(url, "endpointing") {
		t.Fatalf("endpointing should be omitted by default: %s", url)
	}
}

func TestBuildListenURLSessionLanguageWins(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true, Endpointing: 300},
		ports.StreamingConfig{Encoding: "linear16", SampleRate: 8000, Channels: 2, InterimResults: true, Language: "ko"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"ws://localhost:8080/v1/listen", "language=ko", "smart_format=true", "endpointing=300", "interim_results=true"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildListenURL(Config{APIBaseURL: ":// bad"}, ports.StreamingConfig{})
	if err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestDecodeAdvancesResultIndexOnFinals(t *testing.T) {
	t.Parallel()

	s := &streamingSession{logger: nopLogger()}
	frames := []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"스크롤"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"스크롤 내려줘"}]}}`,
		`{"type":"Results","speech_final":true,"channel":{"alternatives":[{"transcript":"뒤로 가줘"}]}}`,
		`{"type":"Metadata"}`,
		`not json`,
	}

	var got []domain.TranscriptEvent
	for _, frame := range frames {
		event, ok, err := s.decode([]byte(frame))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			got = append(got, event)
		}
	}

	want := []domain.TranscriptEvent{
		{ResultIndex: 0, Text: "스크롤"},
		{ResultIndex: 0, Text: "스크롤 내려줘", IsFinal: true},
		{ResultIndex: 1, Text: "뒤로 가줘", IsFinal: true},
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeProviderError(t *testing.T) {
	t.Parallel()

	s := &streamingSession{logger: nopLogger()}
	_, ok, err := s.decode([]byte(`{"type":"Error","message":"bad key"}`))
	if ok || err == nil || err.Error() != "bad key" {
		t.Fatalf("expected provider error, got ok=%v err=%v", ok, err)
	}
}

func TestExtractTranscript(t *testing.T) {
	t.Parallel()

	r1 := deepgramResponse{}
	r1.Channel.Alternatives = append(r1.Channel.Alternatives, struct {
		Transcript string "json:\"transcript\""
	}{Transcript: " channel "})
	if got := extractTranscript(r1); got != "channel" {
		t.Fatalf("unexpected transcript from channel: %q", got)
	}

	if got := extractTranscript(deepgramResponse{}); got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestStreamingSessionRoundTrip(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		kind, payload, err := conn.ReadMessage()
		if err != nil || kind != websocket.BinaryMessage || string(payload) != "pcm" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"새로고침"}]}}`))

		_, payload, err = conn.ReadMessage()
		if err != nil || !strings.Contains(string(payload), "CloseStream") {
			return
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	p := NewProvider(Config{APIKey: "secret", APIBaseURL: server.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := p.StartStreaming(ctx, ports.StreamingConfig{Language: "ko"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := session.SendAudio([]byte("pcm")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case event := <-session.Events():
		if event.Text != "새로고침" || !event.IsFinal {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-ctx.Done():
		t.Fatalf("no transcript received")
	}

	_ = session.CloseSend()
	if err := session.Wait(); err != nil {
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Logf("stream ended with %v", err)
		}
	}
}

func TestStreamingSessionSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := &streamingSession{sendClosed: true}
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestStreamingSessionCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &streamingSession{audio: make(chan []byte, 1)}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestStreamingSessionSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &streamingSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("first"))
	s.setErr(errors.New("second"))
	if s.waitErr() == nil || s.waitErr().Error() != "first" {
		t.Fatalf("expected first error to win")
	}
}

func nopLogger() *zap.Logger { return zap.NewNop() }
