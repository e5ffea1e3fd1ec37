package main

import (
	"errors"
	"testing"

	"chromate/internal/domain"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonMicCold:           "마이크 대기 중",
		domain.SessionReasonListeningStarted:  "듣고 있어요",
		domain.SessionReasonCaptureRestarted:  "음성 인식을 다시 시작했어요",
		domain.SessionReasonInterpreting:      "처리 중",
		domain.SessionReasonExecuting:         "명령 실행 중",
		domain.SessionReasonTurnCompleted:     "명령을 실행했어요",
		domain.SessionReasonTurnFailed:        "명령을 처리하지 못했어요",
		domain.SessionReasonStopped:           "음성 인식을 멈췄어요",
		domain.SessionReasonPermissionDenied:  "마이크 권한이 필요해요",
		domain.SessionReasonWakeWordListening: "호출어를 기다리는 중",
		domain.SessionReasonWakeWordDetected:  "호출어를 인식했어요",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:        "시작하지 못했어요",
		domain.ErrorCodePermission:     "마이크 권한이 거부되었어요",
		domain.ErrorCodeCapture:        "음성 인식 오류",
		domain.ErrorCodeTransport:      "서버에 연결할 수 없어요",
		domain.ErrorCodeResponseFormat: "서버 응답을 이해하지 못했어요",
		domain.ErrorCodeDelivery:       "페이지에 명령을 전달하지 못했어요",
		domain.ErrorCodeDispatch:       "명령을 실행하지 못했어요",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage(domain.ErrorCodeRemote, "API Error: 500"); got != "API Error: 500" {
		t.Fatalf("expected remote detail, got %q", got)
	}
	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "알 수 없는 오류가 발생했습니다." {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := NewApp()
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartListening(); !errors.Is(err, bootErr) {
		t.Fatalf("expected start to report boot error, got %v", err)
	}
	if err := app.SubmitCommand("뒤로 가줘"); !errors.Is(err, bootErr) {
		t.Fatalf("expected submit to report boot error, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := NewApp()
	status := app.GetStatus()
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateError || status.Active != false || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
	if info := app.GetRuntimeInfo(); info["error"] != "boot" {
		t.Fatalf("unexpected runtime info: %+v", info)
	}
}

func TestEventSinkWithoutRuntimeIsNoop(t *testing.T) {
	t.Parallel()

	app := NewApp()
	app.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonListeningStarted)
	app.PartialTranscript("스크롤")
	app.FinalTranscript("스크롤 내려줘", "스크롤 내려줘")
	app.ActionExecuted(domain.Action{Kind: domain.ActionScroll, Direction: domain.DirectionDown})
	app.IndicatorChanged(true)
	app.SessionError(domain.ErrorCodeCapture, "network")
}
