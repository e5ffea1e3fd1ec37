package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"chromate/internal/bootstrap"
	"chromate/internal/config"
	"chromate/internal/domain"
	"chromate/internal/logging"
	"chromate/internal/usecase"
)

const (
	eventSession   = "chromate:session"
	eventPartial   = "chromate:partial"
	eventFinal     = "chromate:final"
	eventAction    = "chromate:action"
	eventIndicator = "chromate:indicator"
	eventError     = "chromate:error"
)

// App is the Wails application root.
type App struct {
	ctx    context.Context
	cancel context.CancelFunc

	services *bootstrap.Services
	cfg      config.Config
	logger   *zap.Logger
	bootErr  error
}

func NewApp() *App {
	return &App{logger: zap.NewNop()}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if err := a.boot(); err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		if err := a.services.Run(runCtx); err != nil {
			a.logger.Error("background services stopped", zap.Error(err))
			a.SessionError(domain.ErrorCodeStartup, err.Error())
		}
	}()

	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonMicCold)
}

func (a *App) boot() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	services, err := bootstrap.Build(cfg, logger, bootstrap.Options{Events: a})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.services = services
	return nil
}

func (a *App) shutdown(_ context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	if a.services != nil {
		if err := a.services.Close(); err != nil {
			a.logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// StartListening starts voice control.
func (a *App) StartListening() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Listen(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrPermissionDenied) {
			return a.services.Controller.Status(), err
		}
		a.SessionError(domain.ErrorCodeCapture, err.Error())
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// StopListening stops voice control and discards any in-flight command.
func (a *App) StopListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.services.StopListening()
}

// SubmitCommand runs a typed command as if it had been spoken.
func (a *App) SubmitCommand(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	err := a.services.Controller.Submit(a.ctx, text)
	if errors.Is(err, usecase.ErrEmptyUtterance) || errors.Is(err, usecase.ErrTurnInFlight) {
		return nil
	}
	return err
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	mode := "continuous"
	if a.cfg.Wake.Enabled {
		mode = "wake-word"
	} else if !a.cfg.Session.Continuous {
		mode = "single-shot"
	}
	return map[string]string{
		"interpreter": a.cfg.Interpreter.BaseURL,
		"provider":    "Deepgram",
		"model":       a.cfg.Deepgram.Model,
		"language":    a.cfg.Session.Language,
		"mode":        mode,
		"wakeKeyword": a.cfg.Wake.Keyword,
		"rulesFile":   a.cfg.Rules.Path,
		"bridge":      a.cfg.Bridge.ListenAddr,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPartial, map[string]string{"text": text})
}

// FinalTranscript emits the recognized utterance and the text sent for interpretation.
func (a *App) FinalTranscript(raw string, normalized string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{
		"raw":        raw,
		"normalized": normalized,
	})
}

func (a *App) ActionExecuted(action domain.Action) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventAction, action)
}

// IndicatorChanged shows or hides the wake-word listening indicator.
func (a *App) IndicatorChanged(visible bool) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventIndicator, map[string]bool{"visible": visible})
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "마이크 대기 중"
	case domain.SessionReasonListeningStarted:
		return "듣고 있어요"
	case domain.SessionReasonCaptureRestarted:
		return "음성 인식을 다시 시작했어요"
	case domain.SessionReasonInterpreting:
		return "처리 중"
	case domain.SessionReasonExecuting:
		return "명령 실행 중"
	case domain.SessionReasonTurnCompleted:
		return "명령을 실행했어요"
	case domain.SessionReasonTurnFailed:
		return "명령을 처리하지 못했어요"
	case domain.SessionReasonStopped:
		return "음성 인식을 멈췄어요"
	case domain.SessionReasonPermissionDenied:
		return "마이크 권한이 필요해요"
	case domain.SessionReasonWakeWordListening:
		return "호출어를 기다리는 중"
	case domain.SessionReasonWakeWordDetected:
		return "호출어를 인식했어요"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "시작하지 못했어요"
	case domain.ErrorCodePermission:
		return "마이크 권한이 거부되었어요"
	case domain.ErrorCodeCapture:
		return "음성 인식 오류"
	case domain.ErrorCodeTransport:
		return "서버에 연결할 수 없어요"
	case domain.ErrorCodeRemote:
		if detail != "" {
			return detail
		}
		return "API Error"
	case domain.ErrorCodeResponseFormat:
		return "서버 응답을 이해하지 못했어요"
	case domain.ErrorCodeDelivery:
		return "페이지에 명령을 전달하지 못했어요"
	case domain.ErrorCodeDispatch:
		return "명령을 실행하지 못했어요"
	default:
		if detail == "" {
			return "알 수 없는 오류가 발생했습니다."
		}
		return detail
	}
}
