package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chromate/internal/domain"
	"chromate/internal/ports"
)

var ErrDeliveryFailed = errors.New("page context unreachable")

// DeliveryError reports a relayed effect that could not be delivered.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDeliveryFailed, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

func (e *DeliveryError) Code() domain.ErrorCode { return domain.ErrorCodeDelivery }

// Relay realizes the dispatch table across contexts: it forwards each action
// as a message to the context owning the page. When delivery fails, scrolling
// falls back to the local page if one is configured; other effects are dropped.
type Relay struct {
	messenger ports.Messenger
	target    string
	fallback  ports.Page
	logger    *zap.Logger
}

// NewRelay builds a relay to target. An empty target lets the messenger pick
// the active page context. fallback may be nil.
func NewRelay(messenger ports.Messenger, target string, fallback ports.Page, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{messenger: messenger, target: target, fallback: fallback, logger: logger}
}

func (r *Relay) Dispatch(ctx context.Context, action domain.Action) error {
	log := r.logger.With(zap.String("action", string(action.Kind)), zap.String("target", r.target))

	msg, ok := domain.MessageForAction(action)
	if !ok {
		log.Warn("action has no page message, ignored")
		return nil
	}

	err := r.messenger.Send(ctx, r.target, msg)
	if err == nil {
		return nil
	}
	log.Warn("message delivery failed", zap.Error(err))

	if action.Kind == domain.ActionScroll && r.fallback != nil {
		fraction := ScrollFraction
		if action.Direction == domain.DirectionUp {
			fraction = -ScrollFraction
		}
		if fbErr := r.fallback.ScrollBy(ctx, fraction); fbErr != nil {
			log.Error("fallback scroll failed", zap.Error(fbErr))
			return &DeliveryError{Err: err}
		}
		log.Info("scrolled through local fallback")
		return nil
	}

	return &DeliveryError{Err: err}
}

// PageHandler runs on the page side: it turns relayed messages back into
// actions and performs them with the local dispatcher.
type PageHandler struct {
	dispatcher ports.ActionDispatcher
	logger     *zap.Logger
}

func NewPageHandler(dispatcher ports.ActionDispatcher, logger *zap.Logger) *PageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageHandler{dispatcher: dispatcher, logger: logger}
}

// Handle is shaped as a messaging handler.
func (h *PageHandler) Handle(ctx context.Context, msg domain.Message) {
	action, ok := domain.ActionForMessage(msg)
	if !ok {
		h.logger.Debug("ignoring non-page message", zap.String("type", string(msg.Type)))
		return
	}
	if err := h.dispatcher.Dispatch(ctx, action); err != nil {
		h.logger.Warn("page effect failed", zap.String("type", string(msg.Type)), zap.Error(err))
	}
}
