// Package messaging delivers fire-and-forget messages between execution
// contexts: the background controller, page-attached contexts and UI surfaces.
package messaging

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"chromate/internal/domain"
)

var (
	ErrNoReceiver  = errors.New("receiving context does not exist")
	ErrMailboxFull = errors.New("receiving context is not keeping up")
	ErrHubClosed   = errors.New("messaging hub is closed")
)

const mailboxSize = 32

// Handler consumes messages delivered to one context.
type Handler func(ctx context.Context, msg domain.Message)

type mailbox struct {
	id      string
	handler Handler
	queue   chan domain.Message
	done    chan struct{}
	cancel  context.CancelFunc
}

// Hub routes messages to registered contexts. Each context has its own
// ordered mailbox drained by a dedicated goroutine.
type Hub struct {
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]*mailbox
	closed   bool
	wg       sync.WaitGroup

	// recent lists context ids, most recently registered or activated last.
	// Its tail is the default target for Send with an empty id.
	recent []string
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, contexts: make(map[string]*mailbox)}
}

// Register attaches a context. A context registered under an existing id
// replaces it. The most recently registered context becomes the default
// target for Send with an empty id.
func (h *Hub) Register(id string, handler Handler) (func(), error) {
	if id == "" {
		return nil, errors.New("context id is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	if previous, ok := h.contexts[id]; ok {
		h.removeLocked(previous)
	}

	ctx, cancel := context.WithCancel(context.Background())
	box := &mailbox{
		id:      id,
		handler: handler,
		queue:   make(chan domain.Message, mailboxSize),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	h.contexts[id] = box
	h.promoteLocked(id)

	h.wg.Add(1)
	go h.drain(ctx, box)

	h.logger.Debug("context registered", zap.String("context", id))

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if current, ok := h.contexts[id]; ok && current == box {
				h.removeLocked(box)
			}
		})
	}, nil
}

// Activate selects the default target for Send with an empty id. When it is
// unregistered, the previously active context takes over again.
func (h *Hub) Activate(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.contexts[id]; !ok {
		return ErrNoReceiver
	}
	h.promoteLocked(id)
	return nil
}

// Active returns the default target for Send with an empty id, or "" when
// no context is registered.
func (h *Hub) Active() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.activeLocked()
}

func (h *Hub) activeLocked() string {
	if len(h.recent) == 0 {
		return ""
	}
	return h.recent[len(h.recent)-1]
}

func (h *Hub) promoteLocked(id string) {
	h.forgetLocked(id)
	h.recent = append(h.recent, id)
}

func (h *Hub) forgetLocked(id string) {
	for i, existing := range h.recent {
		if existing == id {
			h.recent = append(h.recent[:i], h.recent[i+1:]...)
			return
		}
	}
}

// Send queues msg for the context id, or the active context when id is empty.
func (h *Hub) Send(ctx context.Context, id string, msg domain.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if id == "" {
		id = h.activeLocked()
	}
	box, ok := h.contexts[id]
	if !ok {
		return ErrNoReceiver
	}

	select {
	case box.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrMailboxFull
	}
}

// Broadcast queues msg for every registered context and returns how many accepted it.
func (h *Hub) Broadcast(msg domain.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	delivered := 0
	for _, box := range h.contexts {
		select {
		case box.queue <- msg:
			delivered++
		default:
			h.logger.Debug("broadcast dropped", zap.String("context", box.id), zap.String("type", string(msg.Type)))
		}
	}
	return delivered
}

// Contexts returns the registered context ids.
func (h *Hub) Contexts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.contexts))
	for id := range h.contexts {
		ids = append(ids, id)
	}
	return ids
}

// Close unregisters every context and waits for their mailboxes to drain.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, box := range h.contexts {
		h.removeLocked(box)
	}
	h.mu.Unlock()

	h.wg.Wait()
}

func (h *Hub) removeLocked(box *mailbox) {
	delete(h.contexts, box.id)
	h.forgetLocked(box.id)
	close(box.queue)
	box.cancel()
	h.logger.Debug("context unregistered", zap.String("context", box.id))
}

func (h *Hub) drain(ctx context.Context, box *mailbox) {
	defer h.wg.Done()
	defer close(box.done)
	for msg := range box.queue {
		if ctx.Err() != nil {
			continue
		}
		box.handler(ctx, msg)
	}
}
