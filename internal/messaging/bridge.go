package messaging

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chromate/internal/domain"
)

const (
	bridgeWriteTimeout = 5 * time.Second
	bridgeOutboxSize   = 32
)

// Bridge attaches remote contexts (an extension content script, a popup) to
// the hub over websocket. Each connection registers as one context; messages
// the connection sends are passed to the inbound handler.
type Bridge struct {
	hub      *Hub
	inbound  Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewBridge(hub *Hub, inbound Handler, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		hub:     hub,
		inbound: inbound,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     allowExtensionOrigin,
		},
	}
}

// allowExtensionOrigin accepts browser-extension pages and local tools.
func allowExtensionOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.HasPrefix(origin, "chrome-extension://") ||
		strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1")
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("bridge upgrade failed", zap.Error(err))
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("context"))
	if id == "" {
		id = uuid.NewString()
	}

	peer := &bridgePeer{
		conn:   conn,
		outbox: make(chan domain.Message, bridgeOutboxSize),
	}

	unregister, err := b.hub.Register(id, peer.enqueue)
	if err != nil {
		b.logger.Warn("bridge registration failed", zap.String("context", id), zap.Error(err))
		_ = conn.Close()
		return
	}
	log := b.logger.With(zap.String("context", id))
	log.Info("bridge context connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		peer.writeLoop(log)
	}()

	b.readLoop(r.Context(), peer, id, log)

	unregister()
	peer.close()
	wg.Wait()
	_ = conn.Close()
	log.Info("bridge context disconnected")
}

func (b *Bridge) readLoop(ctx context.Context, peer *bridgePeer, id string, log *zap.Logger) {
	for {
		var msg domain.Message
		if err := peer.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("bridge read ended", zap.Error(err))
			}
			return
		}
		if msg.Type == domain.MessageTabActivated {
			if err := b.hub.Activate(id); err != nil {
				log.Debug("bridge activation ignored", zap.Error(err))
			}
			continue
		}
		if b.inbound == nil {
			continue
		}
		b.inbound(withSource(ctx, id), msg)
	}
}

type bridgePeer struct {
	conn   *websocket.Conn
	outbox chan domain.Message

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (p *bridgePeer) enqueue(_ context.Context, msg domain.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.outbox <- msg:
	default:
	}
}

func (p *bridgePeer) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.outbox)
		p.mu.Unlock()
	})
}

func (p *bridgePeer) writeLoop(log *zap.Logger) {
	for msg := range p.outbox {
		_ = p.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
		if err := p.conn.WriteJSON(msg); err != nil {
			log.Debug("bridge write failed", zap.Error(err))
			_ = p.conn.Close()
			return
		}
	}
	_ = p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

type sourceKey struct{}

func withSource(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sourceKey{}, id)
}

// Source returns the context id a bridged message came from.
func Source(ctx context.Context) string {
	id, _ := ctx.Value(sourceKey{}).(string)
	return id
}
