package statefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/callpilot/internal/observe"
)

const defaultWriteTimeout = 5 * time.Second

// Handler streams snapshots to websocket clients as JSON text messages. The
// first message is the current snapshot; later ones follow every change.
// Client messages are ignored.
type Handler struct {
	src          Source
	writeTimeout time.Duration
	originHosts  []string
}

// Option configures a [Handler].
type Option func(*Handler)

// WithWriteTimeout bounds each write to a client. A client that cannot keep
// up is disconnected.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

// WithOriginPatterns allows cross-origin browser clients from the given
// host patterns.
func WithOriginPatterns(p ...string) Option {
	return func(h *Handler) { h.originHosts = p }
}

// NewHandler returns a websocket handler fed by src.
func NewHandler(src Source, opts ...Option) *Handler {
	h := &Handler{src: src, writeTimeout: defaultWriteTimeout}
	for _, o := range opts {
		o(h)
	}
	return h
}

// ServeHTTP upgrades the request and streams until the client leaves or the
// request context ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originHosts})
	if err != nil {
		log.Debug("state feed accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	snaps, unsubscribe := h.src.Subscribe()
	defer unsubscribe()

	log.Debug("state feed client connected", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case s, ok := <-snaps:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			data, err := json.Marshal(s)
			if err != nil {
				log.Error("encode snapshot", "err", err)
				continue
			}
			if err := h.write(ctx, conn, data); err != nil {
				log.Debug("state feed client dropped", "err", err)
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
