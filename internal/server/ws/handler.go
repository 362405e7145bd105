// Package ws serves the tunnel channel endpoint: it upgrades the client's
// HTTP request to a websocket, opens a session and pumps channel events
// until either side disconnects.
package ws

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"

	"myhook/internal/server/proxy"
	"myhook/internal/server/tunnel"
	"myhook/internal/shared/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultCredentialParam = "ss"
	CodecParam             = "codec"
)

// Config configures the endpoint
type Config struct {
	CredentialParam string
	SendQueue       int
}

// Handler accepts tunnel clients
type Handler struct {
	sessions   *tunnel.SessionManager
	correlator *proxy.Correlator
	cfg        Config
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	connections map[string]*tunnel.Connection
	connMu      sync.RWMutex
	wg          sync.WaitGroup
	closing     bool
}

// NewHandler creates the tunnel endpoint handler
func NewHandler(sessions *tunnel.SessionManager, correlator *proxy.Correlator, cfg Config, logger *zap.Logger) *Handler {
	if cfg.CredentialParam == "" {
		cfg.CredentialParam = DefaultCredentialParam
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:   sessions,
		correlator: correlator,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// tunnel clients run inside browser extensions with arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:      logger,
		connections: make(map[string]*tunnel.Connection),
	}
}

// ServeHTTP upgrades the request and runs the channel until it closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	codec, err := protocol.CodecByName(r.URL.Query().Get(CodecParam))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	credential := r.URL.Query().Get(h.cfg.CredentialParam)

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.logger.Debug("Websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := tunnel.NewConnection(wsConn, codec, h.cfg.SendQueue, h.logger)
	if !h.track(conn) {
		conn.Close()
		return
	}
	defer h.untrack(conn)

	go conn.StartWritePump()

	sess, err := h.sessions.Open(conn, credential)
	if err != nil {
		h.logger.Error("Failed to open tunnel session",
			zap.String("remote_addr", conn.RemoteAddr),
			zap.Error(err),
		)
		conn.Close()
		return
	}
	defer h.sessions.Close(sess)

	err = conn.ReadLoop(func(msg *protocol.Message) {
		h.dispatch(conn, sess, msg)
	})
	h.logClose(sess, err)
}

func (h *Handler) dispatch(conn *tunnel.Connection, sess *tunnel.Session, msg *protocol.Message) {
	switch msg.Event {
	case protocol.EventResponse:
		var result protocol.OutboundResult
		if err := msg.Bind(&result); err != nil {
			h.logger.Warn("Invalid result payload",
				zap.String("subdomain", sess.Subdomain),
				zap.Error(err),
			)
			return
		}
		h.correlator.Deliver(conn, &result)
	default:
		h.logger.Debug("Ignoring unknown event",
			zap.String("subdomain", sess.Subdomain),
			zap.String("event", msg.Event.String()),
		)
	}
}

func (h *Handler) logClose(sess *tunnel.Session, err error) {
	if err == nil || errors.Is(err, tunnel.ErrConnectionClosed) || errors.Is(err, net.ErrClosed) {
		return
	}

	errStr := err.Error()
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived),
		strings.Contains(errStr, "connection reset by peer"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "i/o timeout"):
		h.logger.Debug("Client disconnected",
			zap.String("subdomain", sess.Subdomain),
			zap.Error(err),
		)
	case errors.Is(err, websocket.ErrReadLimit):
		h.logger.Warn("Client exceeded message size limit",
			zap.String("subdomain", sess.Subdomain),
		)
	default:
		h.logger.Warn("Tunnel channel failed",
			zap.String("subdomain", sess.Subdomain),
			zap.Error(err),
		)
	}
}

func (h *Handler) track(conn *tunnel.Connection) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.closing {
		return false
	}
	h.connections[conn.ID()] = conn
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(conn *tunnel.Connection) {
	h.connMu.Lock()
	delete(h.connections, conn.ID())
	h.connMu.Unlock()
	h.wg.Done()
}

// ActiveConnections returns the number of open channels, registered or not
func (h *Handler) ActiveConnections() int {
	h.connMu.RLock()
	defer h.connMu.RUnlock()
	return len(h.connections)
}

// Shutdown refuses new channels, closes open ones and waits for their
// handlers to return.
func (h *Handler) Shutdown() {
	h.connMu.Lock()
	h.closing = true
	conns := make([]*tunnel.Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.connMu.Unlock()

	h.logger.Info("Closing tunnel channels", zap.Int("count", len(conns)))
	for _, c := range conns {
		c.Close()
	}
	h.wg.Wait()
}
