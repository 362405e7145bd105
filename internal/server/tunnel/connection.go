package tunnel

import (
	"sync"
	"time"

	"myhook/internal/shared/protocol"
	"myhook/internal/shared/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendTimeout  = 5 * time.Second

	// DefaultSendQueue is the per-connection outbound queue length
	DefaultSendQueue = 256
	// MaxMessageSize bounds a single inbound frame from the client
	MaxMessageSize = 32 << 20
)

// Channel is the broker's handle on one tunnel client. The registry owns the
// handle; the transport owns the underlying connection.
type Channel interface {
	ID() string
	Send(event protocol.Event, payload any) error
	Close()
	Done() <-chan struct{}
}

// Connection is a Channel backed by a websocket
type Connection struct {
	Conn       *websocket.Conn
	SendCh     chan []byte
	CloseCh    chan struct{}
	RemoteAddr string

	id     string
	codec  protocol.Codec
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

var _ Channel = (*Connection)(nil)

// NewConnection wraps a websocket. conn may be nil in tests; outbound
// messages then accumulate in SendCh.
func NewConnection(conn *websocket.Conn, codec protocol.Codec, queueSize int, logger *zap.Logger) *Connection {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connection{
		Conn:    conn,
		SendCh:  make(chan []byte, queueSize),
		CloseCh: make(chan struct{}),
		id:      utils.GenerateID(),
		codec:   codec,
	}
	if conn != nil {
		c.RemoteAddr = conn.RemoteAddr().String()
	}
	c.logger = logger.With(zap.String("channel_id", c.id))
	return c
}

// ID returns the connection's unique id
func (c *Connection) ID() string {
	return c.id
}

// Codec returns the codec negotiated for this connection
func (c *Connection) Codec() protocol.Codec {
	return c.codec
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.CloseCh
}

// Send encodes an event and queues it for the write pump
func (c *Connection) Send(event protocol.Event, payload any) error {
	data, err := c.codec.Encode(event, payload)
	if err != nil {
		return err
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	c.mu.RUnlock()

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case c.SendCh <- data:
		return nil
	case <-c.CloseCh:
		return ErrConnectionClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close closes the connection. It is safe to call more than once and from
// any goroutine.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.CloseCh)

	if c.Conn != nil {
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.Conn.Close()
	}

	c.logger.Debug("Connection closed")
}

// IsClosed returns whether the connection is closed
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// StartWritePump writes queued messages and keep-alive pings until the
// connection closes or a write fails.
func (c *Connection) StartWritePump() {
	if c.Conn == nil {
		return
	}

	messageType := websocket.TextMessage
	if c.codec.Binary() {
		messageType = websocket.BinaryMessage
	}

	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.SendCh:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(messageType, message); err != nil {
				c.logger.Warn("Write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.CloseCh:
			return
		}
	}
}

// ReadLoop decodes inbound messages and hands them to handle until the
// connection fails. Undecodable frames are logged and skipped.
func (c *Connection) ReadLoop(handle func(*protocol.Message)) error {
	if c.Conn == nil {
		<-c.CloseCh
		return ErrConnectionClosed
	}

	c.Conn.SetReadLimit(MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return err
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping undecodable message", zap.Error(err))
			continue
		}
		handle(msg)
	}
}
