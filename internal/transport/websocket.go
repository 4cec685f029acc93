package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultConnectTimeout = 10 * time.Second
	closeWriteTimeout     = 2 * time.Second
	incomingBufferSize    = 256
)

// Dials the story server over a websocket.
// A non-empty AuthToken is sent as a bearer token.
type WebSocketDialer struct {
	URL       string
	AuthToken string
}

func NewWebSocketDialer(url string, authToken string) WebSocketDialer {
	return WebSocketDialer{
		URL:       url,
		AuthToken: authToken,
	}
}

func (d WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	headers := make(http.Header)
	if d.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+d.AuthToken)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket dial failed (status %d): %w", ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket dial failed: %w", ErrTransport, err)
	}

	return newWebSocketConn(conn), nil
}

// WebSocketConn is a Conn over a gorilla websocket.
//
// A read loop goroutine owns the socket's read side and hands messages to Read through a
// buffered channel, which it closes once the socket fails or closes.
type WebSocketConn struct {
	logger *slog.Logger
	conn   *websocket.Conn

	incoming chan Message
	closing  chan struct{}
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func newWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{
		logger:   utils.ComponentLogger("websocket", uuid.New()),
		conn:     conn,
		incoming: make(chan Message, incomingBufferSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *WebSocketConn) Read(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			return Message{}, c.Err()
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *WebSocketConn) SendText(msg string) error {
	return c.write(websocket.TextMessage, []byte(msg))
}

func (c *WebSocketConn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *WebSocketConn) write(messageType int, data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("%w: write failed: %w", ErrTransport, err)
	}
	return nil
}

func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Debug("closing websocket")
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

// The error that ended the connection, once it has ended.
func (c *WebSocketConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *WebSocketConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *WebSocketConn) readLoop() {
	defer close(c.done)
	defer close(c.incoming)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setErr(fmt.Errorf("%w: %w", ErrClosed, err))
			} else {
				c.logger.Warn("websocket read failed", "err", err)
				c.setErr(fmt.Errorf("%w: read failed: %w", ErrTransport, err))
			}
			return
		}

		var msg Message
		switch messageType {
		case websocket.TextMessage:
			msg = Message{Type: TextMessage, Data: data}
		case websocket.BinaryMessage:
			msg = Message{Type: BinaryMessage, Data: data}
		default:
			continue
		}

		select {
		case c.incoming <- msg:
		case <-c.closing:
			c.setErr(ErrClosed)
			return
		}
	}
}
