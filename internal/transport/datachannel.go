package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/storyvoice/internal/utils"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Uses an already negotiated WebRTC data channel as the connection to the story server.
//
// Text data channel messages carry control messages, binary ones carry audio frames.
// A data channel cannot be reopened, so Dial succeeds at most once per channel.
type DataChannelDialer struct {
	dataChannel *webrtc.DataChannel

	dialOnce sync.Once
}

func NewDataChannelDialer(dc *webrtc.DataChannel) *DataChannelDialer {
	return &DataChannelDialer{dataChannel: dc}
}

// Wait for the data channel to open and take it over.
func (d *DataChannelDialer) Dial(ctx context.Context) (Conn, error) {
	var conn *DataChannelConn
	d.dialOnce.Do(func() {
		conn = newDataChannelConn(d.dataChannel)
	})
	if conn == nil {
		return nil, fmt.Errorf("%w: data channel %q was already used", ErrClosed, d.dataChannel.Label())
	}

	if err := conn.waitOpen(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// DataChannelConn is a Conn over a pion data channel.
//
// pion delivers messages on its own goroutine through OnMessage; they are handed to Read
// through a buffered channel, applying backpressure when the reader falls behind.
type DataChannelConn struct {
	logger      *slog.Logger
	dataChannel *webrtc.DataChannel

	// Closed with the connection when the connection owns it.
	peerConnection *webrtc.PeerConnection

	incoming chan Message
	opened   chan struct{}
	closing  chan struct{}

	openOnce  sync.Once
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newDataChannelConn(dc *webrtc.DataChannel) *DataChannelConn {
	c := &DataChannelConn{
		logger:      utils.ComponentLogger("datachannel", uuid.New(), "label", dc.Label()),
		dataChannel: dc,
		incoming:    make(chan Message, incomingBufferSize),
		opened:      make(chan struct{}),
		closing:     make(chan struct{}),
	}

	dc.OnOpen(c.onOpenHandler)
	dc.OnMessage(c.onMessageHandler)
	dc.OnClose(func() {
		c.shutdown(ErrClosed)
	})
	dc.OnError(func(err error) {
		c.logger.Warn("data channel error", "err", err)
		c.shutdown(fmt.Errorf("%w: %w", ErrTransport, err))
	})

	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		c.onOpenHandler()
	}
	return c
}

func (c *DataChannelConn) Read(ctx context.Context) (Message, error) {
	select {
	case msg := <-c.incoming:
		return msg, nil
	case <-c.closing:
		return Message{}, c.Err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *DataChannelConn) SendText(msg string) error {
	if c.isClosing() {
		return ErrClosed
	}
	if err := c.dataChannel.SendText(msg); err != nil {
		return fmt.Errorf("%w: send failed: %w", ErrTransport, err)
	}
	return nil
}

func (c *DataChannelConn) SendBinary(data []byte) error {
	if c.isClosing() {
		return ErrClosed
	}
	if err := c.dataChannel.Send(data); err != nil {
		return fmt.Errorf("%w: send failed: %w", ErrTransport, err)
	}
	return nil
}

func (c *DataChannelConn) Close() error {
	c.shutdown(ErrClosed)

	var errs []error
	if err := c.dataChannel.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.peerConnection != nil {
		if err := c.peerConnection.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: close failed: %w", ErrTransport, err)
	}
	return nil
}

func (c *DataChannelConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// --------------------------------------------------------------------------------

// Block until the channel is open. The connection is closed if it never opens.
func (c *DataChannelConn) waitOpen(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.closing:
		err := c.Err()
		c.Close()
		return err
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

func (c *DataChannelConn) onOpenHandler() {
	c.openOnce.Do(func() {
		c.logger.Debug("data channel opened")
		close(c.opened)
	})
}

func (c *DataChannelConn) onMessageHandler(msg webrtc.DataChannelMessage) {
	messageType := BinaryMessage
	if msg.IsString {
		messageType = TextMessage
	}

	select {
	case c.incoming <- Message{Type: messageType, Data: msg.Data}:
	case <-c.closing:
	}
}

func (c *DataChannelConn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.closing)
	})
}

func (c *DataChannelConn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}
