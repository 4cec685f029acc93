// Package transport adapts message-oriented connections to the binary frame and
// text control stream consumed by the session.
package transport

import (
	"context"
	"errors"
)

type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// One message received from the server.
type Message struct {
	Type MessageType
	Data []byte
}

var (
	// The connection failed. Fatal to the session using it.
	ErrTransport = errors.New("transport failure")

	// The connection was closed, by either side.
	ErrClosed = errors.New("transport closed")
)

// Opens connections to the story server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// An open connection carrying binary audio frames and text control messages.
//
// Read must only be called from one goroutine. Send methods and Close are safe for concurrent use.
type Conn interface {
	// Block until the next message arrives.
	// Returns an error wrapping ErrClosed after a normal closure, or ErrTransport on failure.
	Read(ctx context.Context) (Message, error)

	SendText(msg string) error
	SendBinary(data []byte) error

	// Close the connection. Safe to call more than once.
	Close() error
}
