// Package multiplexer frames whole messages over a single byte stream so that
// requests, responses and notifications can share one pipe or socket.
package multiplexer

import (
	"context"
	"io"
)

// Multiplexer provides a unified interface for message multiplexing
type Multiplexer interface {
	// WriteMessage sends a message with automatic sequence numbering
	WriteMessage(ctx context.Context, data []byte) error

	// WriteMessageWithSequence sends a message with a specific sequence number
	WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error

	// ReadMessage reads messages and returns a channel
	ReadMessage(ctx context.Context) (chan *Message, error)

	// NextSequence reserves a sequence number for a request awaiting a reply
	NextSequence() uint32

	// Close cleanly shuts down the multiplexer
	Close() error

	// PendingMessageCount returns the number of partially received messages
	PendingMessageCount() int
}

var _ Multiplexer = (*Node)(nil)

// New creates a multiplexer over reader and writer.
func New(reader io.Reader, writer io.Writer) Multiplexer {
	return NewNode(reader, writer)
}
