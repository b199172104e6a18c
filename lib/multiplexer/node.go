package multiplexer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	// 1 byte frame type, 4 bytes sequence, 4 bytes data length
	FrameHeaderSize = 9

	FrameTypeStart    = uint8(0x01) // Opens a message
	FrameTypeEnd      = uint8(0x02) // Closes a message
	FrameTypeData     = uint8(0x03) // Carries a chunk of the message body
	FrameTypeError    = uint8(0x04) // Local read failure, never written to the wire
	FrameTypeComplete = uint8(0x05) // All frames of a message received
	FrameTypeAbort    = uint8(0x06) // Writer gave up on a message
)

const (
	ChunkSize      = 1024
	MaxMessageSize = 10 * 1024 * 1024
)

// Message is a reassembled message or a local read error.
type Message struct {
	Sequence uint32
	Data     []byte
	Type     uint8
}

// Node frames messages over a byte stream. Writes from multiple goroutines
// are serialized; a message is never interleaved with another on the wire.
type Node struct {
	reader io.Reader
	writer io.Writer

	writerLock sync.Mutex
	readerLock sync.RWMutex

	partial map[uint32]*Message

	sequence atomic.Uint32
}

// NewNode creates a Node reading frames from reader and writing to writer.
func NewNode(reader io.Reader, writer io.Writer) *Node {
	return &Node{
		reader:  reader,
		writer:  writer,
		partial: make(map[uint32]*Message),
	}
}

// ReadMessage starts a reader goroutine and returns the channel it delivers
// complete messages on. The channel is closed when the stream ends.
func (n *Node) ReadMessage(ctx context.Context) (chan *Message, error) {
	if n.reader == nil {
		return nil, fmt.Errorf("reader is nil")
	}

	ch := make(chan *Message, 256)

	go func() {
		defer close(ch)

		header := make([]byte, FrameHeaderSize)
		buffer := make([]byte, ChunkSize)

		// send gives up once ctx is done; nobody drains ch after that.
		send := func(m *Message) bool {
			select {
			case ch <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				select {
				case ch <- &Message{Type: FrameTypeError, Data: []byte("context done")}:
				default:
				}
				return
			default:
			}

			if _, err := io.ReadFull(n.reader, header); err != nil {
				if !isEndOfStream(err) {
					send(&Message{Type: FrameTypeError, Data: []byte(err.Error())})
				}
				return
			}

			frameType := header[0]
			seq := binary.BigEndian.Uint32(header[1:5])
			length := binary.BigEndian.Uint32(header[5:9])

			if length > MaxMessageSize {
				send(&Message{Type: FrameTypeError, Data: []byte(fmt.Sprintf("frame length %d exceeds maximum %d", length, MaxMessageSize))})
				return
			}

			switch frameType {
			case FrameTypeStart:
				n.readerLock.Lock()
				if _, exists := n.partial[seq]; exists {
					n.readerLock.Unlock()
					if !send(&Message{Type: FrameTypeError, Data: []byte(fmt.Sprintf("sequence %d already open", seq))}) {
						return
					}
					continue
				}
				n.partial[seq] = &Message{Sequence: seq, Type: FrameTypeStart, Data: make([]byte, 0, min(int(length), ChunkSize*4))}
				n.readerLock.Unlock()

			case FrameTypeData:
				if int(length) > len(buffer) {
					buffer = make([]byte, length)
				}
				if _, err := io.ReadFull(n.reader, buffer[:length]); err != nil {
					if !isEndOfStream(err) {
						send(&Message{Type: FrameTypeError, Data: []byte(err.Error())})
					}
					return
				}

				n.readerLock.Lock()
				m, ok := n.partial[seq]
				if ok && len(m.Data)+int(length) > MaxMessageSize {
					delete(n.partial, seq)
					n.readerLock.Unlock()
					if !send(&Message{Type: FrameTypeError, Data: []byte(fmt.Sprintf("message %d exceeds maximum size", seq))}) {
						return
					}
					continue
				}
				if ok {
					m.Data = append(m.Data, buffer[:length]...)
				}
				n.readerLock.Unlock()

				if !ok {
					if !send(&Message{Type: FrameTypeError, Data: []byte(fmt.Sprintf("unknown sequence: %d", seq))}) {
						return
					}
				}

			case FrameTypeEnd, FrameTypeAbort:
				n.readerLock.Lock()
				m, ok := n.partial[seq]
				delete(n.partial, seq)
				n.readerLock.Unlock()

				if !ok {
					if !send(&Message{Type: FrameTypeError, Data: []byte(fmt.Sprintf("unknown sequence: %d", seq))}) {
						return
					}
					continue
				}

				if frameType == FrameTypeEnd {
					m.Type = FrameTypeComplete
				} else {
					m.Type = FrameTypeAbort
				}
				if !send(m) {
					return
				}

			default:
				if !send(&Message{Type: FrameTypeError, Data: []byte(fmt.Sprintf("unknown frame type: %d", frameType))}) {
					return
				}
			}
		}
	}()

	return ch, nil
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe)
}

func (n *Node) writeFrame(frameType uint8, seq uint32, data []byte) error {
	if n.writer == nil {
		return fmt.Errorf("writer is nil")
	}

	frame := make([]byte, FrameHeaderSize+len(data))
	frame[0] = frameType
	binary.BigEndian.PutUint32(frame[1:5], seq)
	binary.BigEndian.PutUint32(frame[5:9], uint32(len(data)))
	copy(frame[FrameHeaderSize:], data)

	if _, err := n.writer.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// WriteMessageWithSequence writes data as one message tagged with seq.
// If ctx is done part way, an abort frame is written instead of the end frame.
func (n *Node) WriteMessageWithSequence(ctx context.Context, seq uint32, data []byte) error {
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds maximum %d", len(data), MaxMessageSize)
	}

	n.writerLock.Lock()
	defer n.writerLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := n.writeFrame(FrameTypeStart, seq, nil); err != nil {
		return err
	}

	for len(data) > 0 {
		size := min(len(data), ChunkSize)
		if err := n.writeFrame(FrameTypeData, seq, data[:size]); err != nil {
			return err
		}
		data = data[size:]

		if err := ctx.Err(); err != nil {
			if abortErr := n.writeFrame(FrameTypeAbort, seq, nil); abortErr != nil {
				return fmt.Errorf("failed to write abort frame: %w", abortErr)
			}
			return err
		}
	}

	return n.writeFrame(FrameTypeEnd, seq, nil)
}

// WriteMessage writes data with the next locally generated sequence number.
func (n *Node) WriteMessage(ctx context.Context, data []byte) error {
	return n.WriteMessageWithSequence(ctx, n.NextSequence(), data)
}

// NextSequence returns a fresh non-zero sequence number.
func (n *Node) NextSequence() uint32 {
	for {
		if seq := n.sequence.Add(1); seq != 0 {
			return seq
		}
	}
}

// Close drops partially received messages.
func (n *Node) Close() error {
	n.readerLock.Lock()
	defer n.readerLock.Unlock()
	clear(n.partial)
	return nil
}

// PendingMessageCount returns the number of partially received messages.
func (n *Node) PendingMessageCount() int {
	n.readerLock.RLock()
	defer n.readerLock.RUnlock()
	return len(n.partial)
}
