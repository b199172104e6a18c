package multiplexer_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/snowmerak/engage.go/lib/multiplexer"
)

func TestNewNode(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer)
	if node == nil {
		t.Fatal("NewNode returned nil")
	}
}

func TestNode_WriteMessageWithSequence(t *testing.T) {
	tests := []struct {
		name string
		seq  uint32
		data []byte
	}{
		{name: "empty data", seq: 1, data: []byte{}},
		{name: "small data", seq: 2, data: []byte("hello world")},
		{name: "multi chunk data", seq: 3, data: bytes.Repeat([]byte{0xAB}, multiplexer.ChunkSize*2+17)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, writer := io.Pipe()
			defer reader.Close()
			defer writer.Close()

			node := multiplexer.NewNode(reader, writer)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			messageCh, err := node.ReadMessage(ctx)
			if err != nil {
				t.Fatalf("ReadMessage failed: %v", err)
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- node.WriteMessageWithSequence(ctx, tt.seq, tt.data)
			}()

			select {
			case msg := <-messageCh:
				if msg.Type != multiplexer.FrameTypeComplete {
					t.Fatalf("expected complete message, got type %d (%s)", msg.Type, msg.Data)
				}
				if msg.Sequence != tt.seq {
					t.Errorf("expected sequence %d, got %d", tt.seq, msg.Sequence)
				}
				if !bytes.Equal(msg.Data, tt.data) {
					t.Errorf("expected %d bytes, got %d", len(tt.data), len(msg.Data))
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for message")
			}

			select {
			case err := <-errCh:
				if err != nil {
					t.Errorf("WriteMessageWithSequence() error = %v", err)
				}
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for write completion")
			}
		})
	}
}

func TestNode_WriteMessage_AssignsSequence(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messageCh, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	go func() {
		_ = node.WriteMessage(ctx, []byte("first"))
		_ = node.WriteMessage(ctx, []byte("second"))
	}()

	var seqs []uint32
	for len(seqs) < 2 {
		select {
		case msg := <-messageCh:
			if msg.Type == multiplexer.FrameTypeComplete {
				seqs = append(seqs, msg.Sequence)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for messages")
		}
	}

	if seqs[0] == 0 || seqs[0] == seqs[1] {
		t.Errorf("expected distinct non-zero sequences, got %v", seqs)
	}
}

func TestNode_ReadMessage_EOF(t *testing.T) {
	reader, writer := io.Pipe()
	node := multiplexer.NewNode(reader, writer)

	messageCh, err := node.ReadMessage(context.Background())
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	writer.Close()

	select {
	case msg, ok := <-messageCh:
		if ok {
			t.Errorf("expected channel to close, but received message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel to close")
	}
}

func TestNode_WriteMessage_ContextCancelled(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := node.WriteMessageWithSequence(ctx, 1, []byte("test data")); err == nil {
		t.Error("expected error when context is cancelled")
	}
}

func TestNode_InvalidFrameType(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	messageCh, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	go func() {
		invalid := make([]byte, multiplexer.FrameHeaderSize)
		invalid[0] = 0xFF
		writer.Write(invalid)
	}()

	select {
	case msg := <-messageCh:
		if msg.Type != multiplexer.FrameTypeError {
			t.Errorf("expected error message for invalid type, got type %d", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for error message")
	}
}

func TestNode_ConcurrentWriters(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()
	defer writer.Close()

	node := multiplexer.NewNode(reader, writer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messageCh, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	const writers = 8
	payload := bytes.Repeat([]byte("x"), multiplexer.ChunkSize*3)
	for i := 0; i < writers; i++ {
		go func() {
			if err := node.WriteMessage(ctx, payload); err != nil {
				t.Errorf("WriteMessage failed: %v", err)
			}
		}()
	}

	received := 0
	for received < writers {
		select {
		case msg := <-messageCh:
			if msg.Type != multiplexer.FrameTypeComplete {
				t.Fatalf("unexpected frame type %d: %s", msg.Type, msg.Data)
			}
			if len(msg.Data) != len(payload) {
				t.Fatalf("expected %d bytes, got %d", len(payload), len(msg.Data))
			}
			received++
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for concurrent messages")
		}
	}

	if node.PendingMessageCount() != 0 {
		t.Errorf("expected no pending messages, got %d", node.PendingMessageCount())
	}
}

func TestNode_ReadMessage_CancelWhileBufferFull(t *testing.T) {
	var stream bytes.Buffer
	encoder := multiplexer.NewNode(nil, &stream)
	for i := 1; i <= 300; i++ {
		if err := encoder.WriteMessageWithSequence(context.Background(), uint32(i), []byte("payload")); err != nil {
			t.Fatalf("encode message %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := multiplexer.NewNode(bytes.NewReader(stream.Bytes()), nil)
	messageCh, err := node.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for len(messageCh) < cap(messageCh) {
		if time.Now().After(deadline) {
			t.Fatalf("buffer never filled: %d of %d", len(messageCh), cap(messageCh))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	time.Sleep(50 * time.Millisecond)

	received := 0
	timeout := time.After(time.Second)
	for {
		select {
		case msg, ok := <-messageCh:
			if !ok {
				if received != cap(messageCh) {
					t.Errorf("received %d messages after cancel, want %d", received, cap(messageCh))
				}
				return
			}
			if msg.Type != multiplexer.FrameTypeComplete {
				t.Errorf("unexpected message type %d: %s", msg.Type, msg.Data)
			}
			received++
		case <-timeout:
			t.Fatal("reader did not stop after cancellation")
		}
	}
}
