package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/engage.go/lib/args"
	"github.com/snowmerak/engage.go/lib/multiplexer"
)

// ErrClosed is returned by a Client after Close.
var ErrClosed = errors.New("channel client is closed")

// EventHandler receives events pushed by the plugin.
type EventHandler func(ctx context.Context, name string, payload *structpb.Value)

// Client is the host side of a channel: it invokes methods on a plugin and
// dispatches the events the plugin pushes back.
type Client struct {
	provider Provider
	codec    Codec
	logger   *slog.Logger
	tracer   trace.Tracer

	multiplexer multiplexer.Multiplexer

	pending  *xsync.Map[uint32, chan Header]
	handlers *xsync.Map[string, EventHandler]

	readySignal      chan struct{}
	shutdownAck      chan struct{}
	forceShutdownAck chan struct{}

	loadCtx    context.Context
	cancelLoad context.CancelFunc
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// NewClient creates a Client that will talk over provider.
func NewClient(provider Provider, opts *Options) *Client {
	o := opts.withDefaults()
	return &Client{
		provider:         provider,
		codec:            o.Codec,
		logger:           o.Logger,
		tracer:           o.Tracer,
		pending:          xsync.NewMap[uint32, chan Header](),
		handlers:         xsync.NewMap[string, EventHandler](),
		readySignal:      make(chan struct{}, 1),
		shutdownAck:      make(chan struct{}, 1),
		forceShutdownAck: make(chan struct{}, 1),
	}
}

// Connect opens the provider, starts the reader and waits for the plugin's
// ready signal.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	reader, writer, err := c.provider.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	return c.attach(ctx, reader, writer)
}

func (c *Client) attach(ctx context.Context, reader io.Reader, writer io.Writer) error {
	c.multiplexer = multiplexer.New(reader, writer)
	c.loadCtx, c.cancelLoad = context.WithCancel(context.Background())

	recv, err := c.multiplexer.ReadMessage(c.loadCtx)
	if err != nil {
		c.cancelLoad()
		return fmt.Errorf("failed to start reader: %w", err)
	}

	c.wg.Add(1)
	go c.handleMessages(recv)

	if err := c.waitForReadySignal(ctx); err != nil {
		c.cancelLoad()
		return err
	}
	return nil
}

func (c *Client) waitForReadySignal(ctx context.Context) error {
	select {
	case <-c.readySignal:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for ready signal: %w", ctx.Err())
	case <-time.After(5 * time.Second):
	}

	if err := c.writeControl(nameRequestReady, "please send ready signal"); err != nil {
		return fmt.Errorf("timeout waiting for ready signal and failed to request ready: %w", err)
	}

	select {
	case <-c.readySignal:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cancelled while waiting for ready signal: %w", ctx.Err())
	case <-time.After(3 * time.Second):
		return fmt.Errorf("timeout waiting for ready signal from plugin even after requesting")
	}
}

// OnEvent registers h for events named name, replacing any earlier handler.
func (c *Client) OnEvent(name string, h EventHandler) {
	if h == nil {
		c.handlers.Delete(name)
		return
	}
	c.handlers.Store(name, h)
}

// Invoke calls method with arguments and waits for its single result.
// Error replies surface as *MethodError, unknown methods as ErrNotImplemented.
func (c *Client) Invoke(ctx context.Context, method string, arguments args.Args) (*structpb.Value, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.multiplexer == nil {
		return nil, fmt.Errorf("channel not connected")
	}

	ctx, span := c.tracer.Start(ctx, method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("engage.method", method)))
	defer span.End()

	payload, err := c.codec.Marshal(arguments.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments for %s: %w", method, err)
	}
	data, err := (&Header{Name: method, MessageType: MessageTypeRequest, Payload: payload}).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}

	seq := c.reserveSequence()
	replyChan := make(chan Header, 1)
	c.pending.Store(seq, replyChan)
	defer c.pending.Delete(seq)

	if err := c.multiplexer.WriteMessageWithSequence(ctx, seq, data); err != nil {
		return nil, fmt.Errorf("failed to write request message: %w", err)
	}

	select {
	case reply, ok := <-replyChan:
		if !ok {
			return nil, fmt.Errorf("channel closed while waiting for %s", method)
		}
		value, err := decodeResult(c.codec, reply)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		return value, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.loadCtx.Done():
		return nil, fmt.Errorf("channel is shutting down")
	}
}

// InvokeMap is Invoke with a plain map as the argument bag.
func (c *Client) InvokeMap(ctx context.Context, method string, arguments map[string]any) (any, error) {
	a, err := args.FromMap(arguments)
	if err != nil {
		return nil, err
	}
	v, err := c.Invoke(ctx, method, a)
	if err != nil {
		return nil, err
	}
	return v.AsInterface(), nil
}

func (c *Client) reserveSequence() uint32 {
	for {
		seq := c.multiplexer.NextSequence()
		if _, exists := c.pending.Load(seq); !exists {
			return seq
		}
	}
}

func (c *Client) writeControl(name, text string) error {
	data, err := (&Header{Name: name, MessageType: MessageTypeRequest, Payload: []byte(text)}).MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal %s header: %w", name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.multiplexer.WriteMessage(ctx, data)
}

// handleMessages routes replies to waiting invocations and events to handlers.
func (c *Client) handleMessages(recv chan *multiplexer.Message) {
	defer c.wg.Done()
	defer c.cancelLoad()
	defer func() {
		c.pending.Range(func(seq uint32, ch chan Header) bool {
			c.pending.Delete(seq)
			close(ch)
			return true
		})
	}()

	for {
		select {
		case <-c.loadCtx.Done():
			return
		case mesg, ok := <-recv:
			if !ok {
				return
			}
			if mesg.Type != multiplexer.FrameTypeComplete {
				if mesg.Type == multiplexer.FrameTypeError {
					c.logger.Warn("channel read error", slog.String("error", string(mesg.Data)))
				}
				continue
			}

			var header Header
			if err := header.UnmarshalBinary(mesg.Data); err != nil {
				c.logger.Warn("dropping malformed message", slog.Any("error", err))
				continue
			}

			switch header.Name {
			case nameReady:
				signal(c.readySignal)
				continue
			case nameShutdownAck:
				signal(c.shutdownAck)
				continue
			case nameForceShutdownAck:
				signal(c.forceShutdownAck)
				continue
			case nameRequestReadyAck:
				continue
			}

			switch header.MessageType {
			case MessageTypeResponse, MessageTypeError, MessageTypeNotImplemented:
				ch, exists := c.pending.LoadAndDelete(mesg.Sequence)
				if !exists {
					c.logger.Warn("reply for unknown invocation", slog.String("method", header.Name), slog.Uint64("sequence", uint64(mesg.Sequence)))
					continue
				}
				ch <- header

			case MessageTypeNotify:
				handler, exists := c.handlers.Load(header.Name)
				if !exists {
					c.logger.Debug("no handler for event", slog.String("event", header.Name))
					continue
				}
				payload, err := c.codec.Unmarshal(header.Payload)
				if err != nil {
					c.logger.Warn("dropping undecodable event", slog.String("event", header.Name), slog.Any("error", err))
					continue
				}
				go handler(c.loadCtx, header.Name, payload)
			}
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Close asks the plugin to shut down gracefully, waits for its
// acknowledgment and releases the transport.
func (c *Client) Close() error {
	return c.close(nameShutdown, "graceful shutdown", c.shutdownAck, 5*time.Second)
}

// ForceClose asks the plugin to stop immediately.
func (c *Client) ForceClose() error {
	return c.close(nameForceShutdown, "force shutdown", c.forceShutdownAck, 500*time.Millisecond)
}

func (c *Client) close(name, text string, ack chan struct{}, wait time.Duration) error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	if c.multiplexer != nil && c.loadCtx != nil {
		if err := c.writeControl(name, text); err == nil {
			select {
			case <-ack:
			case <-c.loadCtx.Done():
			case <-time.After(wait):
				c.logger.Warn("no shutdown acknowledgment from plugin", slog.String("signal", name))
			}
		}
	}

	if c.cancelLoad != nil {
		c.cancelLoad()
	}

	closeErr := c.provider.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	return closeErr
}
