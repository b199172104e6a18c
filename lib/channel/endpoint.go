package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/engage.go/lib/args"
	"github.com/snowmerak/engage.go/lib/multiplexer"
)

// MethodCallHandler answers one invocation. Synchronous handlers return a
// resolved promise; asynchronous ones resolve it later from a callback.
type MethodCallHandler func(ctx context.Context, call *MethodCall) *Promise

// Endpoint is the plugin side of a channel. It receives invocations from the
// host, dispatches them to the installed MethodCallHandler and writes back
// exactly one reply per invocation. It can also push events to the host.
type Endpoint struct {
	multiplexer multiplexer.Multiplexer
	codec       Codec
	logger      *slog.Logger
	tracer      trace.Tracer
	sessionID   string

	handler     MethodCallHandler
	handlerLock sync.RWMutex

	shutdownChan      chan struct{}
	forceShutdownChan chan struct{}
	shutdownOnce      sync.Once
	forceShutdownOnce sync.Once
	activeJobs        sync.WaitGroup
	activeJobCount    atomic.Int64
}

// NewEndpoint creates an Endpoint reading from reader and writing to writer.
// If reader or writer are nil, they default to os.Stdin and os.Stdout respectively.
func NewEndpoint(reader io.Reader, writer io.Writer, opts *Options) *Endpoint {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	o := opts.withDefaults()

	e := &Endpoint{
		multiplexer:       multiplexer.New(reader, writer),
		codec:             o.Codec,
		tracer:            o.Tracer,
		sessionID:         newID(),
		shutdownChan:      make(chan struct{}),
		forceShutdownChan: make(chan struct{}),
	}
	e.logger = o.Logger.With(slog.String("session", e.sessionID))
	return e
}

// OpenEndpoint opens provider and creates an Endpoint over it.
func OpenEndpoint(ctx context.Context, provider Provider, opts *Options) (*Endpoint, error) {
	reader, writer, err := provider.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return NewEndpoint(reader, writer, opts), nil
}

// SessionID identifies this endpoint in logs.
func (e *Endpoint) SessionID() string {
	return e.sessionID
}

// SetMethodCallHandler installs h as the dispatcher for incoming invocations.
// A nil h makes every invocation answer NotImplemented.
func (e *Endpoint) SetMethodCallHandler(h MethodCallHandler) {
	e.handlerLock.Lock()
	defer e.handlerLock.Unlock()
	e.handler = h
}

func (e *Endpoint) methodCallHandler() MethodCallHandler {
	e.handlerLock.RLock()
	defer e.handlerLock.RUnlock()
	return e.handler
}

// SendEvent pushes an unsolicited named event to the host. No reply is
// expected.
func (e *Endpoint) SendEvent(ctx context.Context, name string, payload any) error {
	r := Success(payload)
	if r.Kind != ResultSuccess {
		return fmt.Errorf("failed to encode event %s: %s", name, r.Err.Message)
	}
	data, err := e.codec.Marshal(r.Value)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", name, err)
	}
	return e.writeHeader(ctx, 0, Header{Name: name, MessageType: MessageTypeNotify, Payload: data})
}

// SendReady sends a ready message to indicate the plugin is ready to receive requests.
func (e *Endpoint) SendReady(ctx context.Context) error {
	return e.writeHeader(ctx, 0, Header{Name: nameReady, MessageType: MessageTypeAck, Payload: []byte(nameReady)})
}

func (e *Endpoint) writeHeader(ctx context.Context, seq uint32, h Header) error {
	data, err := h.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if seq == 0 {
		return e.multiplexer.WriteMessage(ctx, data)
	}
	return e.multiplexer.WriteMessageWithSequence(ctx, seq, data)
}

// Shutdown initiates graceful shutdown of the endpoint.
func (e *Endpoint) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shutdownChan)
	})
}

// ForceShutdown initiates immediate shutdown of the endpoint.
func (e *Endpoint) ForceShutdown() {
	e.forceShutdownOnce.Do(func() {
		close(e.forceShutdownChan)
	})
}

// IsShutdown returns true if the endpoint is shutting down (gracefully).
func (e *Endpoint) IsShutdown() bool {
	select {
	case <-e.shutdownChan:
		return true
	default:
		return false
	}
}

// IsForceShutdown returns true if the endpoint is force shutting down.
func (e *Endpoint) IsForceShutdown() bool {
	select {
	case <-e.forceShutdownChan:
		return true
	default:
		return false
	}
}

// ActiveJobs returns the number of invocations still awaiting their result.
func (e *Endpoint) ActiveJobs() int64 {
	return e.activeJobCount.Load()
}

// Listen reads invocations until the stream ends, ctx is cancelled or a
// shutdown completes. A ready signal is sent once the reader is running.
func (e *Endpoint) Listen(ctx context.Context) error {
	recv, err := e.multiplexer.ReadMessage(ctx)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if err := e.SendReady(ctx); err != nil {
		return fmt.Errorf("failed to send ready signal: %w", err)
	}
	e.logger.Debug("endpoint listening", slog.String("codec", e.codec.Name()))

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-e.forceShutdownChan:
			cancel()
		case <-listenCtx.Done():
		}
	}()

	for {
		select {
		case mesg, ok := <-recv:
			if !ok {
				e.drain(5 * time.Second)
				return nil
			}

			if e.IsForceShutdown() {
				return nil
			}

			switch mesg.Type {
			case multiplexer.FrameTypeComplete:
			case multiplexer.FrameTypeError:
				e.logger.Warn("channel read error", slog.String("error", string(mesg.Data)))
				continue
			default:
				continue
			}

			var header Header
			if err := header.UnmarshalBinary(mesg.Data); err != nil {
				e.logger.Warn("dropping malformed message", slog.Any("error", err))
				continue
			}

			if header.MessageType != MessageTypeRequest {
				e.logger.Debug("ignoring message", slog.String("name", header.Name), slog.String("type", header.MessageType.String()))
				continue
			}

			switch header.Name {
			case nameShutdown:
				e.Shutdown()
				e.ack(listenCtx, mesg.Sequence, nameShutdownAck, "graceful shutdown started, waiting for jobs to complete")

				go func() {
					done := make(chan struct{})
					go func() {
						e.activeJobs.Wait()
						close(done)
					}()

					select {
					case <-done:
					case <-e.forceShutdownChan:
					}
					cancel()
				}()
				continue

			case nameForceShutdown:
				e.ForceShutdown()
				e.ack(listenCtx, mesg.Sequence, nameForceShutdownAck, "force shutting down")
				return nil

			case nameRequestReady:
				if err := e.SendReady(listenCtx); err == nil {
					e.ack(listenCtx, mesg.Sequence, nameRequestReadyAck, "ready signal sent in response to request")
				}
				continue
			}

			if e.IsShutdown() {
				e.reply(listenCtx, mesg.Sequence, header.Name,
					Failure(InternalErrorCode, "service unavailable: graceful shutdown in progress", nil))
				continue
			}

			e.activeJobs.Add(1)
			e.activeJobCount.Add(1)
			go func(seq uint32, h Header) {
				defer func() {
					e.activeJobs.Done()
					e.activeJobCount.Add(-1)
				}()
				e.processMessage(listenCtx, seq, h)
			}(mesg.Sequence, header)

		case <-listenCtx.Done():
			e.drain(5 * time.Second)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
	}
}

func (e *Endpoint) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.activeJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		e.logger.Warn("abandoning pending invocations", slog.Int64("pending", e.ActiveJobs()))
	}
}

func (e *Endpoint) ack(ctx context.Context, seq uint32, name, text string) {
	if err := e.writeHeader(ctx, seq, Header{Name: name, MessageType: MessageTypeAck, Payload: []byte(text)}); err != nil {
		e.logger.Warn("failed to send ack", slog.String("name", name), slog.Any("error", err))
	}
}

// processMessage runs one invocation and writes its reply.
func (e *Endpoint) processMessage(ctx context.Context, seq uint32, h Header) {
	ctx, span := e.tracer.Start(ctx, h.Name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("engage.method", h.Name)))
	defer span.End()

	if e.IsForceShutdown() {
		e.reply(ctx, seq, h.Name, Failure(InternalErrorCode, "service unavailable: force shutdown", nil))
		return
	}

	value, err := e.codec.Unmarshal(h.Payload)
	if err != nil {
		r := Failure(InternalErrorCode, fmt.Sprintf("malformed arguments for %s: %v", h.Name, err), nil)
		recordResult(span, r)
		e.reply(ctx, seq, h.Name, r)
		return
	}

	call := &MethodCall{Method: h.Name, Arguments: args.New(value)}
	promise := e.dispatch(ctx, call)

	select {
	case <-promise.Done():
	case <-ctx.Done():
		e.logger.Warn("invocation abandoned before completion", slog.String("method", h.Name))
		span.SetStatus(codes.Error, "abandoned")
		return
	}

	r := promise.Result()
	recordResult(span, r)
	e.reply(ctx, seq, h.Name, r)
}

// dispatch is the catch-all boundary around the installed handler: a panic
// or a missing result becomes an internal error Result.
func (e *Endpoint) dispatch(ctx context.Context, call *MethodCall) (p *Promise) {
	handler := e.methodCallHandler()
	if handler == nil {
		return Resolved(NotImplemented())
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			p = Resolved(e.uncaught(call, recovered, debug.Stack()))
		}
	}()

	p = handler(ctx, call)
	if p == nil {
		p = Resolved(Failure(InternalErrorCode, fmt.Sprintf("handler for %s returned no result", call.Method), nil))
	}
	return p
}

func (e *Endpoint) uncaught(call *MethodCall, recovered any, stack []byte) Result {
	incident := newID()
	e.logger.Error("uncaught failure in method handler",
		slog.String("method", call.Method),
		slog.String("arguments", call.Arguments.JSON()),
		slog.String("incident", incident),
		slog.Any("panic", recovered))

	details := structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"incident":  structpb.NewStringValue(incident),
		"method":    structpb.NewStringValue(call.Method),
		"arguments": call.Arguments.Value(),
		"trace":     structpb.NewStringValue(string(stack)),
	}})

	return Failure(InternalErrorCode,
		fmt.Sprintf("unexpected failure in %s with arguments %s: %v", call.Method, call.Arguments.JSON(), recovered),
		details)
}

func (e *Endpoint) reply(ctx context.Context, seq uint32, method string, r Result) {
	h, err := r.encode(e.codec, method)
	if err != nil {
		e.logger.Error("failed to encode reply", slog.String("method", method), slog.Any("error", err))
		h, _ = Failure(InternalErrorCode, err.Error(), nil).encode(e.codec, method)
	}
	if err := e.writeHeader(ctx, seq, h); err != nil {
		e.logger.Error("failed to write reply", slog.String("method", method), slog.Any("error", err))
	}
}

func recordResult(span trace.Span, r Result) {
	span.SetAttributes(attribute.String("engage.result", r.Kind.String()))
	if r.Kind == ResultError && r.Err != nil {
		span.SetAttributes(attribute.String("engage.error_code", r.Err.Code))
		span.SetStatus(codes.Error, r.Err.Message)
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
