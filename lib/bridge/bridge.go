// Package bridge exposes an engage.SDK over a channel. It owns the method
// table, turns argument bags into SDK calls and pushes SDK listener callbacks
// back to the host as events.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/snowmerak/engage.go/lib/channel"
	"github.com/snowmerak/engage.go/lib/engage"
)

// ErrAttached is returned by Attach when the bridge is already bound.
var ErrAttached = errors.New("bridge is already attached")

// Channel is the plugin side of the host connection. *channel.Endpoint
// implements it.
type Channel interface {
	SetMethodCallHandler(h channel.MethodCallHandler)
	SendEvent(ctx context.Context, name string, payload any) error
}

type handlerFunc func(ctx context.Context, app *engage.Application, call *channel.MethodCall) *channel.Promise

type method struct {
	handler          handlerFunc
	needsApplication bool
}

// Options configures a Bridge.
type Options struct {
	Logger *slog.Logger
	// EventQueueSize bounds the listener events waiting to be sent. Defaults to 64.
	EventQueueSize int
}

// Bridge routes invocations to the SDK. Create it with New, bind it with
// Attach and release it with Detach.
type Bridge struct {
	sdk       engage.SDK
	logger    *slog.Logger
	queueSize int
	methods   map[string]method

	registerLock sync.Mutex

	mu        sync.RWMutex
	ch        Channel
	app       *engage.Application
	listeners listenerSlots
	events    chan Event
	stopPump  context.CancelFunc
	pumpDone  chan struct{}
}

// New creates a detached bridge over sdk.
func New(sdk engage.SDK, opts *Options) *Bridge {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := opts.EventQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	b := &Bridge{
		sdk:       sdk,
		logger:    logger,
		queueSize: queueSize,
		methods:   make(map[string]method),
	}
	b.registerMethods()
	return b
}

func (b *Bridge) register(name string, needsApplication bool, h handlerFunc) {
	if _, exists := b.methods[name]; exists {
		panic(fmt.Sprintf("handler for %s already registered", name))
	}
	b.methods[name] = method{handler: h, needsApplication: needsApplication}
}

// Methods returns the names the bridge answers, sorted.
func (b *Bridge) Methods() []string {
	names := make([]string, 0, len(b.methods))
	for name := range b.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Attach binds the bridge to ch and app, installs the method handler and
// starts forwarding listener events.
func (b *Bridge) Attach(ch Channel, app *engage.Application) error {
	if ch == nil {
		return fmt.Errorf("attach: channel is nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ch != nil {
		return ErrAttached
	}

	b.ch = ch
	if app != nil {
		bound := *app
		b.app = &bound
	}
	b.events = make(chan Event, b.queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	b.stopPump = cancel
	b.pumpDone = make(chan struct{})
	go b.pump(ctx, ch, b.events, b.pumpDone)

	ch.SetMethodCallHandler(b.HandleMethodCall)
	b.logger.Info("bridge attached", slog.Int("methods", len(b.methods)), slog.Bool("application", b.app != nil))
	return nil
}

// Detach unbinds the bridge. Later invocations are not answered by the bridge,
// and queued or late listener events are dropped.
func (b *Bridge) Detach() {
	b.mu.Lock()
	if b.ch == nil {
		b.mu.Unlock()
		return
	}

	b.ch.SetMethodCallHandler(nil)
	b.ch = nil
	b.app = nil
	b.events = nil
	b.listeners.invalidate()
	stop, done := b.stopPump, b.pumpDone
	b.stopPump, b.pumpDone = nil, nil
	b.mu.Unlock()

	stop()
	<-done
	b.logger.Info("bridge detached")
}

// Attached reports whether the bridge is bound to a channel.
func (b *Bridge) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ch != nil
}

func (b *Bridge) application() *engage.Application {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.app
}

// HandleMethodCall is the channel.MethodCallHandler installed by Attach.
func (b *Bridge) HandleMethodCall(ctx context.Context, call *channel.MethodCall) *channel.Promise {
	m, ok := b.methods[call.Method]
	if !ok {
		b.logger.Debug("method not implemented", slog.String("method", call.Method))
		return channel.Resolved(channel.NotImplemented())
	}

	app := b.application()
	if m.needsApplication && app == nil {
		b.logger.Warn("no application attached", slog.String("method", call.Method))
		return channel.Resolved(noApplication(call.Method))
	}

	return m.handler(ctx, app, call)
}
