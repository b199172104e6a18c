package channel

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/snowmerak/engage.go/lib/channel"

// Options configures an Endpoint or a Client.
type Options struct {
	// Codec encodes payloads. Defaults to ProtoCodec.
	Codec Codec

	// Logger receives transport diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Tracer records one span per invocation. Defaults to the global provider.
	Tracer trace.Tracer
}

// DefaultOptions returns options using the protobuf codec and the global
// logger and tracer provider.
func DefaultOptions() *Options {
	return &Options{
		Codec:  ProtoCodec{},
		Logger: slog.Default(),
		Tracer: otel.Tracer(tracerName),
	}
}

func (o *Options) withDefaults() *Options {
	d := DefaultOptions()
	if o == nil {
		return d
	}
	if o.Codec != nil {
		d.Codec = o.Codec
	}
	if o.Logger != nil {
		d.Logger = o.Logger
	}
	if o.Tracer != nil {
		d.Tracer = o.Tracer
	}
	return d
}
