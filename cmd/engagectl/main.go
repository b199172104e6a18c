// Command engagectl drives an engage plugin from the host side. It starts the
// plugin (or connects to a running one), invokes a method and prints the
// result together with any events the plugin pushes meanwhile.
//
//	engagectl -plugin ./engage-plugin -args register.hujson register
//	engagectl -url ws://127.0.0.1:7070/channel -args '{"event_name": "launch"}' engage
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tailscale/hujson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/engage.go/internal/config"
	"github.com/snowmerak/engage.go/internal/logging"
	"github.com/snowmerak/engage.go/lib/args"
	"github.com/snowmerak/engage.go/lib/channel"
)

type options struct {
	plugin     string
	pluginArgs string
	socket     string
	url        string
	codec      string
	args       string
	watch      time.Duration
	timeout    time.Duration
	logLevel   string
}

func main() {
	var o options
	flag.StringVar(&o.plugin, "plugin", "engage-plugin", "plugin executable to start over stdio")
	flag.StringVar(&o.pluginArgs, "plugin-args", "", "space separated arguments for the plugin")
	flag.StringVar(&o.socket, "socket", "", "connect to a plugin on this Unix socket instead of starting one")
	flag.StringVar(&o.url, "url", "", "connect to a plugin on this WebSocket URL instead of starting one")
	flag.StringVar(&o.codec, "codec", "proto", "payload codec: proto or json")
	flag.StringVar(&o.args, "args", "", "argument bag as inline JSON or a path to a JSON file; comments and trailing commas are allowed")
	flag.DurationVar(&o.watch, "watch", 0, "keep printing events for this long after the result")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "invocation timeout")
	flag.StringVar(&o.logLevel, "log-level", "warn", "log level")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] method...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(o, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(o options, methods []string) error {
	logger, err := logging.New(config.LogConfig{Level: o.logLevel})
	if err != nil {
		return err
	}

	codec, err := channel.CodecByName(o.codec)
	if err != nil {
		return err
	}

	bag, err := loadArgs(o.args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := channel.NewClient(newProvider(o), &channel.Options{Codec: codec, Logger: logger})
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	out := newPrinter(os.Stdout)
	printEvent := func(ctx context.Context, name string, payload *structpb.Value) {
		_ = out.Print(map[string]any{"event": name, "payload": payload.AsInterface()})
	}
	client.OnEvent("onSurveyFinished", printEvent)
	client.OnEvent("onUnreadMessageCountChanged", printEvent)

	for _, method := range methods {
		if err := invoke(ctx, client, out, method, bag, o.timeout); err != nil {
			return err
		}
	}

	if o.watch > 0 {
		select {
		case <-time.After(o.watch):
		case <-ctx.Done():
		}
	}
	return nil
}

func invoke(ctx context.Context, client *channel.Client, out *printer, method string, bag args.Args, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := client.Invoke(ctx, method, bag)
	var methodErr *channel.MethodError
	switch {
	case err == nil:
		return out.Print(map[string]any{"method": method, "result": v.AsInterface()})
	case errors.As(err, &methodErr):
		return out.Print(map[string]any{"method": method, "error": map[string]any{
			"code":    methodErr.Code,
			"message": methodErr.Message,
			"details": methodErr.Details.AsInterface(),
		}})
	case errors.Is(err, channel.ErrNotImplemented):
		return out.Print(map[string]any{"method": method, "not_implemented": true})
	default:
		return fmt.Errorf("invoke %s: %w", method, err)
	}
}

// printer writes one JSON document per result or event. Events arrive on
// their own goroutines.
type printer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newPrinter(w io.Writer) *printer {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &printer{enc: enc}
}

func (p *printer) Print(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(v)
}

func newProvider(o options) channel.Provider {
	switch {
	case o.url != "":
		return channel.NewWebSocketClient(o.url)
	case o.socket != "":
		return channel.NewUnixSocketProvider(o.socket, false)
	default:
		return &channel.ProcessProvider{Path: o.plugin, Args: strings.Fields(o.pluginArgs)}
	}
}

// loadArgs reads an argument bag from inline text or a file. The input is
// JSON with comments and trailing commas.
func loadArgs(src string) (args.Args, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return args.Args{}, nil
	}

	var raw []byte
	if strings.HasPrefix(src, "{") {
		raw = []byte(src)
	} else {
		f, err := os.Open(src)
		if err != nil {
			return args.Args{}, fmt.Errorf("open args: %w", err)
		}
		defer f.Close()
		if raw, err = io.ReadAll(f); err != nil {
			return args.Args{}, fmt.Errorf("read args: %w", err)
		}
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return args.Args{}, fmt.Errorf("parse args: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(standard, &m); err != nil {
		return args.Args{}, fmt.Errorf("parse args: %w", err)
	}
	return args.FromMap(m)
}
