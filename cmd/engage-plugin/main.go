// Command engage-plugin serves the engagement bridge to a host over stdio, a
// Unix socket or a WebSocket. It runs against the in-memory loopback SDK.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snowmerak/engage.go/internal/config"
	"github.com/snowmerak/engage.go/internal/logging"
	"github.com/snowmerak/engage.go/lib/bridge"
	"github.com/snowmerak/engage.go/lib/channel"
	"github.com/snowmerak/engage.go/lib/engage"
	"github.com/snowmerak/engage.go/lib/engage/loopback"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	events := flag.String("interactions", "", "comma separated events the loopback SDK can engage")
	flag.Parse()

	if err := run(*configPath, *envPath, splitList(*events)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envPath string, interactions []string) error {
	if err := config.LoadDotEnv(envPath); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	codec, err := channel.CodecByName(cfg.Channel.Codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := newProvider(cfg.Channel)
	defer provider.Close()

	endpoint, err := channel.OpenEndpoint(ctx, provider, &channel.Options{Codec: codec, Logger: logger})
	if err != nil {
		return err
	}

	sdk := loopback.New(logger.With(slog.String("component", "sdk")), interactions...)
	b := bridge.New(sdk, &bridge.Options{Logger: logger})
	app := &engage.Application{
		ID:      cfg.Application.ID,
		Name:    cfg.Application.Name,
		Version: cfg.Application.Version,
		DataDir: cfg.Application.DataDir,
	}
	if err := b.Attach(endpoint, app); err != nil {
		return err
	}
	defer b.Detach()

	logger.Info("plugin started",
		slog.String("channel", cfg.Channel.Name),
		slog.String("transport", cfg.Channel.Transport),
		slog.String("codec", codec.Name()),
		slog.String("session", endpoint.SessionID()))

	listenCtx, cancelListen := context.WithCancel(context.Background())
	defer cancelListen()
	listening := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		defer close(listening)
		err := endpoint.Listen(listenCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-listening:
			return nil
		case <-ctx.Done():
		}

		logger.Info("signal received, draining", slog.Int64("pending", endpoint.ActiveJobs()))
		endpoint.Shutdown()
		if !waitIdle(endpoint, cfg.ShutdownTimeout) {
			logger.Warn("shutdown timeout reached, forcing", slog.Int64("pending", endpoint.ActiveJobs()))
			endpoint.ForceShutdown()
		}
		cancelListen()
		return nil
	})

	err = g.Wait()
	logger.Info("plugin stopped")
	return err
}

func newProvider(c config.ChannelConfig) channel.Provider {
	switch c.Transport {
	case config.TransportUnix:
		return channel.NewUnixSocketProvider(c.SocketPath, true)
	case config.TransportWebSocket:
		return channel.NewWebSocketServer(c.Addr, c.Path)
	default:
		return channel.StdioProvider{}
	}
}

// waitIdle reports whether the endpoint finished its invocations within timeout.
func waitIdle(e *channel.Endpoint, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for e.ActiveJobs() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
