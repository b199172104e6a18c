package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// UnixSocketProvider runs the channel over a Unix domain socket. The server
// side listens and accepts exactly one peer; the client side dials.
type UnixSocketProvider struct {
	SocketPath string
	IsServer   bool

	// AcceptTimeout bounds how long the server waits for its peer.
	AcceptTimeout time.Duration

	listener net.Listener
	conn     net.Conn
}

// NewUnixSocketProvider creates a provider for socketPath.
func NewUnixSocketProvider(socketPath string, isServer bool) *UnixSocketProvider {
	return &UnixSocketProvider{
		SocketPath:    socketPath,
		IsServer:      isServer,
		AcceptTimeout: 5 * time.Second,
	}
}

func (u *UnixSocketProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	if u.IsServer {
		return u.accept(ctx)
	}
	return u.dial(ctx)
}

func (u *UnixSocketProvider) accept(ctx context.Context) (io.Reader, io.Writer, error) {
	_ = os.Remove(u.SocketPath)

	listener, err := net.Listen("unix", u.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Unix socket listener: %w", err)
	}
	u.listener = listener

	connChan := make(chan net.Conn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	timeout := u.AcceptTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case conn := <-connChan:
		u.conn = conn
		return conn, conn, nil
	case err := <-errChan:
		return nil, nil, fmt.Errorf("failed to accept connection: %w", err)
	case <-time.After(timeout):
		listener.Close()
		return nil, nil, fmt.Errorf("timeout waiting for connection on %s", u.SocketPath)
	case <-ctx.Done():
		listener.Close()
		return nil, nil, ctx.Err()
	}
}

func (u *UnixSocketProvider) dial(ctx context.Context) (io.Reader, io.Writer, error) {
	// The server may still be creating the socket file.
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(u.SocketPath); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", u.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Unix socket: %w", err)
	}
	u.conn = conn
	return conn, conn, nil
}

func (u *UnixSocketProvider) Close() error {
	var errs []error
	if u.conn != nil {
		errs = append(errs, u.conn.Close())
	}
	if u.listener != nil {
		if err := u.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if u.IsServer {
		_ = os.Remove(u.SocketPath)
	}
	return errors.Join(errs...)
}
