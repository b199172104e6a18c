package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// WebSocketProvider runs the channel over a single binary WebSocket
// connection. The server side serves Path on Addr and takes the first peer
// that upgrades; the client side dials URL.
type WebSocketProvider struct {
	// Addr is the listen address in server mode, for example "127.0.0.1:7070".
	Addr string
	// Path is the upgrade path in server mode. Defaults to "/channel".
	Path string
	// URL is the peer to dial in client mode, for example "ws://127.0.0.1:7070/channel".
	URL string

	IsServer bool

	server *http.Server
	conn   net.Conn
	cancel context.CancelFunc
	closed chan struct{}
}

// NewWebSocketServer creates a provider that waits for a host on addr.
func NewWebSocketServer(addr, path string) *WebSocketProvider {
	return &WebSocketProvider{Addr: addr, Path: path, IsServer: true}
}

// NewWebSocketClient creates a provider that dials url.
func NewWebSocketClient(url string) *WebSocketProvider {
	return &WebSocketProvider{URL: url}
}

func (w *WebSocketProvider) Open(ctx context.Context) (io.Reader, io.Writer, error) {
	connCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.closed = make(chan struct{})

	if w.IsServer {
		return w.serve(ctx, connCtx)
	}

	ws, _, err := websocket.Dial(ctx, w.URL, nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("dial websocket: %w", err)
	}
	ws.SetReadLimit(-1)
	w.conn = websocket.NetConn(connCtx, ws, websocket.MessageBinary)
	return w.conn, w.conn, nil
}

func (w *WebSocketProvider) serve(ctx, connCtx context.Context) (io.Reader, io.Writer, error) {
	path := w.Path
	if path == "" {
		path = "/channel"
	}

	listener, err := net.Listen("tcp", w.Addr)
	if err != nil {
		w.cancel()
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", w.Addr, err)
	}

	accepted := make(chan net.Conn, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(rw http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(rw, r, nil)
		if err != nil {
			return
		}
		ws.SetReadLimit(-1)
		conn := websocket.NetConn(connCtx, ws, websocket.MessageBinary)

		select {
		case accepted <- conn:
		default:
			ws.Close(websocket.StatusTryAgainLater, "channel already has a peer")
			return
		}

		// The connection lives as long as this handler.
		select {
		case <-w.closed:
		case <-connCtx.Done():
		}
	})

	w.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.cancel()
		}
	}()

	select {
	case conn := <-accepted:
		w.conn = conn
		return conn, conn, nil
	case <-connCtx.Done():
		w.server.Close()
		return nil, nil, fmt.Errorf("websocket server on %s stopped before a peer connected", w.Addr)
	case <-ctx.Done():
		w.cancel()
		w.server.Close()
		return nil, nil, ctx.Err()
	}
}

func (w *WebSocketProvider) Close() error {
	var errs []error
	if w.conn != nil {
		errs = append(errs, w.conn.Close())
	}
	if w.closed != nil {
		select {
		case <-w.closed:
		default:
			close(w.closed)
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			errs = append(errs, w.server.Close())
		}
	}
	return errors.Join(errs...)
}
