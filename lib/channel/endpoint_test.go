package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/engage.go/lib/args"
)

// startPair runs an Endpoint with handler and returns a connected Client.
func startPair(t *testing.T, handler MethodCallHandler) (*Client, *Endpoint, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	host, plugin := Pipe()
	endpoint, err := OpenEndpoint(ctx, plugin, nil)
	require.NoError(t, err)
	endpoint.SetMethodCallHandler(handler)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- endpoint.Listen(ctx)
	}()

	client := NewClient(host, nil)
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()
	require.NoError(t, client.Connect(connectCtx))

	t.Cleanup(func() {
		_ = client.ForceClose()
		_ = plugin.Close()
	})
	return client, endpoint, listenErr
}

func echoHandler(ctx context.Context, call *MethodCall) *Promise {
	switch call.Method {
	case "echo":
		return Resolved(Success(call.Arguments.Value()))
	case "fail":
		return Resolved(Failure("200", "bad argument", nil))
	case "later":
		p := NewPromise()
		go func() {
			time.Sleep(20 * time.Millisecond)
			p.Resolve(Success("first"))
			p.Resolve(Success("second"))
		}()
		return p
	case "boom":
		panic("handler exploded")
	case "nothing":
		return nil
	default:
		return Resolved(NotImplemented())
	}
}

func TestEndpoint_Invoke(t *testing.T) {
	client, _, _ := startPair(t, echoHandler)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		v, err := client.Invoke(ctx, "echo", args.MustFromMap(map[string]any{"event_name": "launch"}))
		require.NoError(t, err)
		assert.Equal(t, "launch", v.GetStructValue().GetFields()["event_name"].GetStringValue())
	})

	t.Run("error code", func(t *testing.T) {
		_, err := client.Invoke(ctx, "fail", args.Args{})
		var methodErr *MethodError
		require.ErrorAs(t, err, &methodErr)
		assert.Equal(t, "200", methodErr.Code)
	})

	t.Run("asynchronous result replies once", func(t *testing.T) {
		v, err := client.Invoke(ctx, "later", args.Args{})
		require.NoError(t, err)
		assert.Equal(t, "first", v.GetStringValue())

		// The next invocation must get its own reply, not a stray second one.
		v, err = client.Invoke(ctx, "echo", args.MustFromMap(map[string]any{"n": 1}))
		require.NoError(t, err)
		assert.Equal(t, float64(1), v.GetStructValue().GetFields()["n"].GetNumberValue())
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := client.Invoke(ctx, "nope", args.Args{})
		assert.True(t, errors.Is(err, ErrNotImplemented))
	})

	t.Run("panic becomes internal error", func(t *testing.T) {
		_, err := client.Invoke(ctx, "boom", args.MustFromMap(map[string]any{"key": "k"}))
		var methodErr *MethodError
		require.ErrorAs(t, err, &methodErr)
		assert.Equal(t, InternalErrorCode, methodErr.Code)
		assert.Contains(t, methodErr.Message, "boom")
		assert.Contains(t, methodErr.Message, "handler exploded")

		details := methodErr.Details.GetStructValue().GetFields()
		assert.Equal(t, "boom", details["method"].GetStringValue())
		assert.NotEmpty(t, details["incident"].GetStringValue())
		assert.NotEmpty(t, details["trace"].GetStringValue())
		assert.Equal(t, "k", details["arguments"].GetStructValue().GetFields()["key"].GetStringValue())
	})

	t.Run("missing result becomes internal error", func(t *testing.T) {
		_, err := client.Invoke(ctx, "nothing", args.Args{})
		var methodErr *MethodError
		require.ErrorAs(t, err, &methodErr)
		assert.Equal(t, InternalErrorCode, methodErr.Code)
	})
}

func TestEndpoint_NoHandler(t *testing.T) {
	client, _, _ := startPair(t, nil)

	_, err := client.Invoke(context.Background(), "register", args.Args{})
	assert.True(t, errors.Is(err, ErrNotImplemented))
}

func TestEndpoint_ConcurrentInvocations(t *testing.T) {
	client, _, _ := startPair(t, echoHandler)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := client.Invoke(context.Background(), "echo", args.MustFromMap(map[string]any{"i": i}))
			if assert.NoError(t, err) {
				assert.Equal(t, float64(i), v.GetStructValue().GetFields()["i"].GetNumberValue())
			}
		}(i)
	}
	wg.Wait()
}

func TestEndpoint_SendEvent(t *testing.T) {
	client, endpoint, _ := startPair(t, echoHandler)

	received := make(chan *structpb.Value, 1)
	client.OnEvent("onUnreadMessageCountChanged", func(ctx context.Context, name string, payload *structpb.Value) {
		received <- payload
	})

	require.NoError(t, endpoint.SendEvent(context.Background(), "onUnreadMessageCountChanged", map[string]any{"count": 4}))

	select {
	case payload := <-received:
		assert.Equal(t, float64(4), payload.GetStructValue().GetFields()["count"].GetNumberValue())
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestEndpoint_GracefulShutdown(t *testing.T) {
	client, endpoint, listenErr := startPair(t, echoHandler)

	require.NoError(t, client.Close())
	assert.True(t, endpoint.IsShutdown())

	select {
	case err := <-listenErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after shutdown")
	}

	_, err := client.Invoke(context.Background(), "echo", args.Args{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEndpoint_ForceShutdown(t *testing.T) {
	client, endpoint, listenErr := startPair(t, echoHandler)

	require.NoError(t, client.ForceClose())

	select {
	case err := <-listenErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after force shutdown")
	}
	assert.True(t, endpoint.IsForceShutdown())
}
