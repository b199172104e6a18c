package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/engage.go/lib/channel"
	"github.com/snowmerak/engage.go/lib/engage/loopback"
)

func TestBridge_OverChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, plugin := channel.Pipe()
	opts := &channel.Options{Codec: channel.JSONCodec{}}

	endpoint, err := channel.OpenEndpoint(ctx, plugin, opts)
	require.NoError(t, err)

	sdk := loopback.New(nil, "checkout")
	b := New(sdk, nil)
	require.NoError(t, b.Attach(endpoint, testApp))
	defer b.Detach()

	go endpoint.Listen(ctx)

	client := channel.NewClient(host, opts)
	require.NoError(t, client.Connect(ctx))
	defer client.ForceClose()

	events := make(chan *structpb.Value, 4)
	client.OnEvent(EventUnreadMessageCountChanged, func(ctx context.Context, name string, payload *structpb.Value) {
		events <- payload
	})

	registered, err := client.InvokeMap(ctx, MethodRegister, map[string]any{"api_key": "k", "api_signature": "s"})
	require.NoError(t, err)
	assert.Equal(t, true, registered)

	engaged, err := client.InvokeMap(ctx, MethodEngage, map[string]any{"event_name": "checkout"})
	require.NoError(t, err)
	assert.Equal(t, true, engaged)

	_, err = client.InvokeMap(ctx, MethodAddCustomPersonData, map[string]any{"key": "k", "value": map[string]any{}})
	var methodErr *channel.MethodError
	require.ErrorAs(t, err, &methodErr)
	assert.Equal(t, ErrorCodeArgument, methodErr.Code)

	_, err = client.InvokeMap(ctx, "showRatingDialog", nil)
	assert.True(t, errors.Is(err, channel.ErrNotImplemented))

	_, err = client.InvokeMap(ctx, MethodRegisterListeners, nil)
	require.NoError(t, err)
	sdk.SetUnreadMessageCount(2)

	select {
	case payload := <-events:
		assert.Equal(t, float64(2), payload.GetStructValue().GetFields()["count"].GetNumberValue())
	case <-time.After(2 * time.Second):
		t.Fatal("unread count event not delivered")
	}

	count, err := client.InvokeMap(ctx, MethodGetUnreadMessageCount, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), count)
}
