package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestResult_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{ProtoCodec{}, JSONCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			t.Run("success", func(t *testing.T) {
				h, err := Success(map[string]any{"count": 3}).encode(codec, "getUnreadMessageCount")
				require.NoError(t, err)
				assert.Equal(t, MessageTypeResponse, h.MessageType)

				v, err := decodeResult(codec, h)
				require.NoError(t, err)
				assert.Equal(t, float64(3), v.GetStructValue().GetFields()["count"].GetNumberValue())
			})

			t.Run("nil success", func(t *testing.T) {
				h, err := Success(nil).encode(codec, "setPersonName")
				require.NoError(t, err)

				v, err := decodeResult(codec, h)
				require.NoError(t, err)
				assert.NotNil(t, v.GetKind())
				_, isNull := v.GetKind().(*structpb.Value_NullValue)
				assert.True(t, isNull)
			})

			t.Run("error", func(t *testing.T) {
				h, err := Failure("200", "missing key", map[string]any{"argument": "key"}).encode(codec, "addCustomPersonData")
				require.NoError(t, err)
				assert.True(t, h.IsError)

				_, err = decodeResult(codec, h)
				var methodErr *MethodError
				require.ErrorAs(t, err, &methodErr)
				assert.Equal(t, "200", methodErr.Code)
				assert.Equal(t, "missing key", methodErr.Message)
				assert.Equal(t, "key", methodErr.Details.GetStructValue().GetFields()["argument"].GetStringValue())
				assert.Equal(t, "[200] missing key", methodErr.Error())
			})

			t.Run("not implemented", func(t *testing.T) {
				h, err := NotImplemented().encode(codec, "unknownMethod")
				require.NoError(t, err)

				_, err = decodeResult(codec, h)
				assert.True(t, errors.Is(err, ErrNotImplemented))
			})
		})
	}
}

func TestSuccess_UnencodableValue(t *testing.T) {
	r := Success(struct{ A int }{A: 1})
	require.Equal(t, ResultError, r.Kind)
	assert.Equal(t, InternalErrorCode, r.Err.Code)
}

func TestDecodeResult_PlainTextError(t *testing.T) {
	_, err := decodeResult(JSONCodec{}, Header{Name: "engage", IsError: true, MessageType: MessageTypeError, Payload: []byte("service unavailable")})

	var methodErr *MethodError
	require.ErrorAs(t, err, &methodErr)
	assert.Equal(t, "", methodErr.Code)
	assert.Equal(t, "service unavailable", methodErr.Message)
}

func TestPromise_FirstResolveWins(t *testing.T) {
	p := NewPromise()
	select {
	case <-p.Done():
		t.Fatal("promise settled before Resolve")
	default:
	}

	assert.True(t, p.Resolve(Success(true)))
	assert.False(t, p.Resolve(Success(false)))

	<-p.Done()
	assert.True(t, p.Result().Value.GetBoolValue())
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "proto", c.Name())

	c, err = CodecByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}
