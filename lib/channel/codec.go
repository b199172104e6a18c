package channel

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Codec encodes argument bags, results and event payloads. Both ends of a
// channel must use the same codec.
type Codec interface {
	Name() string
	Marshal(v *structpb.Value) ([]byte, error)
	Unmarshal(data []byte) (*structpb.Value, error)
}

// ProtoCodec encodes values in protobuf binary form. It is the default.
type ProtoCodec struct{}

func (ProtoCodec) Name() string { return "proto" }

func (ProtoCodec) Marshal(v *structpb.Value) ([]byte, error) {
	if v == nil {
		v = structpb.NewNullValue()
	}
	return proto.Marshal(v)
}

func (ProtoCodec) Unmarshal(data []byte) (*structpb.Value, error) {
	v := &structpb.Value{}
	if len(data) == 0 {
		return structpb.NewNullValue(), nil
	}
	if err := proto.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// JSONCodec encodes values as JSON, which keeps the wire readable when
// debugging a host integration.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v *structpb.Value) ([]byte, error) {
	if v == nil {
		v = structpb.NewNullValue()
	}
	return protojson.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte) (*structpb.Value, error) {
	v := &structpb.Value{}
	if len(data) == 0 {
		return structpb.NewNullValue(), nil
	}
	if err := protojson.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "proto", "protobuf":
		return ProtoCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
