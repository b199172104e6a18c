package channel

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/snowmerak/engage.go/lib/args"
)

// InternalErrorCode is the code of errors produced by the dispatcher itself:
// a handler that panicked or returned no result.
const InternalErrorCode = "300"

// ErrNotImplemented is returned to callers when the other side has no
// handler for the invoked method.
var ErrNotImplemented = errors.New("method not implemented")

// MethodCall is one invocation received from the host.
type MethodCall struct {
	Method    string
	Arguments args.Args
}

// ResultKind tags the variant held by a Result.
type ResultKind uint8

const (
	ResultSuccess ResultKind = iota
	ResultError
	ResultNotImplemented
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultError:
		return "error"
	case ResultNotImplemented:
		return "not_implemented"
	default:
		return "unknown"
	}
}

// Result is the single reply to an invocation.
type Result struct {
	Kind  ResultKind
	Value *structpb.Value
	Err   *MethodError
}

// MethodError is an error reply: a short numeric code, a message and
// optional structured details.
type MethodError struct {
	Code    string
	Message string
	Details *structpb.Value
}

func (e *MethodError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Success builds a successful Result. v must be convertible by
// structpb.NewValue; otherwise an internal error Result is returned.
func Success(v any) Result {
	if pv, ok := v.(*structpb.Value); ok {
		return Result{Kind: ResultSuccess, Value: pv}
	}
	pv, err := structpb.NewValue(v)
	if err != nil {
		return Failure(InternalErrorCode, fmt.Sprintf("unencodable result %T", v), err.Error())
	}
	return Result{Kind: ResultSuccess, Value: pv}
}

// Failure builds an error Result. details may be nil.
func Failure(code, message string, details any) Result {
	var pv *structpb.Value
	switch d := details.(type) {
	case nil:
	case *structpb.Value:
		pv = d
	default:
		v, err := structpb.NewValue(d)
		if err != nil {
			v = structpb.NewStringValue(fmt.Sprint(d))
		}
		pv = v
	}
	return Result{Kind: ResultError, Err: &MethodError{Code: code, Message: message, Details: pv}}
}

// NotImplemented builds the reply for an unknown method.
func NotImplemented() Result {
	return Result{Kind: ResultNotImplemented}
}

// encode turns r into the reply envelope for method.
func (r Result) encode(codec Codec, method string) (Header, error) {
	switch r.Kind {
	case ResultSuccess:
		payload, err := codec.Marshal(r.Value)
		if err != nil {
			return Header{}, fmt.Errorf("failed to encode result: %w", err)
		}
		return Header{Name: method, MessageType: MessageTypeResponse, Payload: payload}, nil

	case ResultError:
		e := r.Err
		if e == nil {
			e = &MethodError{Code: InternalErrorCode, Message: "error result without details"}
		}
		fields := map[string]*structpb.Value{
			"code":    structpb.NewStringValue(e.Code),
			"message": structpb.NewStringValue(e.Message),
		}
		if e.Details != nil {
			fields["details"] = e.Details
		}
		payload, err := codec.Marshal(structpb.NewStructValue(&structpb.Struct{Fields: fields}))
		if err != nil {
			return Header{}, fmt.Errorf("failed to encode error: %w", err)
		}
		return Header{Name: method, IsError: true, MessageType: MessageTypeError, Payload: payload}, nil

	case ResultNotImplemented:
		return Header{Name: method, MessageType: MessageTypeNotImplemented}, nil

	default:
		return Header{}, fmt.Errorf("unknown result kind %d", r.Kind)
	}
}

// decodeResult turns a reply envelope back into a value or an error.
func decodeResult(codec Codec, h Header) (*structpb.Value, error) {
	switch h.MessageType {
	case MessageTypeResponse:
		v, err := codec.Unmarshal(h.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode result of %s: %w", h.Name, err)
		}
		return v, nil

	case MessageTypeNotImplemented:
		return nil, fmt.Errorf("%s: %w", h.Name, ErrNotImplemented)

	case MessageTypeError:
		v, err := codec.Unmarshal(h.Payload)
		fields := v.GetStructValue().GetFields()
		if err != nil || fields == nil {
			// Transport level rejection, e.g. during shutdown.
			return nil, &MethodError{Message: string(h.Payload)}
		}
		return nil, &MethodError{
			Code:    fields["code"].GetStringValue(),
			Message: fields["message"].GetStringValue(),
			Details: fields["details"],
		}

	default:
		return nil, fmt.Errorf("unexpected reply type %s for %s", h.MessageType, h.Name)
	}
}
