// Package args decodes the host's loosely typed argument bag into Go values.
//
// The bag travels as a structpb.Value. Lookups tolerate missing keys and
// report type mismatches as errors instead of panicking, so a handler can turn
// them into argument-validation results.
package args

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrUnsupportedType is returned when a value is not a string, bool, number or null.
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrWrongType is returned when a key holds a value of a different type than requested.
	ErrWrongType = errors.New("wrong value type")
)

// Kind tags the variant held by a Scalar.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindString
	KindBool
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Scalar is a string, bool, number or nothing.
type Scalar struct {
	kind Kind
	str  string
	b    bool
	num  float64
}

func StringScalar(s string) Scalar  { return Scalar{kind: KindString, str: s} }
func BoolScalar(b bool) Scalar      { return Scalar{kind: KindBool, b: b} }
func NumberScalar(n float64) Scalar { return Scalar{kind: KindNumber, num: n} }

func (s Scalar) Kind() Kind { return s.kind }

// Str returns the string variant.
func (s Scalar) Str() (string, bool) { return s.str, s.kind == KindString }

// Bool returns the bool variant.
func (s Scalar) Bool() (bool, bool) { return s.b, s.kind == KindBool }

// Number returns the number variant.
func (s Scalar) Number() (float64, bool) { return s.num, s.kind == KindNumber }

// Interface returns the held value as a plain Go value, nil when absent.
func (s Scalar) Interface() any {
	switch s.kind {
	case KindString:
		return s.str
	case KindBool:
		return s.b
	case KindNumber:
		return s.num
	default:
		return nil
	}
}

func (s Scalar) String() string {
	switch s.kind {
	case KindString:
		return strconv.Quote(s.str)
	case KindBool:
		return strconv.FormatBool(s.b)
	case KindNumber:
		return strconv.FormatFloat(s.num, 'g', -1, 64)
	default:
		return "<absent>"
	}
}

// DecodeScalar converts v into a Scalar. nil and null decode to an absent
// Scalar; lists and structs are rejected with ErrUnsupportedType.
func DecodeScalar(v *structpb.Value) (Scalar, error) {
	if v == nil {
		return Scalar{}, nil
	}

	switch kind := v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return Scalar{}, nil
	case *structpb.Value_StringValue:
		return StringScalar(kind.StringValue), nil
	case *structpb.Value_BoolValue:
		return BoolScalar(kind.BoolValue), nil
	case *structpb.Value_NumberValue:
		if math.IsNaN(kind.NumberValue) || math.IsInf(kind.NumberValue, 0) {
			return Scalar{}, fmt.Errorf("non-finite number: %w", ErrUnsupportedType)
		}
		return NumberScalar(kind.NumberValue), nil
	case *structpb.Value_ListValue:
		return Scalar{}, fmt.Errorf("list: %w", ErrUnsupportedType)
	case *structpb.Value_StructValue:
		return Scalar{}, fmt.Errorf("map: %w", ErrUnsupportedType)
	default:
		return Scalar{}, fmt.Errorf("%T: %w", kind, ErrUnsupportedType)
	}
}

// kindName describes a raw value for error messages.
func kindName(v *structpb.Value) string {
	switch v.GetKind().(type) {
	case nil, *structpb.Value_NullValue:
		return "null"
	case *structpb.Value_StringValue:
		return "string"
	case *structpb.Value_BoolValue:
		return "bool"
	case *structpb.Value_NumberValue:
		return "number"
	case *structpb.Value_ListValue:
		return "list"
	case *structpb.Value_StructValue:
		return "map"
	default:
		return "unknown"
	}
}
