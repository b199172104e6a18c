package args

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Args is a read-only view over an invocation's argument bag.
type Args struct {
	value *structpb.Value
}

// New wraps v. A nil v behaves like an empty bag.
func New(v *structpb.Value) Args {
	return Args{value: v}
}

// FromMap builds an argument bag from plain Go values, as accepted by
// structpb.NewValue.
func FromMap(m map[string]any) (Args, error) {
	if m == nil {
		return Args{}, nil
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return Args{}, fmt.Errorf("failed to build argument bag: %w", err)
	}
	return Args{value: structpb.NewStructValue(s)}, nil
}

// MustFromMap is FromMap for literals in tests and examples.
func MustFromMap(m map[string]any) Args {
	a, err := FromMap(m)
	if err != nil {
		panic(err)
	}
	return a
}

// Value returns the raw bag, never nil.
func (a Args) Value() *structpb.Value {
	if a.value == nil {
		return structpb.NewNullValue()
	}
	return a.value
}

// Fields returns the top-level map, or nil when the bag is not a map.
func (a Args) Fields() map[string]*structpb.Value {
	return a.value.GetStructValue().GetFields()
}

// Keys returns the top-level keys in sorted order.
func (a Args) Keys() []string {
	fields := a.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present with a non-null value.
func (a Args) Has(key string) bool {
	v, ok := a.Fields()[key]
	if !ok {
		return false
	}
	_, isNull := v.GetKind().(*structpb.Value_NullValue)
	return v.GetKind() != nil && !isNull
}

// Raw returns the raw value stored under key, or nil.
func (a Args) Raw(key string) *structpb.Value {
	return a.Fields()[key]
}

// Scalar decodes the value under key. Missing keys decode as absent.
func (a Args) Scalar(key string) (Scalar, error) {
	s, err := DecodeScalar(a.Fields()[key])
	if err != nil {
		return Scalar{}, fmt.Errorf("argument %q: %w", key, err)
	}
	return s, nil
}

// String returns the string under key. ok is false when the key is absent.
func (a Args) String(key string) (value string, ok bool, err error) {
	v := a.Fields()[key]
	if !a.Has(key) {
		return "", false, nil
	}
	sv, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		return "", false, fmt.Errorf("argument %q: expected string, got %s: %w", key, kindName(v), ErrWrongType)
	}
	return sv.StringValue, true, nil
}

// Bool returns the bool under key. ok is false when the key is absent.
func (a Args) Bool(key string) (value bool, ok bool, err error) {
	v := a.Fields()[key]
	if !a.Has(key) {
		return false, false, nil
	}
	bv, isBool := v.GetKind().(*structpb.Value_BoolValue)
	if !isBool {
		return false, false, fmt.Errorf("argument %q: expected bool, got %s: %w", key, kindName(v), ErrWrongType)
	}
	return bv.BoolValue, true, nil
}

// Number returns the number under key. ok is false when the key is absent.
func (a Args) Number(key string) (value float64, ok bool, err error) {
	v := a.Fields()[key]
	if !a.Has(key) {
		return 0, false, nil
	}
	nv, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber {
		return 0, false, fmt.Errorf("argument %q: expected number, got %s: %w", key, kindName(v), ErrWrongType)
	}
	return nv.NumberValue, true, nil
}

// Int returns the number under key when it is integral.
func (a Args) Int(key string) (value int64, ok bool, err error) {
	n, ok, err := a.Number(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if n != math.Trunc(n) || n >= 1<<63 || n < -1<<63 {
		return 0, false, fmt.Errorf("argument %q: expected integer, got %v: %w", key, n, ErrWrongType)
	}
	return int64(n), true, nil
}

// ScalarMap returns the map under key with every entry decoded as a Scalar.
// Nested lists or maps inside the entry fail with ErrUnsupportedType.
func (a Args) ScalarMap(key string) (values map[string]Scalar, ok bool, err error) {
	v := a.Fields()[key]
	if !a.Has(key) {
		return nil, false, nil
	}
	sv, isStruct := v.GetKind().(*structpb.Value_StructValue)
	if !isStruct {
		return nil, false, fmt.Errorf("argument %q: expected map, got %s: %w", key, kindName(v), ErrWrongType)
	}

	values = make(map[string]Scalar, len(sv.StructValue.GetFields()))
	for k, item := range sv.StructValue.GetFields() {
		s, err := DecodeScalar(item)
		if err != nil {
			return nil, false, fmt.Errorf("argument %q entry %q: %w", key, k, err)
		}
		values[k] = s
	}
	return values, true, nil
}

// AsMap returns the bag as plain Go values, or nil when it is not a map.
func (a Args) AsMap() map[string]any {
	s := a.value.GetStructValue()
	if s == nil {
		return nil
	}
	return s.AsMap()
}

// JSON renders the bag compactly for logs and diagnostics.
func (a Args) JSON() string {
	b, err := protojson.Marshal(a.Value())
	if err != nil {
		return "<unprintable arguments>"
	}
	return string(b)
}
