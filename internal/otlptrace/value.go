package otlptrace

import (
	"fmt"
	"math"
	"reflect"
	"sort"
)

// ValueType identifies which branch of the AnyValue oneof a Value occupies.
type ValueType int

const (
	// ValueTypeEmpty is the zero Value. It encodes as an empty string_value.
	ValueTypeEmpty ValueType = iota
	ValueTypeString
	ValueTypeBool
	ValueTypeInt
	ValueTypeDouble
	ValueTypeArray
	ValueTypeMap
	ValueTypeBytes
)

// String returns a short name for the type.
func (t ValueType) String() string {
	switch t {
	case ValueTypeEmpty:
		return "Empty"
	case ValueTypeString:
		return "Str"
	case ValueTypeBool:
		return "Bool"
	case ValueTypeInt:
		return "Int"
	case ValueTypeDouble:
		return "Double"
	case ValueTypeArray:
		return "Array"
	case ValueTypeMap:
		return "Map"
	case ValueTypeBytes:
		return "Bytes"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value is an attribute value. It holds exactly one of the closed set of variants
// and is immutable once constructed.
type Value struct {
	typ ValueType
	str string
	num int64
	dbl float64
	arr []Value
	kvs []KeyValue
	raw []byte
}

// KeyValue is one attribute.
type KeyValue struct {
	Key   string
	Value Value
}

// Attributes is an ordered attribute list. Duplicate keys are kept as-is.
type Attributes []KeyValue

// Get returns the first value stored under key.
func (a Attributes) Get(key string) (Value, bool) {
	for _, kv := range a {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return Value{}, false
}

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{typ: ValueTypeString, str: s} }

// BoolValue returns a bool Value.
func BoolValue(b bool) Value {
	v := Value{typ: ValueTypeBool}
	if b {
		v.num = 1
	}
	return v
}

// IntValue returns an int Value.
func IntValue(n int64) Value { return Value{typ: ValueTypeInt, num: n} }

// DoubleValue returns a double Value.
func DoubleValue(f float64) Value { return Value{typ: ValueTypeDouble, dbl: f} }

// ArrayValue copies values into a new array Value.
func ArrayValue(values ...Value) Value {
	return Value{typ: ValueTypeArray, arr: append([]Value(nil), values...)}
}

// MapValue copies kvs into a new key/value list Value.
func MapValue(kvs ...KeyValue) Value {
	return Value{typ: ValueTypeMap, kvs: append([]KeyValue(nil), kvs...)}
}

// BytesValue copies p into a new bytes Value.
func BytesValue(p []byte) Value {
	return Value{typ: ValueTypeBytes, raw: append([]byte(nil), p...)}
}

// String builds a string attribute.
func String(key, value string) KeyValue { return KeyValue{Key: key, Value: StringValue(value)} }

// Bool builds a bool attribute.
func Bool(key string, value bool) KeyValue { return KeyValue{Key: key, Value: BoolValue(value)} }

// Int builds an int attribute.
func Int(key string, value int64) KeyValue { return KeyValue{Key: key, Value: IntValue(value)} }

// Double builds a double attribute.
func Double(key string, value float64) KeyValue { return KeyValue{Key: key, Value: DoubleValue(value)} }

// Type reports which variant v holds.
func (v Value) Type() ValueType { return v.typ }

// Str returns the string payload, or "" for other variants.
func (v Value) Str() string { return v.str }

// Bool returns the bool payload.
func (v Value) Bool() bool { return v.num != 0 }

// Int returns the int payload.
func (v Value) Int() int64 { return v.num }

// Double returns the double payload.
func (v Value) Double() float64 { return v.dbl }

// Array returns a copy of the array elements.
func (v Value) Array() []Value { return append([]Value(nil), v.arr...) }

// Map returns a copy of the key/value list.
func (v Value) Map() []KeyValue { return append([]KeyValue(nil), v.kvs...) }

// Bytes returns a copy of the raw bytes.
func (v Value) Bytes() []byte { return append([]byte(nil), v.raw...) }

// maxValueDepth bounds the nesting ValueOf follows, which also breaks reference
// cycles in maps and slices.
const maxValueDepth = 32

// ValueOf maps an untyped Go value onto the closed Value variant set. Integral
// float64 values become Int values. Unsigned values that do not fit in int64 become
// Double values. Map keys are sorted so the result is deterministic.
//
// The boolean result is false when v had no matching variant and was stringified
// with fmt.Sprint instead.
func ValueOf(v any) (Value, bool) {
	return valueOf(v, 0)
}

func valueOf(v any, depth int) (Value, bool) {
	if depth > maxValueDepth {
		return StringValue(fmt.Sprintf("%T", v)), false
	}

	switch t := v.(type) {
	case nil:
		return Value{}, true
	case Value:
		return t, true
	case string:
		return StringValue(t), true
	case bool:
		return BoolValue(t), true
	case int:
		return IntValue(int64(t)), true
	case int8:
		return IntValue(int64(t)), true
	case int16:
		return IntValue(int64(t)), true
	case int32:
		return IntValue(int64(t)), true
	case int64:
		return IntValue(t), true
	case uint:
		return unsignedValue(uint64(t)), true
	case uint8:
		return IntValue(int64(t)), true
	case uint16:
		return IntValue(int64(t)), true
	case uint32:
		return IntValue(int64(t)), true
	case uint64:
		return unsignedValue(t), true
	case float32:
		return floatValue(float64(t)), true
	case float64:
		return floatValue(t), true
	case []byte:
		return BytesValue(t), true
	case []any:
		ok := true
		values := make([]Value, 0, len(t))
		for _, e := range t {
			ev, eok := valueOf(e, depth+1)
			ok = ok && eok
			values = append(values, ev)
		}
		return Value{typ: ValueTypeArray, arr: values}, ok
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ok := true
		kvs := make([]KeyValue, 0, len(t))
		for _, k := range keys {
			ev, eok := valueOf(t[k], depth+1)
			ok = ok && eok
			kvs = append(kvs, KeyValue{Key: k, Value: ev})
		}
		return Value{typ: ValueTypeMap, kvs: kvs}, ok
	}

	// Typed slices and string-keyed maps such as []string or map[string]int.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

		ok := true
		kvs := make([]KeyValue, 0, len(keys))
		for _, k := range keys {
			ev, eok := valueOf(rv.MapIndex(k).Interface(), depth+1)
			ok = ok && eok
			kvs = append(kvs, KeyValue{Key: k.String(), Value: ev})
		}
		return Value{typ: ValueTypeMap, kvs: kvs}, ok
	}
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		ok := true
		values := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, eok := valueOf(rv.Index(i).Interface(), depth+1)
			ok = ok && eok
			values = append(values, ev)
		}
		return Value{typ: ValueTypeArray, arr: values}, ok
	}

	return StringValue(fmt.Sprint(v)), false
}

func unsignedValue(n uint64) Value {
	if n > math.MaxInt64 {
		return DoubleValue(float64(n))
	}
	return IntValue(int64(n))
}

func floatValue(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return IntValue(int64(f))
	}
	return DoubleValue(f)
}
