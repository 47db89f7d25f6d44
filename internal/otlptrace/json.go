package otlptrace

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// DecodeSpanRecords reads a JSON array of span records. Attribute objects keep
// their key order and timestamps are [seconds, nanos] pairs.
func DecodeSpanRecords(r io.Reader) ([]SpanRecord, error) {
	var spans []SpanRecord
	if err := json.NewDecoder(r).Decode(&spans); err != nil {
		return nil, fmt.Errorf("failed to decode span records: %w", err)
	}
	return spans, nil
}

// UnmarshalJSON reads a [seconds, nanos] pair.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var pair []int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("timestamp must be a [seconds, nanos] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("timestamp must be a [seconds, nanos] pair, got %d elements", len(pair))
	}
	ts.Seconds, ts.Nanos = pair[0], pair[1]
	return nil
}

// MarshalJSON writes a [seconds, nanos] pair.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{ts.Seconds, ts.Nanos})
}

// UnmarshalJSON reads a JSON object, keeping key order.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := newDecoder(data)
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes must be a JSON object, got %v", tok)
	}

	kvs, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*a = kvs
	return nil
}

// MarshalJSON writes the attributes as a JSON object in their original order.
func (a Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalJSON writes the value as plain JSON. Bytes become a base64 string and
// non-finite doubles become the strings "NaN", "+Inf" and "-Inf".
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.typ {
	case ValueTypeEmpty:
		buf.WriteString("null")
	case ValueTypeString:
		return writeJSON(buf, v.str)
	case ValueTypeBool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case ValueTypeInt:
		buf.WriteString(strconv.FormatInt(v.num, 10))
	case ValueTypeDouble:
		if math.IsNaN(v.dbl) || math.IsInf(v.dbl, 0) {
			return writeJSON(buf, strconv.FormatFloat(v.dbl, 'g', -1, 64))
		}
		return writeJSON(buf, v.dbl)
	case ValueTypeArray:
		buf.WriteByte('[')
		for i, elem := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case ValueTypeMap:
		return writeObject(buf, v.kvs)
	case ValueTypeBytes:
		return writeJSON(buf, base64.StdEncoding.EncodeToString(v.raw))
	default:
		return fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, v.typ)
	}
	return nil
}

func writeObject(buf *bytes.Buffer, kvs []KeyValue) error {
	buf.WriteByte('{')
	for i, kv := range kvs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(buf, kv.Key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, kv.Value); err != nil {
			return fmt.Errorf("key %q: %w", kv.Key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// UnmarshalJSON reads any JSON value into the matching variant. Numbers with no
// fractional part become Int values, null becomes the empty Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := decodeValue(newDecoder(data))
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

func newDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Value{}, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		return numberValue(t)
	case json.Delim:
		switch t {
		case '[':
			var values []Value
			for dec.More() {
				elem, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				values = append(values, elem)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{typ: ValueTypeArray, arr: values}, nil
		case '{':
			kvs, err := decodeObject(dec)
			if err != nil {
				return Value{}, err
			}
			return Value{typ: ValueTypeMap, kvs: kvs}, nil
		}
	}
	return Value{}, fmt.Errorf("unexpected JSON token %v", tok)
}

// decodeObject reads the members of an object whose opening brace was consumed.
func decodeObject(dec *json.Decoder) ([]KeyValue, error) {
	var kvs []KeyValue
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		kvs = append(kvs, KeyValue{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return kvs, nil
}

func numberValue(n json.Number) (Value, error) {
	if i, err := n.Int64(); err == nil {
		return IntValue(i), nil
	}
	f, err := n.Float64()
	if err != nil && !math.IsInf(f, 0) {
		return Value{}, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return floatValue(f), nil
}
