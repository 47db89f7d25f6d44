package wire

// WireType is the 3-bit suffix of a field tag describing how the payload is framed.
type WireType uint8

const (
	// WireVarint frames enums, bools, lengths and non-negative integers.
	WireVarint WireType = 0
	// WireFixed64 frames fixed64 and double values.
	WireFixed64 WireType = 1
	// WireBytes frames strings, bytes and embedded messages.
	WireBytes WireType = 2
)

// MaxFieldNumber is the largest field number a tag can carry.
const MaxFieldNumber = 1<<29 - 1

// Tag returns the varint-encoded tag for a field.
func Tag(fieldNumber uint32, wireType WireType) []byte {
	return EncodeVarint(tagValue(fieldNumber, wireType))
}

func tagValue(fieldNumber uint32, wireType WireType) uint64 {
	if fieldNumber == 0 || fieldNumber > MaxFieldNumber {
		panic("wire: field number out of range")
	}
	return uint64(fieldNumber)<<3 | uint64(wireType)
}

// EncodeField returns the tag for (fieldNumber, wireType) followed by payload.
// Length-delimited payloads must already carry their length prefix, as produced by
// EncodeString and EncodeBytes; embedded messages go through EncodeMessageField.
// It panics if fieldNumber is not a valid protobuf field number.
func EncodeField(fieldNumber uint32, wireType WireType, payload []byte) []byte {
	tag := tagValue(fieldNumber, wireType)
	b := make([]byte, 0, VarintSize(tag)+len(payload))
	b = AppendVarint(b, tag)
	return append(b, payload...)
}

// VarintField encodes a varint field.
func VarintField(fieldNumber uint32, n uint64) []byte {
	return EncodeField(fieldNumber, WireVarint, EncodeVarint(n))
}

// Fixed64Field encodes a fixed64 field.
func Fixed64Field(fieldNumber uint32, n uint64) []byte {
	return EncodeField(fieldNumber, WireFixed64, EncodeFixed64(n))
}

// DoubleField encodes a double field.
func DoubleField(fieldNumber uint32, f float64) []byte {
	return EncodeField(fieldNumber, WireFixed64, EncodeDouble(f))
}

// StringField encodes a string field.
func StringField(fieldNumber uint32, s string) []byte {
	return EncodeField(fieldNumber, WireBytes, EncodeString(s))
}

// BytesField encodes a bytes field.
func BytesField(fieldNumber uint32, p []byte) []byte {
	return EncodeField(fieldNumber, WireBytes, EncodeBytes(p))
}

// EncodeMessageField embeds an already encoded message as a length-delimited field.
// The message bytes carry no length of their own, so it is prepended here.
func EncodeMessageField(fieldNumber uint32, message []byte) []byte {
	return EncodeField(fieldNumber, WireBytes, EncodeBytes(message))
}
