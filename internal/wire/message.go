package wire

// EncodeMessage concatenates pre-encoded fields, in order, into one message.
// A message has no tag or length of its own; the parent field adds them.
func EncodeMessage(fields ...[]byte) []byte {
	size := 0
	for _, f := range fields {
		size += len(f)
	}
	b := make([]byte, 0, size)
	for _, f := range fields {
		b = append(b, f...)
	}
	return b
}

// Message accumulates encoded fields for one message in field order.
type Message struct {
	fields [][]byte
}

// Add appends an encoded field. Nil fields are skipped so optional fields can be
// added unconditionally.
func (m *Message) Add(field []byte) {
	if field == nil {
		return
	}
	m.fields = append(m.fields, field)
}

// Bytes returns the concatenated message.
func (m *Message) Bytes() []byte {
	return EncodeMessage(m.fields...)
}
