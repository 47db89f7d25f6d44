// Package wire implements the subset of the Protocol Buffers binary encoding needed to
// serialize OTLP trace export requests: base-128 varints, little-endian fixed64 values,
// length-delimited strings and bytes, field tags and message concatenation.
//
// Every function is pure and returns a freshly allocated slice owned by the caller.
package wire
