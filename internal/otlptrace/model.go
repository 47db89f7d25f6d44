package otlptrace

import (
	"time"
)

// SpanKind mirrors the OTLP Span.SpanKind enum.
type SpanKind int32

const (
	SpanKindUnspecified SpanKind = iota
	SpanKindInternal
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// String returns the OTLP enum name of the kind.
func (k SpanKind) String() string {
	switch k {
	case SpanKindUnspecified:
		return "SPAN_KIND_UNSPECIFIED"
	case SpanKindInternal:
		return "SPAN_KIND_INTERNAL"
	case SpanKindServer:
		return "SPAN_KIND_SERVER"
	case SpanKindClient:
		return "SPAN_KIND_CLIENT"
	case SpanKindProducer:
		return "SPAN_KIND_PRODUCER"
	case SpanKindConsumer:
		return "SPAN_KIND_CONSUMER"
	}
	return "SPAN_KIND_UNKNOWN"
}

// StatusCode mirrors the OTLP Status.StatusCode enum.
type StatusCode int32

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOk
	StatusCodeError
)

// Status is the outcome of a span.
type Status struct {
	Code    StatusCode `json:"code"`
	Message string     `json:"message,omitempty"`
}

// Timestamp is a point in time split into whole seconds and the nanosecond
// remainder within that second.
type Timestamp struct {
	Seconds int64
	Nanos   int64
}

// TimestampFromTime splits t into a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int64(t.Nanosecond())}
}

// TimestampFromUnixNano splits a nanosecond epoch value into a Timestamp.
func TimestampFromUnixNano(n uint64) Timestamp {
	return Timestamp{Seconds: int64(n / nanosPerSecond), Nanos: int64(n % nanosPerSecond)}
}

// Event is a named point-in-time annotation on a span.
type Event struct {
	Time                   Timestamp  `json:"time"`
	Name                   string     `json:"name"`
	Attributes             Attributes `json:"attributes,omitempty"`
	DroppedAttributesCount uint32     `json:"droppedAttributesCount,omitempty"`
}

// Link points from a span to another span, possibly in another trace.
type Link struct {
	TraceID                string     `json:"traceId"`
	SpanID                 string     `json:"spanId"`
	TraceState             string     `json:"traceState,omitempty"`
	Attributes             Attributes `json:"attributes,omitempty"`
	DroppedAttributesCount uint32     `json:"droppedAttributesCount,omitempty"`
}

// SpanRecord is one finished unit of work as handed over by the span producer.
// Trace and span identifiers are hex strings (32 and 16 characters).
type SpanRecord struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
	TraceState   string `json:"traceState,omitempty"`

	Name string   `json:"name"`
	Kind SpanKind `json:"kind,omitempty"`

	StartTime Timestamp `json:"startTime"`
	EndTime   Timestamp `json:"endTime"`

	Attributes Attributes `json:"attributes,omitempty"`
	Events     []Event    `json:"events,omitempty"`
	Links      []Link     `json:"links,omitempty"`

	// Status is nil when the producer recorded none.
	Status *Status `json:"status,omitempty"`

	DroppedAttributesCount uint32 `json:"droppedAttributesCount,omitempty"`
	DroppedEventsCount     uint32 `json:"droppedEventsCount,omitempty"`
	DroppedLinksCount      uint32 `json:"droppedLinksCount,omitempty"`
}

// IsRoot reports whether the span has no parent.
func (s SpanRecord) IsRoot() bool {
	return s.ParentSpanID == ""
}
