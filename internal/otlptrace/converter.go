package otlptrace

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/zmzlois/browser-thing/internal/wire"
)

const (
	nanosPerSecond = 1_000_000_000

	// maxUnixSeconds keeps seconds*nanosPerSecond inside int64.
	maxUnixSeconds = math.MaxInt64 / nanosPerSecond

	traceIDSize = 16
	spanIDSize  = 8
)

// Identity defaults for the exporting process and its instrumentation scope.
const (
	DefaultServiceName    = "frontline_mcp"
	DefaultServiceVersion = "1.0.0"
	DefaultScopeName      = "github.com/zmzlois/browser-thing/otel"
	DefaultScopeVersion   = "1.0.0"
)

var (
	// ErrInvalidValue is returned for an attribute value that fits no AnyValue branch.
	ErrInvalidValue = errors.New("invalid attribute value")

	// ErrInvalidID is returned in strict mode for a hex identifier of the wrong length.
	ErrInvalidID = errors.New("invalid hex identifier")
)

// Identity names the process (resource) and the instrumentation scope every
// exported span is attributed to.
type Identity struct {
	ServiceName    string
	ServiceVersion string
	ScopeName      string
	ScopeVersion   string
}

// DefaultIdentity returns the compiled-in identity.
func DefaultIdentity() Identity {
	return Identity{
		ServiceName:    DefaultServiceName,
		ServiceVersion: DefaultServiceVersion,
		ScopeName:      DefaultScopeName,
		ScopeVersion:   DefaultScopeVersion,
	}
}

// Converter encodes span records into OTLP ExportTraceServiceRequest messages.
// It holds no mutable state and may be shared between goroutines.
type Converter struct {
	identity  Identity
	strictIDs bool
	logger    *zap.Logger
	now       func() time.Time
}

// NewConverter creates a Converter. With strictIDs set, a trace or span ID that
// does not decode to exactly 16 or 8 bytes fails the batch; otherwise it is logged
// and encoded as decoded.
func NewConverter(identity Identity, strictIDs bool, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		identity:  identity,
		strictIDs: strictIDs,
		logger:    logger,
		now:       time.Now,
	}
}

// ConvertSpansToProtobuf encodes spans, in order, into a single
// ExportTraceServiceRequest with one ResourceSpans holding one ScopeSpans.
// Either the whole batch is encoded or an error is returned with no buffer.
func (c *Converter) ConvertSpansToProtobuf(spans []SpanRecord) ([]byte, error) {
	var scopeSpans wire.Message
	scopeSpans.Add(wire.EncodeMessageField(scopeSpansScope, c.encodeScope()))

	for i := range spans {
		span, err := c.convertSpan(spans[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert span %d (%q): %w", i, spans[i].Name, err)
		}
		scopeSpans.Add(wire.EncodeMessageField(scopeSpansSpans, span))
	}

	resource, err := c.encodeResource()
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}

	resourceSpans := wire.EncodeMessage(
		wire.EncodeMessageField(resourceSpansResource, resource),
		wire.EncodeMessageField(resourceSpansScopeSpans, scopeSpans.Bytes()),
	)

	return wire.EncodeMessage(wire.EncodeMessageField(requestResourceSpans, resourceSpans)), nil
}

// encodeResource builds the Resource message with service.name and service.version.
func (c *Converter) encodeResource() ([]byte, error) {
	fields, err := c.encodeAttributes(resourceAttributes, Attributes{
		String("service.name", c.identity.ServiceName),
		String("service.version", c.identity.ServiceVersion),
	})
	if err != nil {
		return nil, err
	}
	return wire.EncodeMessage(fields...), nil
}

func (c *Converter) encodeScope() []byte {
	return wire.EncodeMessage(
		wire.StringField(scopeName, c.identity.ScopeName),
		wire.StringField(scopeVersion, c.identity.ScopeVersion),
	)
}

// convertSpan encodes one Span message in increasing field-number order.
func (c *Converter) convertSpan(span SpanRecord) ([]byte, error) {
	log := c.logger.With(zap.String("span_name", span.Name), zap.String("span_id", span.SpanID))

	if span.Name == "" {
		log.Warn("Span has no name")
	}

	traceID, err := c.decodeID(span.TraceID, traceIDSize, "trace_id", log)
	if err != nil {
		return nil, err
	}
	spanID, err := c.decodeID(span.SpanID, spanIDSize, "span_id", log)
	if err != nil {
		return nil, err
	}

	var m wire.Message
	m.Add(wire.BytesField(spanTraceID, traceID))
	m.Add(wire.BytesField(spanSpanID, spanID))

	if span.TraceState != "" {
		m.Add(wire.StringField(spanTraceState, span.TraceState))
	}

	if !span.IsRoot() {
		parentID, err := c.decodeID(span.ParentSpanID, spanIDSize, "parent_span_id", log)
		if err != nil {
			return nil, err
		}
		m.Add(wire.BytesField(spanParentSpanID, parentID))
	}

	m.Add(wire.StringField(spanName, span.Name))
	m.Add(wire.EncodeField(spanKind, wire.WireVarint, wire.EncodeInt64(int64(c.spanKind(span.Kind, log)))))
	m.Add(wire.Fixed64Field(spanStartTimeUnixNano, c.convertTimeToNano(span.StartTime, "start_time", log)))
	m.Add(wire.Fixed64Field(spanEndTimeUnixNano, c.convertTimeToNano(span.EndTime, "end_time", log)))

	attrs, err := c.encodeAttributes(spanAttributes, span.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	for _, a := range attrs {
		m.Add(a)
	}

	if span.DroppedAttributesCount > 0 {
		m.Add(wire.VarintField(spanDroppedAttributesCount, uint64(span.DroppedAttributesCount)))
	}

	for i, event := range span.Events {
		encoded, err := c.encodeEvent(event, log)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event %d: %w", i, err)
		}
		m.Add(wire.EncodeMessageField(spanEvents, encoded))
	}

	if span.DroppedEventsCount > 0 {
		m.Add(wire.VarintField(spanDroppedEventsCount, uint64(span.DroppedEventsCount)))
	}

	for i, link := range span.Links {
		encoded, err := c.encodeLink(link, log)
		if err != nil {
			return nil, fmt.Errorf("failed to encode link %d: %w", i, err)
		}
		m.Add(wire.EncodeMessageField(spanLinks, encoded))
	}

	if span.DroppedLinksCount > 0 {
		m.Add(wire.VarintField(spanDroppedLinksCount, uint64(span.DroppedLinksCount)))
	}

	m.Add(wire.EncodeMessageField(spanStatus, c.encodeStatus(span.Status, log)))

	return m.Bytes(), nil
}

func (c *Converter) spanKind(kind SpanKind, log *zap.Logger) SpanKind {
	switch {
	case kind == SpanKindUnspecified:
		return SpanKindInternal
	case kind < SpanKindUnspecified || kind > SpanKindConsumer:
		log.Warn("Unknown span kind, encoding as-is", zap.Int32("kind", int32(kind)))
	}
	return kind
}

// decodeID converts a hex identifier and checks it decoded to want bytes.
func (c *Converter) decodeID(hex string, want int, field string, log *zap.Logger) ([]byte, error) {
	id := wire.HexToBytes(hex)
	if len(id) == want {
		return id, nil
	}

	if c.strictIDs {
		return nil, fmt.Errorf("%w: %s %q decodes to %d bytes, expected %d", ErrInvalidID, field, hex, len(id), want)
	}

	if hex == "" {
		log.Warn("Span is missing an identifier", zap.String("field", field))
	} else {
		log.Warn("Unexpected hex ID length",
			zap.String("field", field),
			zap.Int("hex_length", len(wire.CleanHex(hex))),
			zap.Int("expected_hex_length", want*2))
	}
	return id, nil
}

// convertTimeToNano combines a [seconds, nanos] pair into a nanosecond epoch value.
// Pairs that do not produce a non-negative int64 are replaced by the current time.
func (c *Converter) convertTimeToNano(ts Timestamp, field string, log *zap.Logger) uint64 {
	if total, ok := unixNano(ts); ok {
		return total
	}

	now := c.now().UnixNano()
	log.Warn("Invalid timestamp, using current time",
		zap.String("field", field),
		zap.Int64("seconds", ts.Seconds),
		zap.Int64("nanos", ts.Nanos))
	return uint64(now)
}

func unixNano(ts Timestamp) (uint64, bool) {
	if ts.Seconds > maxUnixSeconds || ts.Seconds < -maxUnixSeconds {
		return 0, false
	}

	total := ts.Seconds * nanosPerSecond
	if ts.Nanos > 0 && total > math.MaxInt64-ts.Nanos {
		return 0, false
	}
	if ts.Nanos < 0 && total < math.MinInt64-ts.Nanos {
		return 0, false
	}
	total += ts.Nanos
	if total < 0 {
		return 0, false
	}
	return uint64(total), true
}

// encodeStatus builds the Status message. A missing status is UNSET.
func (c *Converter) encodeStatus(status *Status, log *zap.Logger) []byte {
	code, message := StatusCodeUnset, ""
	if status != nil {
		code, message = status.Code, status.Message
	}
	if code < StatusCodeUnset || code > StatusCodeError {
		log.Warn("Unknown status code, encoding as-is", zap.Int32("code", int32(code)))
	}

	return wire.EncodeMessage(
		wire.EncodeField(statusCode, wire.WireVarint, wire.EncodeInt64(int64(code))),
		wire.StringField(statusMessage, message),
	)
}

func (c *Converter) encodeEvent(event Event, log *zap.Logger) ([]byte, error) {
	var m wire.Message
	m.Add(wire.Fixed64Field(eventTimeUnixNano, c.convertTimeToNano(event.Time, "event_time", log)))
	m.Add(wire.StringField(eventName, event.Name))

	attrs, err := c.encodeAttributes(eventAttributes, event.Attributes)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		m.Add(a)
	}

	if event.DroppedAttributesCount > 0 {
		m.Add(wire.VarintField(eventDroppedAttributesCount, uint64(event.DroppedAttributesCount)))
	}
	return m.Bytes(), nil
}

func (c *Converter) encodeLink(link Link, log *zap.Logger) ([]byte, error) {
	traceID, err := c.decodeID(link.TraceID, traceIDSize, "link.trace_id", log)
	if err != nil {
		return nil, err
	}
	spanID, err := c.decodeID(link.SpanID, spanIDSize, "link.span_id", log)
	if err != nil {
		return nil, err
	}

	var m wire.Message
	m.Add(wire.BytesField(linkTraceID, traceID))
	m.Add(wire.BytesField(linkSpanID, spanID))
	if link.TraceState != "" {
		m.Add(wire.StringField(linkTraceState, link.TraceState))
	}

	attrs, err := c.encodeAttributes(linkAttributes, link.Attributes)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		m.Add(a)
	}

	if link.DroppedAttributesCount > 0 {
		m.Add(wire.VarintField(linkDroppedAttributesCount, uint64(link.DroppedAttributesCount)))
	}
	return m.Bytes(), nil
}

// encodeAttributes encodes each attribute as a repeated KeyValue field.
func (c *Converter) encodeAttributes(fieldNumber uint32, attrs Attributes) ([][]byte, error) {
	fields := make([][]byte, 0, len(attrs))
	for _, kv := range attrs {
		encoded, err := encodeKeyValue(kv.Key, kv.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", kv.Key, err)
		}
		fields = append(fields, wire.EncodeMessageField(fieldNumber, encoded))
	}
	return fields, nil
}

// encodeKeyValue builds a KeyValue message.
func encodeKeyValue(key string, value Value) ([]byte, error) {
	anyValue, err := encodeAnyValue(value)
	if err != nil {
		return nil, err
	}
	return wire.EncodeMessage(
		wire.StringField(keyValueKey, key),
		wire.EncodeMessageField(keyValueValue, anyValue),
	), nil
}

// encodeAnyValue builds an AnyValue message with exactly one oneof branch set.
func encodeAnyValue(value Value) ([]byte, error) {
	switch value.Type() {
	case ValueTypeEmpty:
		return wire.StringField(anyValueString, ""), nil
	case ValueTypeString:
		return wire.StringField(anyValueString, value.str), nil
	case ValueTypeBool:
		return wire.EncodeField(anyValueBool, wire.WireVarint, wire.EncodeBool(value.Bool())), nil
	case ValueTypeInt:
		return wire.EncodeField(anyValueInt, wire.WireVarint, wire.EncodeInt64(value.num)), nil
	case ValueTypeDouble:
		return wire.DoubleField(anyValueDouble, value.dbl), nil
	case ValueTypeArray:
		fields := make([][]byte, 0, len(value.arr))
		for i, elem := range value.arr {
			encoded, err := encodeAnyValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %w", i, err)
			}
			fields = append(fields, wire.EncodeMessageField(listValues, encoded))
		}
		return wire.EncodeMessageField(anyValueArray, wire.EncodeMessage(fields...)), nil
	case ValueTypeMap:
		fields := make([][]byte, 0, len(value.kvs))
		for _, kv := range value.kvs {
			encoded, err := encodeKeyValue(kv.Key, kv.Value)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", kv.Key, err)
			}
			fields = append(fields, wire.EncodeMessageField(listValues, encoded))
		}
		return wire.EncodeMessageField(anyValueKvlist, wire.EncodeMessage(fields...)), nil
	case ValueTypeBytes:
		return wire.BytesField(anyValueBytes, value.raw), nil
	}
	return nil, fmt.Errorf("%w: unsupported type %s", ErrInvalidValue, value.Type())
}
