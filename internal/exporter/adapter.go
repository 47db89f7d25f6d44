package exporter

import (
	"time"

	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/zmzlois/browser-thing/internal/otlptrace"
)

// FromTraces flattens collector traces into span records, keeping span order.
// Resource and scope information is dropped; the converter stamps its own identity.
func FromTraces(td ptrace.Traces) []otlptrace.SpanRecord {
	records := make([]otlptrace.SpanRecord, 0, td.SpanCount())

	rss := td.ResourceSpans()
	for i := 0; i < rss.Len(); i++ {
		sss := rss.At(i).ScopeSpans()
		for j := 0; j < sss.Len(); j++ {
			spans := sss.At(j).Spans()
			for k := 0; k < spans.Len(); k++ {
				records = append(records, fromPdataSpan(spans.At(k)))
			}
		}
	}
	return records
}

func fromPdataSpan(span ptrace.Span) otlptrace.SpanRecord {
	record := otlptrace.SpanRecord{
		TraceID:                span.TraceID().String(),
		SpanID:                 span.SpanID().String(),
		ParentSpanID:           span.ParentSpanID().String(),
		TraceState:             span.TraceState().AsRaw(),
		Name:                   span.Name(),
		Kind:                   otlptrace.SpanKind(span.Kind()),
		StartTime:              otlptrace.TimestampFromUnixNano(uint64(span.StartTimestamp())),
		EndTime:                otlptrace.TimestampFromUnixNano(uint64(span.EndTimestamp())),
		Attributes:             fromPdataMap(span.Attributes()),
		DroppedAttributesCount: span.DroppedAttributesCount(),
		DroppedEventsCount:     span.DroppedEventsCount(),
		DroppedLinksCount:      span.DroppedLinksCount(),
		Status: &otlptrace.Status{
			Code:    otlptrace.StatusCode(span.Status().Code()),
			Message: span.Status().Message(),
		},
	}

	for i := 0; i < span.Events().Len(); i++ {
		event := span.Events().At(i)
		record.Events = append(record.Events, otlptrace.Event{
			Time:                   otlptrace.TimestampFromUnixNano(uint64(event.Timestamp())),
			Name:                   event.Name(),
			Attributes:             fromPdataMap(event.Attributes()),
			DroppedAttributesCount: event.DroppedAttributesCount(),
		})
	}

	for i := 0; i < span.Links().Len(); i++ {
		link := span.Links().At(i)
		record.Links = append(record.Links, otlptrace.Link{
			TraceID:                link.TraceID().String(),
			SpanID:                 link.SpanID().String(),
			TraceState:             link.TraceState().AsRaw(),
			Attributes:             fromPdataMap(link.Attributes()),
			DroppedAttributesCount: link.DroppedAttributesCount(),
		})
	}

	return record
}

func fromPdataMap(m pcommon.Map) otlptrace.Attributes {
	if m.Len() == 0 {
		return nil
	}
	attrs := make(otlptrace.Attributes, 0, m.Len())
	m.Range(func(k string, v pcommon.Value) bool {
		attrs = append(attrs, otlptrace.KeyValue{Key: k, Value: fromPdataValue(v)})
		return true
	})
	return attrs
}

func fromPdataValue(v pcommon.Value) otlptrace.Value {
	switch v.Type() {
	case pcommon.ValueTypeStr:
		return otlptrace.StringValue(v.Str())
	case pcommon.ValueTypeBool:
		return otlptrace.BoolValue(v.Bool())
	case pcommon.ValueTypeInt:
		return otlptrace.IntValue(v.Int())
	case pcommon.ValueTypeDouble:
		return otlptrace.DoubleValue(v.Double())
	case pcommon.ValueTypeBytes:
		return otlptrace.BytesValue(v.Bytes().AsRaw())
	case pcommon.ValueTypeSlice:
		s := v.Slice()
		values := make([]otlptrace.Value, 0, s.Len())
		for i := 0; i < s.Len(); i++ {
			values = append(values, fromPdataValue(s.At(i)))
		}
		return otlptrace.ArrayValue(values...)
	case pcommon.ValueTypeMap:
		return otlptrace.MapValue(fromPdataMap(v.Map())...)
	}
	return otlptrace.Value{}
}

// FromReadOnlySpans converts finished SDK spans into span records.
func FromReadOnlySpans(spans []sdktrace.ReadOnlySpan) []otlptrace.SpanRecord {
	records := make([]otlptrace.SpanRecord, 0, len(spans))
	for _, span := range spans {
		records = append(records, fromReadOnlySpan(span))
	}
	return records
}

func fromReadOnlySpan(span sdktrace.ReadOnlySpan) otlptrace.SpanRecord {
	sc := span.SpanContext()
	record := otlptrace.SpanRecord{
		TraceID:                sc.TraceID().String(),
		SpanID:                 sc.SpanID().String(),
		TraceState:             sc.TraceState().String(),
		Name:                   span.Name(),
		Kind:                   otlptrace.SpanKind(span.SpanKind()),
		StartTime:              timestampFromTime(span.StartTime()),
		EndTime:                timestampFromTime(span.EndTime()),
		Attributes:             fromAttributes(span.Attributes()),
		DroppedAttributesCount: uint32(span.DroppedAttributes()),
		DroppedEventsCount:     uint32(span.DroppedEvents()),
		DroppedLinksCount:      uint32(span.DroppedLinks()),
		Status:                 fromSDKStatus(span.Status()),
	}
	if parent := span.Parent(); parent.HasSpanID() {
		record.ParentSpanID = parent.SpanID().String()
	}

	for _, event := range span.Events() {
		record.Events = append(record.Events, otlptrace.Event{
			Time:                   timestampFromTime(event.Time),
			Name:                   event.Name,
			Attributes:             fromAttributes(event.Attributes),
			DroppedAttributesCount: uint32(event.DroppedAttributeCount),
		})
	}

	for _, link := range span.Links() {
		record.Links = append(record.Links, fromSDKLink(link.SpanContext, link.Attributes, link.DroppedAttributeCount))
	}

	return record
}

func fromSDKLink(sc trace.SpanContext, attrs []attribute.KeyValue, dropped int) otlptrace.Link {
	return otlptrace.Link{
		TraceID:                sc.TraceID().String(),
		SpanID:                 sc.SpanID().String(),
		TraceState:             sc.TraceState().String(),
		Attributes:             fromAttributes(attrs),
		DroppedAttributesCount: uint32(dropped),
	}
}

// fromSDKStatus maps SDK status codes, where Error=1 and Ok=2, onto the OTLP
// enum, where Ok=1 and Error=2.
func fromSDKStatus(status sdktrace.Status) *otlptrace.Status {
	code := otlptrace.StatusCodeUnset
	switch status.Code {
	case codes.Ok:
		code = otlptrace.StatusCodeOk
	case codes.Error:
		code = otlptrace.StatusCodeError
	}
	return &otlptrace.Status{Code: code, Message: status.Description}
}

func timestampFromTime(t time.Time) otlptrace.Timestamp {
	if t.IsZero() {
		return otlptrace.Timestamp{}
	}
	return otlptrace.TimestampFromTime(t)
}

func fromAttributes(kvs []attribute.KeyValue) otlptrace.Attributes {
	if len(kvs) == 0 {
		return nil
	}
	attrs := make(otlptrace.Attributes, 0, len(kvs))
	for _, kv := range kvs {
		attrs = append(attrs, otlptrace.KeyValue{Key: string(kv.Key), Value: fromAttributeValue(kv.Value)})
	}
	return attrs
}

func fromAttributeValue(v attribute.Value) otlptrace.Value {
	switch v.Type() {
	case attribute.BOOL:
		return otlptrace.BoolValue(v.AsBool())
	case attribute.INT64:
		return otlptrace.IntValue(v.AsInt64())
	case attribute.FLOAT64:
		return otlptrace.DoubleValue(v.AsFloat64())
	case attribute.STRING:
		return otlptrace.StringValue(v.AsString())
	case attribute.BOOLSLICE:
		values := make([]otlptrace.Value, 0)
		for _, b := range v.AsBoolSlice() {
			values = append(values, otlptrace.BoolValue(b))
		}
		return otlptrace.ArrayValue(values...)
	case attribute.INT64SLICE:
		values := make([]otlptrace.Value, 0)
		for _, n := range v.AsInt64Slice() {
			values = append(values, otlptrace.IntValue(n))
		}
		return otlptrace.ArrayValue(values...)
	case attribute.FLOAT64SLICE:
		values := make([]otlptrace.Value, 0)
		for _, f := range v.AsFloat64Slice() {
			values = append(values, otlptrace.DoubleValue(f))
		}
		return otlptrace.ArrayValue(values...)
	case attribute.STRINGSLICE:
		values := make([]otlptrace.Value, 0)
		for _, s := range v.AsStringSlice() {
			values = append(values, otlptrace.StringValue(s))
		}
		return otlptrace.ArrayValue(values...)
	}
	return otlptrace.Value{}
}
