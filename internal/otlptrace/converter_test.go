package otlptrace

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"

	"github.com/zmzlois/browser-thing/internal/wire"
)

func TestConvertSpansEndToEnd(t *testing.T) {
	c := newTestConverter(time.Now())

	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{newTestSpan()})
	require.NoError(t, err)
	require.NotEmpty(t, buf)

	req := decodeRequest(t, buf)
	require.Len(t, req.ResourceSpans, 1)
	rs := req.ResourceSpans[0]

	// Resource carries exactly the two identity attributes.
	require.Len(t, rs.Resource.Attributes, 2)
	assert.Equal(t, "service.name", rs.Resource.Attributes[0].Key)
	assert.Equal(t, DefaultServiceName, rs.Resource.Attributes[0].Value.GetStringValue())
	assert.Equal(t, "service.version", rs.Resource.Attributes[1].Key)
	assert.Equal(t, DefaultServiceVersion, rs.Resource.Attributes[1].Value.GetStringValue())

	require.Len(t, rs.ScopeSpans, 1)
	ss := rs.ScopeSpans[0]
	assert.Equal(t, DefaultScopeName, ss.Scope.Name)
	assert.Equal(t, DefaultScopeVersion, ss.Scope.Version)

	require.Len(t, ss.Spans, 1)
	span := ss.Spans[0]
	assert.Equal(t, wire.HexToBytes(testTraceID), span.TraceId)
	assert.Len(t, span.TraceId, 16)
	assert.Equal(t, []byte{0xd1, 0x48, 0x46, 0xa7, 0xe9, 0xa1, 0x43, 0x09}, span.SpanId)
	assert.Empty(t, span.ParentSpanId)
	assert.Equal(t, "test-operation", span.Name)
	assert.Equal(t, tracepb.Span_SPAN_KIND_INTERNAL, span.Kind)
	assert.Equal(t, uint64(1678886400000000000), span.StartTimeUnixNano)
	assert.Equal(t, uint64(1678886400100000000), span.EndTimeUnixNano)

	require.Len(t, span.Attributes, 2)
	assert.Equal(t, "service.name", span.Attributes[0].Key)
	assert.Equal(t, &commonpb.AnyValue_StringValue{StringValue: "test-service"}, span.Attributes[0].Value.Value)
	assert.Equal(t, "user.id", span.Attributes[1].Key)
	assert.Equal(t, &commonpb.AnyValue_IntValue{IntValue: 456}, span.Attributes[1].Value.Value)

	assert.Empty(t, span.Events)
	assert.Empty(t, span.Links)
	require.NotNil(t, span.Status)
	assert.Equal(t, tracepb.Status_STATUS_CODE_OK, span.Status.Code)
	assert.Equal(t, "OK", span.Status.Message)
}

func TestConvertSpansDecodesWithPdata(t *testing.T) {
	c := newTestConverter(time.Now())
	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{newTestSpan()})
	require.NoError(t, err)

	req := ptraceotlp.NewExportRequest()
	require.NoError(t, req.UnmarshalProto(buf))

	traces := req.Traces()
	require.Equal(t, 1, traces.SpanCount())
	span := traces.ResourceSpans().At(0).ScopeSpans().At(0).Spans().At(0)
	assert.Equal(t, testTraceID, span.TraceID().String())
	assert.Equal(t, testSpanID, span.SpanID().String())
	assert.Equal(t, ptrace.SpanKindInternal, span.Kind())
	assert.Equal(t, ptrace.StatusCodeOk, span.Status().Code())

	userID, ok := span.Attributes().Get("user.id")
	require.True(t, ok)
	assert.Equal(t, int64(456), userID.Int())
}

func TestConvertSpanFieldOrder(t *testing.T) {
	span := newTestSpan()
	span.ParentSpanID = "0102030405060708"
	span.TraceState = "vendor=value"
	span.Events = []Event{{Time: Timestamp{Seconds: 1}, Name: "e"}}
	span.Links = []Link{{TraceID: testTraceID, SpanID: testSpanID}}
	span.DroppedAttributesCount = 1
	span.DroppedEventsCount = 2
	span.DroppedLinksCount = 3

	encoded, err := newTestConverter(time.Now()).convertSpan(span)
	require.NoError(t, err)

	var numbers []protowire.Number
	for len(encoded) > 0 {
		num, typ, n := protowire.ConsumeTag(encoded)
		require.Greater(t, n, 0)
		encoded = encoded[n:]
		m := protowire.ConsumeFieldValue(num, typ, encoded)
		require.GreaterOrEqual(t, m, 0)
		encoded = encoded[m:]
		numbers = append(numbers, num)
	}

	assert.Equal(t, []protowire.Number{1, 2, 3, 4, 5, 6, 7, 8, 9, 9, 10, 11, 12, 13, 14, 15}, numbers)
}

func TestConvertSpanOptionalFields(t *testing.T) {
	c := newTestConverter(time.Now())

	span := newTestSpan()
	span.ParentSpanID = "0102030405060708"
	span.TraceState = "vendor=value"
	span.DroppedAttributesCount = 4
	span.Events = []Event{{
		Time:                   Timestamp{Seconds: 1678886400, Nanos: 50},
		Name:                   "exception",
		Attributes:             Attributes{String("exception.type", "io")},
		DroppedAttributesCount: 1,
	}}
	span.Links = []Link{{
		TraceID:                "0af7651916cd43dd8448eb211c80319c",
		SpanID:                 "b7ad6b7169203331",
		TraceState:             "a=b",
		Attributes:             Attributes{Bool("sampled", true)},
		DroppedAttributesCount: 2,
	}}

	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{span})
	require.NoError(t, err)
	spans := decodeSpans(t, buf)
	require.Len(t, spans, 1)
	got := spans[0]

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, got.ParentSpanId)
	assert.Equal(t, "vendor=value", got.TraceState)
	assert.Equal(t, uint32(4), got.DroppedAttributesCount)

	require.Len(t, got.Events, 1)
	assert.Equal(t, uint64(1678886400000000050), got.Events[0].TimeUnixNano)
	assert.Equal(t, "exception", got.Events[0].Name)
	assert.Equal(t, "io", got.Events[0].Attributes[0].Value.GetStringValue())
	assert.Equal(t, uint32(1), got.Events[0].DroppedAttributesCount)

	require.Len(t, got.Links, 1)
	assert.Equal(t, wire.HexToBytes("0af7651916cd43dd8448eb211c80319c"), got.Links[0].TraceId)
	assert.Equal(t, wire.HexToBytes("b7ad6b7169203331"), got.Links[0].SpanId)
	assert.Equal(t, "a=b", got.Links[0].TraceState)
	assert.True(t, got.Links[0].Attributes[0].Value.GetBoolValue())
	assert.Equal(t, uint32(2), got.Links[0].DroppedAttributesCount)
}

func TestConvertSpanDefaults(t *testing.T) {
	c := newTestConverter(time.Now())

	span := newTestSpan()
	span.Kind = SpanKindUnspecified
	span.Status = nil

	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{span})
	require.NoError(t, err)
	got := decodeSpans(t, buf)[0]

	assert.Equal(t, tracepb.Span_SPAN_KIND_INTERNAL, got.Kind, "absent kind defaults to internal")
	require.NotNil(t, got.Status, "status is always encoded")
	assert.Equal(t, tracepb.Status_STATUS_CODE_UNSET, got.Status.Code, "absent status defaults to unset")
	assert.Empty(t, got.Status.Message)
}

func TestConvertSpanKinds(t *testing.T) {
	c := newTestConverter(time.Now())
	kinds := []SpanKind{SpanKindInternal, SpanKindServer, SpanKindClient, SpanKindProducer, SpanKindConsumer}

	spans := make([]SpanRecord, 0, len(kinds))
	for _, k := range kinds {
		span := newTestSpan()
		span.Kind = k
		spans = append(spans, span)
	}

	buf, err := c.ConvertSpansToProtobuf(spans)
	require.NoError(t, err)
	decoded := decodeSpans(t, buf)
	require.Len(t, decoded, len(kinds))
	for i, k := range kinds {
		assert.Equal(t, tracepb.Span_SpanKind(k), decoded[i].Kind, k.String())
	}
}

func TestNegativeTimestampUsesCurrentTime(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := NewConverter(DefaultIdentity(), false, zap.New(core))

	span := newTestSpan()
	span.StartTime = Timestamp{Seconds: -1, Nanos: 0}

	before := time.Now()
	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{span})
	require.NoError(t, err)
	after := time.Now()

	got := decodeSpans(t, buf)[0]
	start := time.Unix(0, int64(got.StartTimeUnixNano))
	assert.False(t, start.Before(before.Add(-time.Second)))
	assert.False(t, start.After(after.Add(time.Second)))
	assert.WithinDuration(t, time.Now(), start, time.Second)
	assert.Equal(t, uint64(1678886400100000000), got.EndTimeUnixNano, "valid end time is untouched")

	assert.Equal(t, 1, logs.FilterMessage("Invalid timestamp, using current time").Len())
}

func TestConvertTimeToNano(t *testing.T) {
	now := time.Unix(1700000000, 42)
	c := newTestConverter(now)
	log := zap.NewNop()
	fallback := uint64(now.UnixNano())

	assert.Equal(t, uint64(0), c.convertTimeToNano(Timestamp{}, "t", log))
	assert.Equal(t, uint64(1678886400100000000), c.convertTimeToNano(Timestamp{Seconds: 1678886400, Nanos: 100000000}, "t", log))
	// A negative remainder is fine as long as the total is not negative.
	assert.Equal(t, uint64(4999999999), c.convertTimeToNano(Timestamp{Seconds: 5, Nanos: -1}, "t", log))

	assert.Equal(t, fallback, c.convertTimeToNano(Timestamp{Seconds: -1}, "t", log))
	assert.Equal(t, fallback, c.convertTimeToNano(Timestamp{Seconds: 0, Nanos: -1}, "t", log))
	assert.Equal(t, fallback, c.convertTimeToNano(Timestamp{Seconds: math.MaxInt64}, "t", log))
	assert.Equal(t, fallback, c.convertTimeToNano(Timestamp{Seconds: maxUnixSeconds, Nanos: math.MaxInt64}, "t", log))
	assert.Equal(t, fallback, c.convertTimeToNano(Timestamp{Seconds: -maxUnixSeconds, Nanos: math.MinInt64}, "t", log))
}

func TestEncodeAnyValueSetsExactlyOneBranch(t *testing.T) {
	values := map[string]Value{
		"empty":  {},
		"string": StringValue("s"),
		"bool":   BoolValue(false),
		"int":    IntValue(-456),
		"double": DoubleValue(3.25),
		"array":  ArrayValue(StringValue("a"), IntValue(1), ArrayValue()),
		"map":    MapValue(String("k", "v"), KeyValue{Key: "nested", Value: MapValue()}),
		"bytes":  BytesValue([]byte{0xde, 0xad}),
	}

	for name, v := range values {
		t.Run(name, func(t *testing.T) {
			encoded, err := encodeAnyValue(v)
			require.NoError(t, err)

			fields := 0
			rest := encoded
			for len(rest) > 0 {
				num, typ, n := protowire.ConsumeTag(rest)
				require.Greater(t, n, 0)
				rest = rest[n:]
				m := protowire.ConsumeFieldValue(num, typ, rest)
				require.GreaterOrEqual(t, m, 0)
				rest = rest[m:]
				fields++
			}
			assert.Equal(t, 1, fields, "AnyValue must carry exactly one field")

			decoded := &commonpb.AnyValue{}
			require.NoError(t, proto.Unmarshal(encoded, decoded))
			require.NotNil(t, decoded.Value, "oneof branch must be populated")
		})
	}
}

func TestEncodeAnyValueBranches(t *testing.T) {
	decode := func(v Value) *commonpb.AnyValue {
		encoded, err := encodeAnyValue(v)
		require.NoError(t, err)
		decoded := &commonpb.AnyValue{}
		require.NoError(t, proto.Unmarshal(encoded, decoded))
		return decoded
	}

	assert.Equal(t, &commonpb.AnyValue_StringValue{StringValue: ""}, decode(Value{}).Value)
	assert.Equal(t, &commonpb.AnyValue_StringValue{StringValue: "x"}, decode(StringValue("x")).Value)
	assert.Equal(t, &commonpb.AnyValue_BoolValue{BoolValue: true}, decode(BoolValue(true)).Value)
	assert.Equal(t, &commonpb.AnyValue_BoolValue{BoolValue: false}, decode(BoolValue(false)).Value)
	assert.Equal(t, &commonpb.AnyValue_IntValue{IntValue: math.MinInt64}, decode(IntValue(math.MinInt64)).Value)
	assert.Equal(t, &commonpb.AnyValue_IntValue{IntValue: -1}, decode(IntValue(-1)).Value)
	assert.Equal(t, &commonpb.AnyValue_DoubleValue{DoubleValue: 0.5}, decode(DoubleValue(0.5)).Value)
	assert.Equal(t, &commonpb.AnyValue_BytesValue{BytesValue: []byte{1, 2}}, decode(BytesValue([]byte{1, 2})).Value)

	arr := decode(ArrayValue(IntValue(1), StringValue("two"))).GetArrayValue()
	require.NotNil(t, arr)
	require.Len(t, arr.Values, 2)
	assert.Equal(t, int64(1), arr.Values[0].GetIntValue())
	assert.Equal(t, "two", arr.Values[1].GetStringValue())

	kv := decode(MapValue(Double("pi", 3.14), KeyValue{Key: "inner", Value: ArrayValue(BoolValue(true))})).GetKvlistValue()
	require.NotNil(t, kv)
	require.Len(t, kv.Values, 2)
	assert.Equal(t, "pi", kv.Values[0].Key)
	assert.Equal(t, 3.14, kv.Values[0].Value.GetDoubleValue())
	assert.Equal(t, "inner", kv.Values[1].Key)
	assert.True(t, kv.Values[1].Value.GetArrayValue().Values[0].GetBoolValue())
}

func TestEncodeAnyValueRejectsUnknownType(t *testing.T) {
	_, err := encodeAnyValue(Value{typ: ValueType(99)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))

	// The whole batch fails and no buffer is returned.
	span := newTestSpan()
	span.Attributes = append(span.Attributes, KeyValue{Key: "bad", Value: ArrayValue(Value{typ: ValueType(99)})})
	buf, err := newTestConverter(time.Now()).ConvertSpansToProtobuf([]SpanRecord{newTestSpan(), span})
	require.ErrorIs(t, err, ErrInvalidValue)
	assert.Nil(t, buf)
}

func TestDuplicateAttributeKeysPassThrough(t *testing.T) {
	span := newTestSpan()
	span.Attributes = Attributes{String("k", "a"), String("k", "b")}

	buf, err := newTestConverter(time.Now()).ConvertSpansToProtobuf([]SpanRecord{span})
	require.NoError(t, err)

	attrs := decodeSpans(t, buf)[0].Attributes
	require.Len(t, attrs, 2)
	assert.Equal(t, "a", attrs[0].Value.GetStringValue())
	assert.Equal(t, "b", attrs[1].Value.GetStringValue())
}

func TestHexIDLengthLenient(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := NewConverter(DefaultIdentity(), false, zap.New(core))

	span := newTestSpan()
	span.SpanID = "d14846a7e9"

	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{span})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xd1, 0x48, 0x46, 0xa7, 0xe9}, decodeSpans(t, buf)[0].SpanId)

	warnings := logs.FilterMessage("Unexpected hex ID length").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "span_id", warnings[0].ContextMap()["field"])
	assert.Equal(t, int64(10), warnings[0].ContextMap()["hex_length"])
}

func TestHexIDLengthStrict(t *testing.T) {
	c := NewConverter(DefaultIdentity(), true, zap.NewNop())

	span := newTestSpan()
	span.TraceID = "abcd"
	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{span})
	require.ErrorIs(t, err, ErrInvalidID)
	assert.Nil(t, buf)

	span = newTestSpan()
	span.Links = []Link{{TraceID: testTraceID, SpanID: "01"}}
	_, err = c.ConvertSpansToProtobuf([]SpanRecord{span})
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = c.ConvertSpansToProtobuf([]SpanRecord{newTestSpan()})
	require.NoError(t, err)
}

func TestMissingFieldsAreWarnedAndEncoded(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := NewConverter(DefaultIdentity(), false, zap.New(core))

	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{{}})
	require.NoError(t, err)

	spans := decodeSpans(t, buf)
	require.Len(t, spans, 1, "defective spans are never dropped")
	assert.Empty(t, spans[0].TraceId)
	assert.Empty(t, spans[0].Name)

	assert.Equal(t, 1, logs.FilterMessage("Span has no name").Len())
	assert.Equal(t, 2, logs.FilterMessage("Span is missing an identifier").Len())
}

func TestBatchIndependence(t *testing.T) {
	c := newTestConverter(time.Now())

	const n = 5
	spans := make([]SpanRecord, n)
	for i := range spans {
		spans[i] = newTestSpan()
		spans[i].Name = fmt.Sprintf("span-%d", i)
		spans[i].SpanID = fmt.Sprintf("%016x", i+1)
	}

	buf, err := c.ConvertSpansToProtobuf(spans)
	require.NoError(t, err)
	original := decodeSpans(t, buf)
	require.Len(t, original, n)
	for i, s := range original {
		assert.Equal(t, fmt.Sprintf("span-%d", i), s.Name, "spans keep input order")
	}

	changed := append([]SpanRecord(nil), spans...)
	changed[2].Name = "renamed-with-a-much-longer-name"
	buf, err = c.ConvertSpansToProtobuf(changed)
	require.NoError(t, err)
	modified := decodeSpans(t, buf)
	require.Len(t, modified, n)

	for i := range original {
		if i == 2 {
			assert.False(t, proto.Equal(original[i], modified[i]))
			continue
		}
		assert.True(t, proto.Equal(original[i], modified[i]), "span %d must not change", i)

		before, err := c.convertSpan(spans[i])
		require.NoError(t, err)
		after, err := c.convertSpan(changed[i])
		require.NoError(t, err)
		assert.Equal(t, before, after)
	}
}

func TestEmptyBatch(t *testing.T) {
	buf, err := newTestConverter(time.Now()).ConvertSpansToProtobuf(nil)
	require.NoError(t, err)

	req := decodeRequest(t, buf)
	require.Len(t, req.ResourceSpans, 1)
	require.Len(t, req.ResourceSpans[0].ScopeSpans, 1)
	assert.Empty(t, req.ResourceSpans[0].ScopeSpans[0].Spans)
}

func TestCustomIdentity(t *testing.T) {
	c := NewConverter(Identity{
		ServiceName:    "svc",
		ServiceVersion: "2.0.0",
		ScopeName:      "scope",
		ScopeVersion:   "0.1.0",
	}, false, nil)

	buf, err := c.ConvertSpansToProtobuf([]SpanRecord{newTestSpan()})
	require.NoError(t, err)

	rs := decodeRequest(t, buf).ResourceSpans[0]
	assert.Equal(t, "svc", rs.Resource.Attributes[0].Value.GetStringValue())
	assert.Equal(t, "2.0.0", rs.Resource.Attributes[1].Value.GetStringValue())
	assert.Equal(t, "scope", rs.ScopeSpans[0].Scope.Name)
	assert.Equal(t, "0.1.0", rs.ScopeSpans[0].Scope.Version)
}

func TestConcurrentConversion(t *testing.T) {
	c := newTestConverter(time.Now())
	expected, err := c.ConvertSpansToProtobuf([]SpanRecord{newTestSpan()})
	require.NoError(t, err)

	var g errgroup.Group
	results := make([][]byte, 32)
	for i := range results {
		i := i
		g.Go(func() error {
			buf, err := c.ConvertSpansToProtobuf([]SpanRecord{newTestSpan()})
			results[i] = buf
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, buf := range results {
		assert.Equal(t, expected, buf)
	}
}
