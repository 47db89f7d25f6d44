package otlptrace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const (
	testTraceID = "9f5d394f93e8e3ca1a5e3c2d9310d035"
	testSpanID  = "d14846a7e9a14309"
)

// newTestSpan returns the reference span used across the encoder tests.
func newTestSpan() SpanRecord {
	return SpanRecord{
		TraceID:   testTraceID,
		SpanID:    testSpanID,
		Name:      "test-operation",
		Kind:      SpanKindInternal,
		StartTime: Timestamp{Seconds: 1678886400, Nanos: 0},
		EndTime:   Timestamp{Seconds: 1678886400, Nanos: 100000000},
		Attributes: Attributes{
			String("service.name", "test-service"),
			Int("user.id", 456),
		},
		Status: &Status{Code: StatusCodeOk, Message: "OK"},
	}
}

// newTestConverter returns a converter with the default identity and a fixed clock.
func newTestConverter(now time.Time) *Converter {
	c := NewConverter(DefaultIdentity(), false, zap.NewNop())
	c.now = func() time.Time { return now }
	return c
}

// decodeRequest parses buf with the generated OTLP types.
func decodeRequest(t *testing.T, buf []byte) *coltracepb.ExportTraceServiceRequest {
	t.Helper()
	req := &coltracepb.ExportTraceServiceRequest{}
	require.NoError(t, proto.Unmarshal(buf, req))
	return req
}

// decodeSpans returns the spans of the only ScopeSpans in buf.
func decodeSpans(t *testing.T, buf []byte) []*tracepb.Span {
	t.Helper()
	req := decodeRequest(t, buf)
	require.Len(t, req.ResourceSpans, 1)
	require.Len(t, req.ResourceSpans[0].ScopeSpans, 1)
	return req.ResourceSpans[0].ScopeSpans[0].Spans
}
