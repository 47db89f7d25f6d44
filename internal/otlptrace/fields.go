package otlptrace

// Field numbers from opentelemetry-proto collector/trace/v1, trace/v1, common/v1
// and resource/v1.
const (
	// ExportTraceServiceRequest
	requestResourceSpans = 1

	// ResourceSpans
	resourceSpansResource   = 1
	resourceSpansScopeSpans = 2

	// Resource
	resourceAttributes = 1

	// ScopeSpans
	scopeSpansScope = 1
	scopeSpansSpans = 2

	// InstrumentationScope
	scopeName    = 1
	scopeVersion = 2

	// Span
	spanTraceID                = 1
	spanSpanID                 = 2
	spanTraceState             = 3
	spanParentSpanID           = 4
	spanName                   = 5
	spanKind                   = 6
	spanStartTimeUnixNano      = 7
	spanEndTimeUnixNano        = 8
	spanAttributes             = 9
	spanDroppedAttributesCount = 10
	spanEvents                 = 11
	spanDroppedEventsCount     = 12
	spanLinks                  = 13
	spanDroppedLinksCount      = 14
	spanStatus                 = 15

	// Span.Event
	eventTimeUnixNano           = 1
	eventName                   = 2
	eventAttributes             = 3
	eventDroppedAttributesCount = 4

	// Span.Link
	linkTraceID                = 1
	linkSpanID                 = 2
	linkTraceState             = 3
	linkAttributes             = 4
	linkDroppedAttributesCount = 5

	// Status
	statusCode    = 2
	statusMessage = 3

	// KeyValue
	keyValueKey   = 1
	keyValueValue = 2

	// AnyValue oneof
	anyValueString = 1
	anyValueBool   = 2
	anyValueInt    = 3
	anyValueDouble = 4
	anyValueArray  = 5
	anyValueKvlist = 6
	anyValueBytes  = 7

	// ArrayValue and KeyValueList
	listValues = 1
)
