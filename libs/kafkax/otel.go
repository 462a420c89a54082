package kafkax

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/md-rashed-zaman/coachbook/libs/kafkax"

// Headers adapts a message's headers to the otel carrier interface. Set
// replaces an existing key instead of appending a second one.
type Headers struct {
	List []kafka.Header
}

var _ propagation.TextMapCarrier = (*Headers)(nil)

func (h *Headers) Get(key string) string {
	return HeaderValue(h.List, key)
}

func (h *Headers) Set(key, value string) {
	for i := range h.List {
		if h.List[i].Key == key {
			h.List[i].Value = []byte(value)
			return
		}
	}
	h.List = append(h.List, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *Headers) Keys() []string {
	keys := make([]string, len(h.List))
	for i, hdr := range h.List {
		keys[i] = hdr.Key
	}
	return keys
}

// InjectTraceHeaders returns headers with the trace context of ctx added.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &Headers{List: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.List
}

// ExtractTraceContext returns ctx with the producer's trace context from msg.
func ExtractTraceContext(ctx context.Context, msg kafka.Message) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &Headers{List: msg.Headers})
}

// StartConsumerSpan starts a consumer span parented on the producer's trace.
func StartConsumerSpan(ctx context.Context, msg kafka.Message) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ExtractTraceContext(ctx, msg), msg.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.destination.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
	)
}
