package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// headerCarrier exposes Kafka record headers to the otel propagators. Keys
// compare case-insensitively, as propagators write them in canonical form.
type headerCarrier []kafka.Header

func (c headerCarrier) Get(key string) string {
	for _, header := range c {
		if strings.EqualFold(header.Key, key) {
			return string(header.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, header := range *c {
		if strings.EqualFold(header.Key, key) {
			(*c)[i].Value = []byte(value)
			return
		}
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, header := range c {
		keys[i] = header.Key
	}
	return keys
}

// TraceHeaders returns a copy of base with the trace context of ctx added.
func TraceHeaders(ctx context.Context, base ...kafka.Header) []kafka.Header {
	carrier := headerCarrier(append([]kafka.Header(nil), base...))
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	return carrier
}

// ContextFromHeaders continues the trace carried by a consumed record.
func ContextFromHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := headerCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}
