package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"addrscan/internal/domain"
	"addrscan/internal/infrastructure/telemetry"
	"addrscan/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const allChainsTopic = "all"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes finished runs: one message per address, one per chain
// summary and a closing run message.
type Producer struct {
	writer messageWriter
	prefix string
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           500 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg.TopicPrefix), nil
}

func newProducer(writer messageWriter, prefix string) *Producer {
	if strings.TrimSpace(prefix) == "" {
		prefix = "addrscan"
	}
	return &Producer{writer: writer, prefix: prefix}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) SaveRun(ctx context.Context, report domain.RunReport) error {
	ctx, span := otel.Tracer("addrscan/kafka").Start(ctx, "publish.run", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("run.mode", string(report.Mode)),
		attribute.Int("address.count", len(report.Addresses)),
	)

	messages, err := p.buildMessages(ctx, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Producer) buildMessages(ctx context.Context, report domain.RunReport) ([]kafka.Message, error) {
	topic := p.topicForRun(report)
	traceID := trace.SpanContextFromContext(ctx).TraceID()
	traceIDHex := ""
	if traceID.IsValid() {
		traceIDHex = traceID.String()
	}
	headers := telemetry.TraceHeaders(ctx)

	base := streaming.Message{RunID: report.RunID, Mode: string(report.Mode), TraceID: traceIDHex}
	if report.Mode == domain.ScanModeCount && len(report.Chains) == 1 {
		base.Chain = report.Chains[0].Chain
	}

	messages := make([]kafka.Message, 0, len(report.Addresses)+len(report.Chains)+1)
	add := func(key string, msg streaming.Message) error {
		payload, err := streaming.Encode(msg)
		if err != nil {
			return err
		}
		messages = append(messages, kafka.Message{
			Topic:   topic,
			Key:     []byte(key),
			Value:   payload,
			Headers: headers,
		})
		return nil
	}

	for i, address := range report.Addresses {
		msg := base
		msg.Type = streaming.MessageTypeAddress
		msg.Address = address
		msg.Count = report.Counts[address]
		msg.Position = i
		if err := add(address, msg); err != nil {
			return nil, err
		}
	}
	for i, chain := range report.Chains {
		msg := base
		msg.Type = streaming.MessageTypeChain
		msg.Chain = chain.Chain
		msg.Position = i
		msg.Records = chain.Records
		msg.Findings = chain.Findings
		msg.Unique = chain.Unique
		if err := add("chain:"+chain.Chain, msg); err != nil {
			return nil, err
		}
	}
	msg := base
	msg.Type = streaming.MessageTypeRun
	msg.Total = len(report.Addresses)
	msg.ChainCount = len(report.Chains)
	if !report.StartedAt.IsZero() {
		startedAt := report.StartedAt.UTC()
		msg.StartedAt = &startedAt
	}
	if !report.From.IsZero() {
		from := report.From.UTC()
		msg.WindowFrom = &from
	}
	if report.To != nil {
		to := report.To.UTC()
		msg.WindowTo = &to
	}
	if err := add("run:"+report.RunID, msg); err != nil {
		return nil, err
	}
	return messages, nil
}

// topicForRun routes single-chain count runs to the chain's topic and
// everything else to the combined topic.
func (p *Producer) topicForRun(report domain.RunReport) string {
	if report.Mode == domain.ScanModeCount && len(report.Chains) == 1 {
		return p.prefix + "-" + report.Chains[0].Chain
	}
	return p.prefix + "-" + allChainsTopic
}
