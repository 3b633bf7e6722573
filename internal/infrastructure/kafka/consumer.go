package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"addrscan/internal/infrastructure/telemetry"
	"addrscan/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// MessageHandler receives decoded result messages. An error stops Consume and
// leaves the message uncommitted.
type MessageHandler func(ctx context.Context, msg streaming.Message) error

// Consumer reads published scan results in a consumer group.
type Consumer struct {
	reader messageReader
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: cfg.Topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Consumer{reader: reader}, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Consume feeds messages to handle until ctx is done. Undecodable messages are
// logged, committed and skipped.
func (c *Consumer) Consume(ctx context.Context, handle MessageHandler) error {
	tracer := otel.Tracer("addrscan/kafka")
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			slog.Warn("kafka fetch error", "err", err)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			slog.Warn("message decode error",
				"topic", message.Topic,
				"partition", message.Partition,
				"offset", message.Offset,
				"err", err,
			)
			if err := c.reader.CommitMessages(ctx, message); err != nil {
				slog.Warn("kafka commit error", "err", err)
			}
			continue
		}

		messageCtx := telemetry.ContextFromHeaders(ctx, message.Headers)
		messageCtx, span := tracer.Start(messageCtx, "collect.message", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.String("run.id", decoded.RunID),
			attribute.String("messaging.destination", message.Topic),
		)
		if err := handle(messageCtx, decoded); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("handle %s message at %s/%d/%d: %w", decoded.Type, message.Topic, message.Partition, message.Offset, err)
		}
		span.End()

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			slog.Warn("kafka commit error", "err", err)
		}
	}
}
