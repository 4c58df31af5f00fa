package paygate

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/order"
)

// Confirmer records successful payments.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, number string) error
}

// ListenerConfig configures the payment topic consumer.
type ListenerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Listener consumes payment results from Kafka and confirms the matching
// orders.
type Listener struct {
	reader    *kafka.Reader
	confirmer Confirmer
	tracer    trace.Tracer
	attempts  int
	backoff   time.Duration
}

// NewListener creates a consumer group reader for cfg.Topic.
func NewListener(cfg ListenerConfig, confirmer Confirmer, tracer trace.Tracer) *Listener {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Listener{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: time.Second,
			StartOffset:    kafka.FirstOffset,
		}),
		confirmer: confirmer,
		tracer:    tracer,
		attempts:  3,
		backoff:   500 * time.Millisecond,
	}
}

// Run consumes until ctx is cancelled. Every message is committed once it
// has been handled, whatever the outcome, so a poison message never blocks
// the partition.
func (l *Listener) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch message")
		}

		if err := l.handle(ctx, msg.Value); err != nil {
			lg.Error("Payment notification dropped",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "commit offset")
		}
	}
}

// handle confirms the order of one notification. Business rejections such
// as a duplicate or late confirmation are logged and not retried; other
// failures are retried with a fixed backoff.
func (l *Listener) handle(ctx context.Context, value []byte) (rerr error) {
	ctx, span := l.tracer.Start(ctx, "paygate.notification", trace.WithSpanKind(trace.SpanKindConsumer))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	n, err := ParseNotification(value)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("order_number", n.OrderNumber))

	lg := zctx.From(ctx).With(zap.String("order_number", n.OrderNumber))
	if !n.Succeeded() {
		lg.Info("Ignoring unsuccessful payment", zap.String("trade_state", n.TradeState))
		return nil
	}

	for attempt := 1; ; attempt++ {
		err = l.confirmer.ConfirmPayment(ctx, n.OrderNumber)
		switch kind := order.KindOf(err); {
		case err == nil:
			return nil
		case kind == order.KindInvalidState || kind == order.KindNotFound:
			lg.Warn("Payment notification rejected", zap.Error(err))
			return nil
		case attempt >= l.attempts:
			return errors.Wrapf(err, "confirm %s", n.OrderNumber)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

// Ping checks that the first broker is reachable.
func (l *Listener) Ping(ctx context.Context) error {
	cfg := l.reader.Config()
	if len(cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return errors.Wrap(err, "dial kafka")
	}
	return conn.Close()
}

// Close closes the reader.
func (l *Listener) Close() error {
	return l.reader.Close()
}
