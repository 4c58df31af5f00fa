package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the order lifecycle instruments.
type Metrics struct {
	Submitted           metric.Int64Counter
	Transitions         metric.Int64Counter
	Refunds             metric.Int64Counter
	NotificationsFailed metric.Int64Counter
	Amount              metric.Float64Histogram
}

// NewMetrics registers the order instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	submitted, err := meter.Int64Counter("orders_submitted_total",
		metric.WithDescription("Total orders submitted"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders_submitted_total")
	}

	transitions, err := meter.Int64Counter("order_transitions_total",
		metric.WithDescription("Total order status transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "order_transitions_total")
	}

	refunds, err := meter.Int64Counter("order_refunds_total",
		metric.WithDescription("Refund attempts by result"),
		metric.WithUnit("{refund}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "order_refunds_total")
	}

	notifyFailed, err := meter.Int64Counter("notifications_failed_total",
		metric.WithDescription("Operator notifications that could not be broadcast"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "notifications_failed_total")
	}

	amount, err := meter.Float64Histogram("order_amount",
		metric.WithDescription("Submitted order amount"),
		metric.WithExplicitBucketBoundaries(10, 20, 50, 100, 200, 500, 1000),
	)
	if err != nil {
		return nil, errors.Wrap(err, "order_amount")
	}

	return &Metrics{
		Submitted:           submitted,
		Transitions:         transitions,
		Refunds:             refunds,
		NotificationsFailed: notifyFailed,
		Amount:              amount,
	}, nil
}

func noopMetrics() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider().Meter(""))
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) transition(ctx context.Context, to Status) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to.String())))
}

func (m *Metrics) refund(ctx context.Context, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.Refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
