package broadcast

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/order"
)

// Log writes events to the context logger. It stands in for the broker when
// none is configured.
type Log struct{}

var _ order.Notifier = Log{}

// Broadcast implements order.Notifier.
func (Log) Broadcast(ctx context.Context, e order.Event) error {
	zctx.From(ctx).Info("Operator notification",
		zap.Stringer("type", e.Type),
		zap.Int64("order_id", e.OrderID),
		zap.String("content", e.Content),
	)
	return nil
}
