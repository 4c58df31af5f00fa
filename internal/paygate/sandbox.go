package paygate

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/payment"
)

var _ payment.Gateway = (*Sandbox)(nil)

// Sandbox is an in-process gateway that accepts every request. It is used
// when no provider is configured; payments are then confirmed through the
// callback endpoint.
type Sandbox struct {
	mu      sync.Mutex
	refunds map[string]payment.RefundRequest
}

// NewSandbox creates an empty Sandbox.
func NewSandbox() *Sandbox {
	return &Sandbox{refunds: make(map[string]payment.RefundRequest)}
}

// Prepay implements payment.Gateway.
func (s *Sandbox) Prepay(ctx context.Context, req payment.PrepayRequest) (*payment.Prepay, error) {
	id := "sandbox-" + req.OrderNumber
	zctx.From(ctx).Info("Sandbox prepay",
		zap.String("order_number", req.OrderNumber),
		zap.Stringer("amount", req.Amount),
	)
	return &payment.Prepay{
		TransactionID: id,
		NonceStr:      uuid.NewString(),
		PackageStr:    "prepay_id=" + id,
		SignType:      "NONE",
		Timestamp:     strconv.FormatInt(time.Now().Unix(), 10),
	}, nil
}

// Refund implements payment.Gateway. Refunds are idempotent per refund
// number.
func (s *Sandbox) Refund(ctx context.Context, req payment.RefundRequest) error {
	s.mu.Lock()
	s.refunds[req.RefundNumber] = req
	s.mu.Unlock()

	zctx.From(ctx).Info("Sandbox refund",
		zap.String("order_number", req.OrderNumber),
		zap.Stringer("refund", req.Refund),
	)
	return nil
}

// Refunded reports whether a refund was recorded for the order number.
func (s *Sandbox) Refunded(refundNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.refunds[refundNumber]
	return ok
}
