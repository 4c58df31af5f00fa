// Package payment describes the external payment gateway used for pre-pay
// transactions and refunds.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// PrepayRequest asks the gateway to open a transaction for an order.
type PrepayRequest struct {
	OrderNumber string
	Amount      decimal.Decimal
	Description string
	UserID      int64
}

// Prepay holds the parameters a client needs to complete payment.
type Prepay struct {
	TransactionID string
	NonceStr      string
	PackageStr    string
	SignType      string
	PaySign       string
	Timestamp     string
}

// RefundRequest asks the gateway to return funds for a paid order.
type RefundRequest struct {
	OrderNumber  string
	RefundNumber string
	Refund       decimal.Decimal
	Total        decimal.Decimal
}

// Gateway is the payment provider boundary.
type Gateway interface {
	Prepay(ctx context.Context, req PrepayRequest) (*Prepay, error)
	Refund(ctx context.Context, req RefundRequest) error
}
