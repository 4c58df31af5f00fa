package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/payment"
)

// DefaultCancelReason is recorded when a user cancels without a reason.
const DefaultCancelReason = "user cancelled"

// maxAttempts bounds compare-and-swap retries when an order changes status
// between the read and the update.
const maxAttempts = 3

// SubmitRequest holds the input for placing an order from the cart.
type SubmitRequest struct {
	AddressID             int64
	PayMethod             PayMethod
	Remark                string
	TablewareNumber       int
	EstimatedDeliveryTime *time.Time
}

// Receipt is returned by a successful submission.
type Receipt struct {
	ID        int64
	Number    string
	Amount    decimal.Decimal
	OrderTime time.Time
}

// CancelResult reports the outcome of a cancellation. RefundErr is set when
// the order was cancelled but the refund call failed.
type CancelResult struct {
	Order     *Order
	Refunded  bool
	RefundErr error
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNumbers overrides the order number generator.
func WithNumbers(next func() string) Option {
	return func(s *Service) { s.numbers = next }
}

// WithMetrics sets the instruments updated by the service.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// Service is the order lifecycle engine. It turns carts into orders and moves
// orders through the status machine.
type Service struct {
	orders    Repository
	carts     cart.Repository
	tx        Transactor
	addresses address.Resolver
	payments  payment.Gateway
	notifier  Notifier

	now     func() time.Time
	numbers func() string
	metrics *Metrics
	tracer  trace.Tracer
}

// NewService creates the order Service with its collaborators.
func NewService(
	orders Repository,
	carts cart.Repository,
	tx Transactor,
	addresses address.Resolver,
	payments payment.Gateway,
	notifier Notifier,
	opts ...Option,
) *Service {
	s := &Service{
		orders:    orders,
		carts:     carts,
		tx:        tx,
		addresses: addresses,
		payments:  payments,
		notifier:  notifier,
		now:       time.Now,
		numbers:   NewNumber,
		metrics:   noopMetrics(),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewNumber returns a fresh order number. UUIDv7 values are unique and sort
// by creation time.
func NewNumber() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "order."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Submit converts the user's cart into a new order. The order, its lines and
// the cart clear are committed atomically.
func (s *Service) Submit(ctx context.Context, userID int64, req SubmitRequest) (_ *Receipt, rerr error) {
	ctx, span := s.start(ctx, "Submit", attribute.Int64("user_id", userID))
	defer func() { finish(span, rerr) }()

	addr, err := s.addresses.Get(ctx, userID, req.AddressID)
	if err != nil {
		if errors.Is(err, address.ErrNotFound) {
			return nil, errors.Wrapf(ErrAddressMissing, "address %d", req.AddressID)
		}
		return nil, &UpstreamError{Service: "address", Err: err}
	}

	payMethod := req.PayMethod
	if payMethod == 0 {
		payMethod = PayMethodWallet
	}

	o := &Order{
		Number:                s.numbers(),
		UserID:                userID,
		Status:                StatusPendingPayment,
		PayStatus:             PayUnpaid,
		PayMethod:             payMethod,
		Consignee:             addr.Consignee,
		Phone:                 addr.Phone,
		Address:               addr.Line(),
		AddressID:             addr.ID,
		Remark:                req.Remark,
		TablewareNumber:       req.TablewareNumber,
		EstimatedDeliveryTime: req.EstimatedDeliveryTime,
		OrderTime:             s.now(),
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cartLines, err := tx.Carts().List(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "list cart")
		}
		if len(cartLines) == 0 {
			return ErrCartEmpty
		}

		amount := decimal.Zero
		for _, cl := range cartLines {
			amount = amount.Add(cl.Subtotal())
		}
		o.Amount = amount.Round(2)

		if err := tx.Orders().Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}

		lines := make([]Line, len(cartLines))
		for i, cl := range cartLines {
			lines[i] = Line{
				OrderID:  o.ID,
				Seq:      i + 1,
				Key:      cl.Key,
				Name:     cl.Name,
				Image:    cl.Image,
				Price:    cl.Price,
				Quantity: cl.Quantity,
			}
		}
		if err := tx.Orders().InsertLines(ctx, lines); err != nil {
			return errors.Wrap(err, "insert lines")
		}
		o.Lines = lines

		ids := make([]int64, len(cartLines))
		for i, cl := range cartLines {
			ids[i] = cl.ID
		}
		if err := tx.Carts().Remove(ctx, userID, ids); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Submitted.Add(ctx, 1)
	s.metrics.Amount.Record(ctx, o.Amount.InexactFloat64())
	zctx.From(ctx).Info("Order submitted",
		zap.Int64("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.Int64("user_id", userID),
		zap.Stringer("amount", o.Amount),
	)

	return &Receipt{
		ID:        o.ID,
		Number:    o.Number,
		Amount:    o.Amount,
		OrderTime: o.OrderTime,
	}, nil
}

// Prepay opens a payment transaction for one of the user's unpaid orders.
func (s *Service) Prepay(ctx context.Context, userID int64, number string) (_ *payment.Prepay, rerr error) {
	ctx, span := s.start(ctx, "Prepay", attribute.String("order_number", number))
	defer func() { finish(span, rerr) }()

	o, err := s.orders.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, errors.Wrapf(ErrNotFound, "order %s", number)
	}
	if o.Status != StatusPendingPayment {
		return nil, &InvalidStateError{OrderID: o.ID, Status: o.Status, Op: OpPay}
	}

	p, err := s.payments.Prepay(ctx, payment.PrepayRequest{
		OrderNumber: o.Number,
		Amount:      o.Amount,
		Description: "Takeout order " + o.Number,
		UserID:      userID,
	})
	if err != nil {
		return nil, &UpstreamError{Service: "payment", Err: err}
	}
	return p, nil
}

// ConfirmPayment records a successful payment reported by the gateway and
// notifies operators about the new order. Payments that arrive after the
// order was cancelled are refunded and rejected.
func (s *Service) ConfirmPayment(ctx context.Context, number string) (rerr error) {
	ctx, span := s.start(ctx, "ConfirmPayment", attribute.String("order_number", number))
	defer func() { finish(span, rerr) }()

	for attempt := 1; ; attempt++ {
		o, err := s.orders.GetByNumber(ctx, number)
		if err != nil {
			return err
		}

		switch {
		case o.Status == StatusPendingPayment:
			now := s.now()
			err = s.orders.Transition(ctx, o.ID, o.Status, Patch{
				Status:       StatusToBeConfirmed,
				Pay:          ptr(PayPaid),
				CheckoutTime: &now,
			})
		case o.Status == StatusCancelled && o.PayStatus == PayUnpaid:
			err = s.orders.Transition(ctx, o.ID, o.Status, Patch{
				Status:    StatusCancelled,
				Pay:       ptr(PayRefunded),
				ExpectPay: ptr(PayUnpaid),
			})
			if err == nil {
				s.refund(ctx, o)
				return &InvalidStateError{OrderID: o.ID, Status: o.Status, Op: OpPay}
			}
		default:
			return &InvalidStateError{OrderID: o.ID, Status: o.Status, Op: OpPay}
		}

		if errors.Is(err, ErrStatusConflict) && attempt < maxAttempts {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return &InvalidStateError{OrderID: o.ID, Status: o.Status, Op: OpPay}
			}
			return errors.Wrap(err, "update order")
		}

		s.metrics.transition(ctx, StatusToBeConfirmed)
		zctx.From(ctx).Info("Order paid",
			zap.Int64("order_id", o.ID),
			zap.String("order_number", o.Number),
		)
		s.notify(ctx, newEvent(EventNewOrder, o))
		return nil
	}
}

// Cancel cancels an order that has not been accepted yet. Paid orders are
// refunded; a failed refund does not block the cancellation and is reported
// in the result.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) (_ *CancelResult, rerr error) {
	ctx, span := s.start(ctx, "Cancel", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	if reason == "" {
		reason = DefaultCancelReason
	}

	var cancelTime time.Time
	prev, err := s.advance(ctx, id, OpCancel, func(o *Order) Patch {
		cancelTime = s.now()
		p := Patch{
			CancelReason: reason,
			CancelTime:   &cancelTime,
		}
		if o.Status == StatusToBeConfirmed {
			p.Pay = ptr(PayRefunded)
		}
		return p
	})
	if err != nil {
		return nil, err
	}

	res := &CancelResult{Order: prev}
	if prev.Status == StatusToBeConfirmed {
		res.Refunded = true
		res.RefundErr = s.refund(ctx, prev)
	}

	cancelled := *prev
	cancelled.Status = StatusCancelled
	cancelled.CancelReason = reason
	cancelled.CancelTime = &cancelTime
	if res.Refunded {
		cancelled.PayStatus = PayRefunded
	}
	res.Order = &cancelled
	return res, nil
}

// refund asks the gateway to return the full amount of o. Failures are logged
// and returned but never roll back the order state.
func (s *Service) refund(ctx context.Context, o *Order) error {
	err := s.payments.Refund(ctx, payment.RefundRequest{
		OrderNumber:  o.Number,
		RefundNumber: o.Number,
		Refund:       o.Amount,
		Total:        o.Amount,
	})
	s.metrics.refund(ctx, err)
	if err != nil {
		zctx.From(ctx).Warn("Refund failed",
			zap.Int64("order_id", o.ID),
			zap.String("order_number", o.Number),
			zap.Error(err),
		)
		return &UpstreamError{Service: "payment", Err: err}
	}
	return nil
}

// Confirm accepts a paid order on behalf of the merchant.
func (s *Service) Confirm(ctx context.Context, id int64) (rerr error) {
	ctx, span := s.start(ctx, "Confirm", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	_, err := s.advance(ctx, id, OpConfirm, func(*Order) Patch { return Patch{} })
	return err
}

// Reject declines a paid order. The reason is stored as both the rejection
// and the cancel reason.
func (s *Service) Reject(ctx context.Context, id int64, reason string) (rerr error) {
	ctx, span := s.start(ctx, "Reject", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	_, err := s.advance(ctx, id, OpReject, func(*Order) Patch {
		now := s.now()
		return Patch{
			RejectionReason: reason,
			CancelReason:    reason,
			CancelTime:      &now,
		}
	})
	return err
}

// StartDelivery hands a confirmed order over to delivery.
func (s *Service) StartDelivery(ctx context.Context, id int64) (rerr error) {
	ctx, span := s.start(ctx, "StartDelivery", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	_, err := s.advance(ctx, id, OpDeliver, func(*Order) Patch { return Patch{} })
	return err
}

// Complete marks a delivered order as completed.
func (s *Service) Complete(ctx context.Context, id int64) (rerr error) {
	ctx, span := s.start(ctx, "Complete", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	_, err := s.advance(ctx, id, OpComplete, func(*Order) Patch {
		now := s.now()
		return Patch{DeliveryTime: &now}
	})
	return err
}

// advance applies op to order id with compare-and-swap on the current status,
// retrying when a concurrent transition wins the race. It returns the order
// as it was before the transition.
func (s *Service) advance(ctx context.Context, id int64, op Op, patch func(*Order) Patch) (*Order, error) {
	for attempt := 1; ; attempt++ {
		o, err := s.orders.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		to, ok := Next(o.Status, op)
		if !ok {
			return nil, &InvalidStateError{OrderID: id, Status: o.Status, Op: op}
		}

		p := patch(o)
		p.Status = to
		err = s.orders.Transition(ctx, id, o.Status, p)
		switch {
		case errors.Is(err, ErrStatusConflict) && attempt < maxAttempts:
			continue
		case errors.Is(err, ErrStatusConflict):
			return nil, &InvalidStateError{OrderID: id, Status: o.Status, Op: op}
		case err != nil:
			return nil, errors.Wrapf(err, "%s order %d", op, id)
		}

		s.metrics.transition(ctx, to)
		zctx.From(ctx).Info("Order status changed",
			zap.Int64("order_id", id),
			zap.Stringer("from", o.Status),
			zap.Stringer("to", to),
		)
		return o, nil
	}
}

// Reminder lets a customer nudge operators about a live order.
func (s *Service) Reminder(ctx context.Context, id int64) (rerr error) {
	ctx, span := s.start(ctx, "Reminder", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := Next(o.Status, OpRemind); !ok {
		return &InvalidStateError{OrderID: id, Status: o.Status, Op: OpRemind}
	}
	s.notify(ctx, newEvent(EventReminder, o))
	return nil
}

func (s *Service) notify(ctx context.Context, e Event) {
	if err := s.notifier.Broadcast(ctx, e); err != nil {
		s.metrics.NotificationsFailed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("type", e.Type.String())),
		)
		zctx.From(ctx).Warn("Notification broadcast failed",
			zap.Stringer("type", e.Type),
			zap.Int64("order_id", e.OrderID),
			zap.Error(err),
		)
	}
}

// Reorder copies the lines of one of the user's orders back into the cart.
// Copied lines are appended as they are and never merged with existing ones.
// It returns the number of lines appended.
func (s *Service) Reorder(ctx context.Context, userID, id int64) (_ int, rerr error) {
	ctx, span := s.start(ctx, "Reorder", attribute.Int64("order_id", id))
	defer func() { finish(span, rerr) }()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if o.UserID != userID {
		return 0, errors.Wrapf(ErrNotFound, "order %d", id)
	}

	lines, err := s.orders.Lines(ctx, id)
	if err != nil {
		return 0, errors.Wrap(err, "get lines")
	}
	if len(lines) == 0 {
		return 0, nil
	}

	now := s.now()
	cartLines := make([]cart.Line, len(lines))
	for i, l := range lines {
		cartLines[i] = cart.Line{
			UserID:    userID,
			Key:       l.Key,
			Name:      l.Name,
			Image:     l.Image,
			Price:     l.Price,
			Quantity:  l.Quantity,
			Replayed:  true,
			CreatedAt: now,
		}
	}
	if err := s.carts.Append(ctx, cartLines); err != nil {
		return 0, errors.Wrap(err, "append cart lines")
	}
	return len(cartLines), nil
}

// Get returns an order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Lines, err = s.orders.Lines(ctx, id); err != nil {
		return nil, errors.Wrap(err, "get lines")
	}
	return o, nil
}

// GetOwned is Get restricted to orders placed by userID.
func (s *Service) GetOwned(ctx context.Context, userID, id int64) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, errors.Wrapf(ErrNotFound, "order %d", id)
	}
	return o, nil
}

// Search returns one page of orders matching q, each with its lines.
func (s *Service) Search(ctx context.Context, q Query) (*Page, error) {
	q.normalize()

	orders, total, err := s.orders.Search(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "search orders")
	}
	if len(orders) == 0 {
		return &Page{Total: total, Records: []Order{}}, nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	lines, err := s.orders.LinesOf(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get lines")
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
	}
	return &Page{Total: total, Records: orders}, nil
}

// CountStatus counts orders waiting for operators.
func (s *Service) CountStatus(ctx context.Context) (*Statistics, error) {
	counts, err := s.orders.CountByStatus(ctx,
		StatusToBeConfirmed,
		StatusConfirmed,
		StatusDeliveryInProgress,
	)
	if err != nil {
		return nil, errors.Wrap(err, "count by status")
	}
	return &Statistics{
		ToBeConfirmed:      counts[StatusToBeConfirmed],
		Confirmed:          counts[StatusConfirmed],
		DeliveryInProgress: counts[StatusDeliveryInProgress],
	}, nil
}

func ptr[T any](v T) *T {
	return &v
}
