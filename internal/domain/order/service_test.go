package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/catalog"
	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/internal/domain/payment"
	"github.com/xenking/takeout/internal/storage/memory"
)

// --- Mock implementations ---

type mockGateway struct {
	mu        sync.Mutex
	refunds   []payment.RefundRequest
	prepays   []payment.PrepayRequest
	refundErr error
}

func (m *mockGateway) Prepay(_ context.Context, req payment.PrepayRequest) (*payment.Prepay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepays = append(m.prepays, req)
	return &payment.Prepay{TransactionID: "tx-" + req.OrderNumber}, nil
}

func (m *mockGateway) Refund(_ context.Context, req payment.RefundRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds = append(m.refunds, req)
	return m.refundErr
}

func (m *mockGateway) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

type mockNotifier struct {
	mu     sync.Mutex
	events []order.Event
	err    error
}

func (m *mockNotifier) Broadcast(_ context.Context, e order.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockNotifier) sent() []order.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]order.Event(nil), m.events...)
}

// --- Helpers ---

const (
	userID    int64 = 7
	addressID int64 = 100
	dishID    int64 = 1
	mealID    int64 = 2
)

type fixture struct {
	store    *memory.Store
	carts    *cart.Service
	orders   *order.Service
	gateway  *mockGateway
	notifier *mockNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	store.AddDish(catalog.Item{ID: dishID, Name: "Kung Pao Chicken", Image: "kp.png", Price: decimal.RequireFromString("12.00")})
	store.AddSetMeal(catalog.Item{ID: mealID, Name: "Lunch Set", Image: "set.png", Price: decimal.RequireFromString("30.50")})
	store.AddAddress(address.Address{
		ID:        addressID,
		UserID:    userID,
		Consignee: "Li Lei",
		Phone:     "13800000000",
		Province:  "Zhejiang",
		City:      "Hangzhou",
		District:  "Xihu",
		Detail:    "1 Lake Road",
	})

	f := &fixture{
		store:    store,
		gateway:  &mockGateway{},
		notifier: &mockNotifier{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.carts = cart.NewService(store.Carts(), store)
	f.orders = order.NewService(
		store.Orders(), store.Carts(), store, store, f.gateway, f.notifier,
		order.WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *fixture) add(t *testing.T, key cart.ItemKey, times int) {
	t.Helper()
	for range times {
		require.NoError(t, f.carts.Add(context.Background(), userID, key))
	}
}

func (f *fixture) submit(t *testing.T) *order.Receipt {
	t.Helper()
	r, err := f.orders.Submit(context.Background(), userID, order.SubmitRequest{AddressID: addressID})
	require.NoError(t, err)
	return r
}

func (f *fixture) get(t *testing.T, id int64) *order.Order {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o
}

// --- Tests ---

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, "spicy"), 2)
	f.add(t, cart.SetMeal(mealID), 1)

	r, err := f.orders.Submit(ctx, userID, order.SubmitRequest{
		AddressID:       addressID,
		Remark:          "no cutlery",
		TablewareNumber: 2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, r.Number)
	assert.True(t, decimal.RequireFromString("54.50").Equal(r.Amount), r.Amount.String())
	assert.Equal(t, f.now, r.OrderTime)

	o := f.get(t, r.ID)
	assert.Equal(t, order.StatusPendingPayment, o.Status)
	assert.Equal(t, order.PayUnpaid, o.PayStatus)
	assert.Equal(t, order.PayMethodWallet, o.PayMethod)
	assert.Equal(t, "Li Lei", o.Consignee)
	assert.Equal(t, "ZhejiangHangzhouXihu1 Lake Road", o.Address)
	assert.Equal(t, "no cutlery", o.Remark)
	assert.Equal(t, 2, o.TablewareNumber)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, 1, o.Lines[0].Seq)
	assert.Equal(t, cart.Dish(dishID, "spicy"), o.Lines[0].Key)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, 2, o.Lines[1].Seq)
	assert.Equal(t, "Kung Pao Chicken*2;Lunch Set*1;", o.Summary())

	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Subtotal())
	}
	assert.True(t, sum.Equal(o.Amount))

	lines, err := f.carts.List(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestSubmit_EmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.orders.Submit(context.Background(), userID, order.SubmitRequest{AddressID: addressID})
	require.ErrorIs(t, err, order.ErrCartEmpty)
	assert.Equal(t, order.KindValidation, order.KindOf(err))

	page, err := f.orders.Search(context.Background(), order.Query{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestSubmit_AddressMissing(t *testing.T) {
	tests := []struct {
		name      string
		user      int64
		addressID int64
	}{
		{name: "Unknown", user: userID, addressID: 999},
		{name: "ForeignUser", user: userID + 1, addressID: addressID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.carts.Add(context.Background(), tt.user, cart.Dish(dishID, "")))

			_, err := f.orders.Submit(context.Background(), tt.user, order.SubmitRequest{AddressID: tt.addressID})
			require.ErrorIs(t, err, order.ErrAddressMissing)
			assert.Equal(t, order.KindValidation, order.KindOf(err))

			lines, err := f.carts.List(context.Background(), tt.user)
			require.NoError(t, err)
			assert.Len(t, lines, 1, "cart must be untouched")
		})
	}
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Pending order cancelled without a refund.
	f.add(t, cart.Dish(dishID, ""), 2)
	first := f.submit(t)
	assert.True(t, decimal.RequireFromString("24.00").Equal(first.Amount))

	o := f.get(t, first.ID)
	require.Len(t, o.Lines, 1)
	assert.True(t, decimal.RequireFromString("12.00").Equal(o.Lines[0].Price))
	assert.Equal(t, 2, o.Lines[0].Quantity)

	res, err := f.orders.Cancel(ctx, first.ID, "")
	require.NoError(t, err)
	assert.False(t, res.Refunded)
	assert.NoError(t, res.RefundErr)
	assert.Equal(t, order.StatusCancelled, res.Order.Status)
	require.NotNil(t, res.Order.CancelTime)
	assert.Equal(t, f.now, *res.Order.CancelTime)

	o = f.get(t, first.ID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PayUnpaid, o.PayStatus)
	assert.Equal(t, order.DefaultCancelReason, o.CancelReason)
	require.NotNil(t, o.CancelTime)
	assert.Zero(t, f.gateway.refundCount())

	// Paid order cancelled with exactly one refund.
	f.add(t, cart.Dish(dishID, ""), 2)
	second := f.submit(t)
	require.NoError(t, f.orders.ConfirmPayment(ctx, second.Number))

	o = f.get(t, second.ID)
	assert.Equal(t, order.StatusToBeConfirmed, o.Status)
	assert.Equal(t, order.PayPaid, o.PayStatus)
	require.NotNil(t, o.CheckoutTime)

	events := f.notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, order.EventNewOrder, events[0].Type)
	assert.Equal(t, second.ID, events[0].OrderID)
	assert.Equal(t, "Order number: "+second.Number, events[0].Content)

	res, err = f.orders.Cancel(ctx, second.ID, "changed my mind")
	require.NoError(t, err)
	assert.True(t, res.Refunded)
	assert.NoError(t, res.RefundErr)
	assert.Equal(t, order.PayRefunded, res.Order.PayStatus)

	o = f.get(t, second.ID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PayRefunded, o.PayStatus)
	assert.Equal(t, "changed my mind", o.CancelReason)
	require.Equal(t, 1, f.gateway.refundCount())
	assert.Equal(t, second.Number, f.gateway.refunds[0].OrderNumber)
	assert.True(t, second.Amount.Equal(f.gateway.refunds[0].Refund))
}

func TestFulfilment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.SetMeal(mealID), 1)
	r := f.submit(t)

	require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))
	require.NoError(t, f.orders.Confirm(ctx, r.ID))
	assert.Equal(t, order.StatusConfirmed, f.get(t, r.ID).Status)

	require.NoError(t, f.orders.StartDelivery(ctx, r.ID))
	assert.Equal(t, order.StatusDeliveryInProgress, f.get(t, r.ID).Status)

	f.now = f.now.Add(30 * time.Minute)
	require.NoError(t, f.orders.Complete(ctx, r.ID))
	o := f.get(t, r.ID)
	assert.Equal(t, order.StatusCompleted, o.Status)
	require.NotNil(t, o.DeliveryTime)
	assert.Equal(t, f.now, *o.DeliveryTime)

	// Completed orders are past the user cancellation window.
	_, err := f.orders.Cancel(ctx, r.ID, "")
	var stateErr *order.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, order.StatusCompleted, stateErr.Status)
	assert.Equal(t, order.OpCancel, stateErr.Op)
	assert.Equal(t, order.KindInvalidState, order.KindOf(err))
}

func TestGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)

	for name, op := range map[string]func() error{
		"Confirm":       func() error { return f.orders.Confirm(ctx, r.ID) },
		"Reject":        func() error { return f.orders.Reject(ctx, r.ID, "closed") },
		"StartDelivery": func() error { return f.orders.StartDelivery(ctx, r.ID) },
		"Complete":      func() error { return f.orders.Complete(ctx, r.ID) },
	} {
		t.Run(name, func(t *testing.T) {
			err := op()
			require.ErrorIs(t, err, order.ErrInvalidStatus)
			assert.Equal(t, order.StatusPendingPayment, f.get(t, r.ID).Status)
		})
	}

	t.Run("NotFound", func(t *testing.T) {
		err := f.orders.Confirm(ctx, 404)
		require.ErrorIs(t, err, order.ErrNotFound)
		assert.Equal(t, order.KindNotFound, order.KindOf(err))
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)
	require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))

	require.NoError(t, f.orders.Reject(ctx, r.ID, "out of stock"))

	o := f.get(t, r.ID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, "out of stock", o.RejectionReason)
	assert.Equal(t, "out of stock", o.CancelReason)
	require.NotNil(t, o.CancelTime)
}

func TestCancel_RefundFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.refundErr = errors.New("gateway timeout")
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)
	require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))

	res, err := f.orders.Cancel(ctx, r.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Refunded)
	require.Error(t, res.RefundErr)
	assert.Equal(t, order.KindUpstream, order.KindOf(res.RefundErr))

	o := f.get(t, r.ID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PayRefunded, o.PayStatus)
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Duplicate", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, cart.Dish(dishID, ""), 1)
		r := f.submit(t)
		require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))

		err := f.orders.ConfirmPayment(ctx, r.Number)
		require.ErrorIs(t, err, order.ErrInvalidStatus)
		assert.Len(t, f.notifier.sent(), 1)
	})
	t.Run("UnknownNumber", func(t *testing.T) {
		f := newFixture(t)
		err := f.orders.ConfirmPayment(ctx, "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})
	t.Run("AfterCancel", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, cart.Dish(dishID, ""), 1)
		r := f.submit(t)
		_, err := f.orders.Cancel(ctx, r.ID, "")
		require.NoError(t, err)

		err = f.orders.ConfirmPayment(ctx, r.Number)
		require.ErrorIs(t, err, order.ErrInvalidStatus)

		o := f.get(t, r.ID)
		assert.Equal(t, order.StatusCancelled, o.Status)
		assert.Equal(t, order.PayRefunded, o.PayStatus)
		assert.Equal(t, 1, f.gateway.refundCount())
		assert.Empty(t, f.notifier.sent())

		// A second late callback must not refund twice.
		require.ErrorIs(t, f.orders.ConfirmPayment(ctx, r.Number), order.ErrInvalidStatus)
		assert.Equal(t, 1, f.gateway.refundCount())
	})
	t.Run("NotifierDown", func(t *testing.T) {
		f := newFixture(t)
		f.notifier.err = errors.New("broker unreachable")
		f.add(t, cart.Dish(dishID, ""), 1)
		r := f.submit(t)

		require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))
		assert.Equal(t, order.StatusToBeConfirmed, f.get(t, r.ID).Status)
	})
}

func TestConcurrentConfirmReject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)
	require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))

	var (
		g    errgroup.Group
		errs [2]error
	)
	g.Go(func() error {
		errs[0] = f.orders.Confirm(ctx, r.ID)
		return nil
	})
	g.Go(func() error {
		errs[1] = f.orders.Reject(ctx, r.ID, "busy")
		return nil
	})
	require.NoError(t, g.Wait())

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.ErrorIs(t, err, order.ErrInvalidStatus)
	}
	assert.Equal(t, 1, won)

	o := f.get(t, r.ID)
	if errs[0] == nil {
		assert.Equal(t, order.StatusConfirmed, o.Status)
	} else {
		assert.Equal(t, order.StatusCancelled, o.Status)
	}
}

func TestConcurrentCancelAndPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)

	var g errgroup.Group
	g.Go(func() error {
		_, err := f.orders.Cancel(ctx, r.ID, "")
		return err
	})
	g.Go(func() error {
		err := f.orders.ConfirmPayment(ctx, r.Number)
		if errors.Is(err, order.ErrInvalidStatus) {
			return nil
		}
		return err
	})
	require.NoError(t, g.Wait())

	// Either way the captured payment ends up refunded.
	o := f.get(t, r.ID)
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.PayRefunded, o.PayStatus)
	assert.Equal(t, 1, f.gateway.refundCount())
}

func TestReminder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)

	require.NoError(t, f.orders.Reminder(ctx, r.ID))
	events := f.notifier.sent()
	require.Len(t, events, 1)
	assert.Equal(t, order.EventReminder, events[0].Type)
	assert.Equal(t, r.ID, events[0].OrderID)

	_, err := f.orders.Cancel(ctx, r.ID, "")
	require.NoError(t, err)
	require.ErrorIs(t, f.orders.Reminder(ctx, r.ID), order.ErrInvalidStatus)
	require.ErrorIs(t, f.orders.Reminder(ctx, 404), order.ErrNotFound)
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, "spicy"), 2)
	r := f.submit(t)

	f.add(t, cart.Dish(dishID, "spicy"), 1)

	n, err := f.orders.Reorder(ctx, userID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lines, err := f.carts.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, lines, 2, "replayed lines are not merged")
	assert.Equal(t, 1, lines[0].Quantity)
	assert.False(t, lines[0].Replayed)
	assert.Equal(t, 2, lines[1].Quantity)
	assert.True(t, lines[1].Replayed)

	// The source order is untouched.
	o := f.get(t, r.ID)
	assert.Equal(t, order.StatusPendingPayment, o.Status)
	require.Len(t, o.Lines, 1)

	// Adding the same item keeps growing the consolidated line.
	f.add(t, cart.Dish(dishID, "spicy"), 1)
	lines, err = f.carts.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 2, lines[0].Quantity)

	_, err = f.orders.Reorder(ctx, userID+1, r.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestPrepay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)

	_, err := f.orders.Prepay(ctx, userID+1, r.Number)
	require.ErrorIs(t, err, order.ErrNotFound)

	p, err := f.orders.Prepay(ctx, userID, r.Number)
	require.NoError(t, err)
	assert.Equal(t, "tx-"+r.Number, p.TransactionID)
	require.Len(t, f.gateway.prepays, 1)
	assert.True(t, r.Amount.Equal(f.gateway.prepays[0].Amount))

	require.NoError(t, f.orders.ConfirmPayment(ctx, r.Number))
	_, err = f.orders.Prepay(ctx, userID, r.Number)
	require.ErrorIs(t, err, order.ErrInvalidStatus)
}

func TestSearchAndStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var receipts []*order.Receipt
	for range 3 {
		f.add(t, cart.Dish(dishID, ""), 1)
		receipts = append(receipts, f.submit(t))
		f.now = f.now.Add(time.Minute)
	}
	require.NoError(t, f.orders.ConfirmPayment(ctx, receipts[0].Number))
	require.NoError(t, f.orders.ConfirmPayment(ctx, receipts[1].Number))
	require.NoError(t, f.orders.Confirm(ctx, receipts[1].ID))

	page, err := f.orders.Search(ctx, order.Query{UserID: userID, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Records, 2)
	assert.Equal(t, receipts[2].ID, page.Records[0].ID, "newest first")
	assert.Len(t, page.Records[0].Lines, 1)

	page, err = f.orders.Search(ctx, order.Query{UserID: userID, PageSize: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, receipts[0].ID, page.Records[0].ID)

	page, err = f.orders.Search(ctx, order.Query{Status: order.StatusConfirmed})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, receipts[1].ID, page.Records[0].ID)

	page, err = f.orders.Search(ctx, order.Query{Number: receipts[2].Number})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	stats, err := f.orders.CountStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, order.Statistics{ToBeConfirmed: 1, Confirmed: 1}, *stats)
}

func TestGetOwned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, cart.Dish(dishID, ""), 1)
	r := f.submit(t)

	o, err := f.orders.GetOwned(ctx, userID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Number, o.Number)

	_, err = f.orders.GetOwned(ctx, userID+1, r.ID)
	require.ErrorIs(t, err, order.ErrNotFound)
}
