package order

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/takeout/internal/domain/cart"
)

// Status is the fulfillment state of an order.
type Status int8

const (
	StatusPendingPayment     Status = 1
	StatusToBeConfirmed      Status = 2
	StatusConfirmed          Status = 3
	StatusDeliveryInProgress Status = 4
	StatusCompleted          Status = 5
	StatusCancelled          Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusPendingPayment:
		return "PENDING_PAYMENT"
	case StatusToBeConfirmed:
		return "TO_BE_CONFIRMED"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusDeliveryInProgress:
		return "DELIVERY_IN_PROGRESS"
	case StatusCompleted:
		return "COMPLETED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "STATUS(" + strconv.Itoa(int(s)) + ")"
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s >= StatusPendingPayment && s <= StatusCancelled
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PayStatus is the payment state of an order.
type PayStatus int8

const (
	PayUnpaid   PayStatus = 0
	PayPaid     PayStatus = 1
	PayRefunded PayStatus = 2
)

func (p PayStatus) String() string {
	switch p {
	case PayUnpaid:
		return "UNPAID"
	case PayPaid:
		return "PAID"
	case PayRefunded:
		return "REFUNDED"
	default:
		return "PAY_STATUS(" + strconv.Itoa(int(p)) + ")"
	}
}

// PayMethod is the payment channel chosen at submission.
type PayMethod int8

const (
	PayMethodWallet PayMethod = 1
	PayMethodOther  PayMethod = 2
)

// Order is a placed order. Consignee, Phone and Address are a snapshot of the
// address book entry taken at submission.
type Order struct {
	ID        int64
	Number    string
	UserID    int64
	Status    Status
	PayStatus PayStatus
	PayMethod PayMethod
	Amount    decimal.Decimal

	Consignee string
	Phone     string
	Address   string
	AddressID int64

	Remark                string
	TablewareNumber       int
	EstimatedDeliveryTime *time.Time

	OrderTime       time.Time
	CheckoutTime    *time.Time
	DeliveryTime    *time.Time
	CancelTime      *time.Time
	CancelReason    string
	RejectionReason string

	Lines []Line
}

// Summary renders the order lines as "name*qty;" pairs.
func (o *Order) Summary() string {
	var b strings.Builder
	for _, l := range o.Lines {
		b.WriteString(l.Name)
		b.WriteByte('*')
		b.WriteString(strconv.Itoa(l.Quantity))
		b.WriteByte(';')
	}
	return b.String()
}

// Line is a frozen copy of the cart line it was created from.
type Line struct {
	OrderID  int64
	Seq      int
	Key      cart.ItemKey
	Name     string
	Image    string
	Price    decimal.Decimal
	Quantity int
}

// Subtotal returns unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Patch describes the fields written by a status transition. Nil and zero
// fields are left untouched.
type Patch struct {
	Status          Status
	Pay             *PayStatus
	CheckoutTime    *time.Time
	DeliveryTime    *time.Time
	CancelTime      *time.Time
	CancelReason    string
	RejectionReason string

	// ExpectPay additionally requires the current pay status to match.
	ExpectPay *PayStatus
}

// Query filters the paged order listing.
type Query struct {
	UserID    int64
	Number    string
	Phone     string
	Status    Status
	BeginTime time.Time
	EndTime   time.Time
	Page      int
	PageSize  int
}

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

func (q *Query) normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
}

// Offset returns the number of rows skipped before the requested page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Page is one page of the order listing.
type Page struct {
	Total   int
	Records []Order
}

// Statistics counts orders awaiting operator action.
type Statistics struct {
	ToBeConfirmed      int
	Confirmed          int
	DeliveryInProgress int
}

// Repository persists orders and their lines.
type Repository interface {
	// Insert stores a new order and assigns its ID.
	Insert(ctx context.Context, o *Order) error
	InsertLines(ctx context.Context, lines []Line) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	Lines(ctx context.Context, orderID int64) ([]Line, error)
	LinesOf(ctx context.Context, orderIDs []int64) (map[int64][]Line, error)
	// Transition applies p only if the order is still in status from. It
	// returns ErrStatusConflict when the order exists in another status.
	Transition(ctx context.Context, id int64, from Status, p Patch) error
	CountByStatus(ctx context.Context, statuses ...Status) (map[Status]int, error)
	Search(ctx context.Context, q Query) ([]Order, int, error)
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Orders() Repository
	Carts() cart.Repository
}

// Transactor runs fn in a transaction, committing when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
