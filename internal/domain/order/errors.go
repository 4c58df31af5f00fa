package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/catalog"
)

// Sentinel errors for order operations.
var (
	ErrNotFound       = errors.New("order not found")
	ErrInvalidStatus  = errors.New("invalid order status")
	ErrCartEmpty      = errors.New("shopping cart is empty")
	ErrAddressMissing = errors.New("address book entry is missing")

	// ErrStatusConflict is returned by Repository.Transition when the order
	// left the expected status before the update.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// InvalidStateError indicates that an operation is not allowed for the
// order's current status.
type InvalidStateError struct {
	OrderID int64
	Status  Status
	Op      Op
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s order %d in status %s", e.Op, e.OrderID, e.Status)
}

// Is makes errors.Is(err, ErrInvalidStatus) match.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidStatus
}

// UpstreamError wraps a failure of an external collaborator.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Kind classifies errors returned by the order and cart services.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindValidation
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrInvalidStatus):
		return KindInvalidState
	case errors.Is(err, ErrCartEmpty),
		errors.Is(err, ErrAddressMissing),
		errors.Is(err, cart.ErrInvalidItem):
		return KindValidation
	case errors.Is(err, ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, address.ErrNotFound):
		return KindNotFound
	case errors.As(err, &upstream),
		errors.Is(err, cart.ErrCatalogUnavailable):
		return KindUpstream
	default:
		return KindInternal
	}
}
