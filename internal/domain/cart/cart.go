// Package cart implements the per-user shopping cart with line consolidation.
package cart

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrLineNotFound is returned when a cart line for the requested item
	// does not exist.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidItem is returned when an item reference is malformed.
	ErrInvalidItem = errors.New("invalid cart item")
	// ErrCatalogUnavailable marks catalog lookups that failed for reasons
	// other than a missing item.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// ItemKind distinguishes dishes from set meals.
type ItemKind uint8

const (
	KindDish    ItemKind = 1
	KindSetMeal ItemKind = 2
)

func (k ItemKind) String() string {
	switch k {
	case KindDish:
		return "dish"
	case KindSetMeal:
		return "setmeal"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ItemKey identifies a cart line within one user's cart. Build it with Dish
// or SetMeal.
type ItemKey struct {
	Kind   ItemKind
	ItemID int64
	Flavor string
}

// Dish returns the key of a dish with the given flavor selection. The flavor
// is normalized so that "spicy, no onion" and "no onion,spicy" match.
func Dish(id int64, flavor string) ItemKey {
	return ItemKey{Kind: KindDish, ItemID: id, Flavor: FlavorSignature(flavor)}
}

// SetMeal returns the key of a set meal. Set meals carry no flavor.
func SetMeal(id int64) ItemKey {
	return ItemKey{Kind: KindSetMeal, ItemID: id}
}

// KeyFrom builds a key from the request shape used by clients, where exactly
// one of dishID and setMealID is set.
func KeyFrom(dishID, setMealID int64, flavor string) (ItemKey, error) {
	switch {
	case dishID > 0 && setMealID > 0:
		return ItemKey{}, errors.Wrap(ErrInvalidItem, "both dish and set meal given")
	case dishID > 0:
		return Dish(dishID, flavor), nil
	case setMealID > 0:
		if strings.TrimSpace(flavor) != "" {
			return ItemKey{}, errors.Wrap(ErrInvalidItem, "set meals have no flavor")
		}
		return SetMeal(setMealID), nil
	default:
		return ItemKey{}, errors.Wrap(ErrInvalidItem, "dish or set meal required")
	}
}

// Validate reports whether the key references a concrete item.
func (k ItemKey) Validate() error {
	if k.ItemID <= 0 {
		return errors.Wrapf(ErrInvalidItem, "item id %d", k.ItemID)
	}
	switch k.Kind {
	case KindDish:
		return nil
	case KindSetMeal:
		if k.Flavor != "" {
			return errors.Wrap(ErrInvalidItem, "set meals have no flavor")
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidItem, "unknown kind %s", k.Kind)
	}
}

func (k ItemKey) String() string {
	s := k.Kind.String() + ":" + strconv.FormatInt(k.ItemID, 10)
	if k.Flavor != "" {
		s += "[" + k.Flavor + "]"
	}
	return s
}

// FlavorSignature canonicalizes a comma-separated flavor selection.
func FlavorSignature(flavor string) string {
	parts := strings.Split(flavor, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return strings.Join(out, ",")
}

// Line is one consolidated entry of a user's cart. Price is the unit price
// captured when the line was created.
type Line struct {
	ID        int64
	UserID    int64
	Key       ItemKey
	Name      string
	Image     string
	Price     decimal.Decimal
	Quantity  int
	Replayed  bool
	CreatedAt time.Time
}

// Subtotal returns unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Repository persists cart lines. Implementations must make Increment, Upsert
// and Decrement atomic per line.
type Repository interface {
	// Increment adds one unit to the consolidated line for key and reports
	// whether that line existed.
	Increment(ctx context.Context, userID int64, key ItemKey) (bool, error)
	// Upsert inserts a consolidated line, or adds one unit when another
	// request inserted it first.
	Upsert(ctx context.Context, line Line) error
	// Decrement removes one unit from the matching line, deleting it when the
	// quantity reaches zero, and returns the remaining quantity. It returns
	// ErrLineNotFound when no line matches.
	Decrement(ctx context.Context, userID int64, key ItemKey) (int, error)
	// Append inserts replayed lines without merging them.
	Append(ctx context.Context, lines []Line) error
	List(ctx context.Context, userID int64) ([]Line, error)
	// Remove deletes the given lines of the user's cart.
	Remove(ctx context.Context, userID int64, ids []int64) error
	Clear(ctx context.Context, userID int64) error
}
