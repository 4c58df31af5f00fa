package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a dish or set meal does not exist or is not
// on sale.
var ErrNotFound = errors.New("catalog item not found")

// Item is a priced, named snapshot of a dish or set meal.
type Item struct {
	ID    int64
	Name  string
	Image string
	Price decimal.Decimal
}

// Resolver looks up catalog snapshots by id.
type Resolver interface {
	Dish(ctx context.Context, id int64) (*Item, error)
	SetMeal(ctx context.Context, id int64) (*Item, error)
}
