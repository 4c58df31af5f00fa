package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/catalog"
)

// Service implements the cart operations for explicitly identified users.
type Service struct {
	lines   Repository
	catalog catalog.Resolver
	now     func() time.Time
}

// NewService creates a cart Service backed by the given line storage and
// catalog.
func NewService(lines Repository, items catalog.Resolver) *Service {
	return &Service{
		lines:   lines,
		catalog: items,
		now:     time.Now,
	}
}

// Add puts one unit of the item into the user's cart. An existing line with
// the same key is incremented; otherwise the item is priced from the catalog
// and a new line with quantity 1 is created.
func (s *Service) Add(ctx context.Context, userID int64, key ItemKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	found, err := s.lines.Increment(ctx, userID, key)
	if err != nil {
		return errors.Wrap(err, "increment line")
	}
	if found {
		return nil
	}

	item, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}

	line := Line{
		UserID:    userID,
		Key:       key,
		Name:      item.Name,
		Image:     item.Image,
		Price:     item.Price,
		Quantity:  1,
		CreatedAt: s.now(),
	}
	if err := s.lines.Upsert(ctx, line); err != nil {
		return errors.Wrap(err, "insert line")
	}

	zctx.From(ctx).Debug("Cart line created",
		zap.Int64("user_id", userID),
		zap.Stringer("item", key),
	)
	return nil
}

func (s *Service) resolve(ctx context.Context, key ItemKey) (*catalog.Item, error) {
	var (
		item *catalog.Item
		err  error
	)
	switch key.Kind {
	case KindDish:
		item, err = s.catalog.Dish(ctx, key.ItemID)
	case KindSetMeal:
		item, err = s.catalog.SetMeal(ctx, key.ItemID)
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return nil, errors.Wrapf(err, "resolve %s", key)
	case err != nil:
		return nil, fmt.Errorf("resolve %s: %w: %w", key, ErrCatalogUnavailable, err)
	}
	return item, nil
}

// Sub removes one unit of the item from the user's cart, deleting the line
// when its quantity drops to zero.
func (s *Service) Sub(ctx context.Context, userID int64, key ItemKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if _, err := s.lines.Decrement(ctx, userID, key); err != nil {
		return errors.Wrapf(err, "decrement %s", key)
	}
	return nil
}

// List returns every line in the user's cart.
func (s *Service) List(ctx context.Context, userID int64) ([]Line, error) {
	lines, err := s.lines.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list lines")
	}
	return lines, nil
}

// Clean empties the user's cart.
func (s *Service) Clean(ctx context.Context, userID int64) error {
	if err := s.lines.Clear(ctx, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
