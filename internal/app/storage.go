package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/takeout/db"
	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/catalog"
	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/internal/storage/memory"
	"github.com/xenking/takeout/internal/storage/postgres"
	"github.com/xenking/takeout/internal/storage/seed"
	"github.com/xenking/takeout/pkg/health"
)

// storage groups the stores the services are built on.
type storage struct {
	orders    order.Repository
	carts     cart.Repository
	tx        order.Transactor
	catalog   catalog.Resolver
	addresses address.Resolver

	// ping is nil for the in-memory store.
	ping  health.Pinger
	close func()
}

// openStorage connects to PostgreSQL and applies migrations. Without a
// database URL it returns an in-memory store loaded with the development
// catalog.
func openStorage(ctx context.Context, lg *zap.Logger, databaseURL string) (*storage, error) {
	if databaseURL == "" {
		lg.Warn("Database URL not configured, keeping state in memory")
		store, err := memoryStore()
		if err != nil {
			return nil, err
		}
		return &storage{
			orders:    store.Orders(),
			carts:     store.Carts(),
			tx:        store,
			catalog:   store,
			addresses: store,
			close:     func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return &storage{
		orders:    postgres.NewOrderRepository(pool),
		carts:     postgres.NewCartRepository(pool),
		tx:        postgres.NewTransactor(pool),
		catalog:   postgres.NewCatalogRepository(pool),
		addresses: postgres.NewAddressRepository(pool),
		ping:      pool,
		close:     pool.Close,
	}, nil
}

// memoryStore returns a Store holding the embedded seed data with IDs
// assigned in file order.
func memoryStore() (*memory.Store, error) {
	data, err := seed.Parse(db.Catalog)
	if err != nil {
		return nil, err
	}
	store := memory.New()
	for i, item := range data.Dishes {
		item.ID = int64(i + 1)
		store.AddDish(item)
	}
	for i, item := range data.SetMeals {
		item.ID = int64(i + 1)
		store.AddSetMeal(item)
	}
	for i, a := range data.Addresses {
		a.ID = int64(i + 1)
		store.AddAddress(a)
	}
	return store, nil
}
