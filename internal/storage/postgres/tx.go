package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/order"
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs units of work inside one database transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor over pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

type unitOfWork struct {
	orders *OrderRepository
	carts  *CartRepository
}

func (u unitOfWork) Orders() order.Repository { return u.orders }
func (u unitOfWork) Carts() cart.Repository   { return u.carts }

// WithinTx commits when fn returns nil and rolls back otherwise. Cart lines
// listed inside the transaction stay locked until it ends.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		return fn(ctx, unitOfWork{
			orders: NewOrderRepository(tx),
			carts:  &CartRepository{db: tx, lock: true},
		})
	})
}
