package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/catalog"
)

var (
	_ catalog.Resolver = (*CatalogRepository)(nil)
	_ address.Resolver = (*AddressRepository)(nil)
)

// statusOnSale marks catalog entries that can be ordered.
const statusOnSale = 1

// CatalogRepository resolves dishes and set meals from their tables.
type CatalogRepository struct {
	db DBTX
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(db DBTX) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// Dish implements catalog.Resolver.
func (r *CatalogRepository) Dish(ctx context.Context, id int64) (*catalog.Item, error) {
	return r.item(ctx, `SELECT id, name, image, price FROM dishes WHERE id = $1 AND status = $2`, id)
}

// SetMeal implements catalog.Resolver.
func (r *CatalogRepository) SetMeal(ctx context.Context, id int64) (*catalog.Item, error) {
	return r.item(ctx, `SELECT id, name, image, price FROM setmeals WHERE id = $1 AND status = $2`, id)
}

func (r *CatalogRepository) item(ctx context.Context, query string, id int64) (*catalog.Item, error) {
	var item catalog.Item
	err := r.db.QueryRow(ctx, query, id, statusOnSale).Scan(&item.ID, &item.Name, &item.Image, &item.Price)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, catalog.ErrNotFound
	case err != nil:
		return nil, errors.Wrapf(err, "get item %d", id)
	}
	return &item, nil
}

// UpsertDish inserts or updates a dish by name and returns its ID.
func (r *CatalogRepository) UpsertDish(ctx context.Context, item catalog.Item) (int64, error) {
	return r.upsert(ctx, "dishes", item)
}

// UpsertSetMeal inserts or updates a set meal by name and returns its ID.
func (r *CatalogRepository) UpsertSetMeal(ctx context.Context, item catalog.Item) (int64, error) {
	return r.upsert(ctx, "setmeals", item)
}

func (r *CatalogRepository) upsert(ctx context.Context, table string, item catalog.Item) (int64, error) {
	query, args, err := psql.Insert(table).
		Columns("name", "image", "price", "status").
		Values(item.Name, item.Image, item.Price, statusOnSale).
		Suffix("ON CONFLICT (name) DO UPDATE SET image = EXCLUDED.image, price = EXCLUDED.price RETURNING id").
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build query")
	}
	var id int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "upsert %s %q", table, item.Name)
	}
	return id, nil
}

// AddressRepository resolves address book entries.
type AddressRepository struct {
	db DBTX
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(db DBTX) *AddressRepository {
	return &AddressRepository{db: db}
}

// Get implements address.Resolver. Entries of other users are not found.
func (r *AddressRepository) Get(ctx context.Context, userID, id int64) (*address.Address, error) {
	var a address.Address
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, consignee, phone, province_name, city_name, district_name, detail
		FROM address_book
		WHERE id = $1 AND user_id = $2`, id, userID,
	).Scan(&a.ID, &a.UserID, &a.Consignee, &a.Phone, &a.Province, &a.City, &a.District, &a.Detail)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, address.ErrNotFound
	case err != nil:
		return nil, errors.Wrapf(err, "get address %d", id)
	}
	return &a, nil
}

// Insert adds an address book entry and sets its ID.
func (r *AddressRepository) Insert(ctx context.Context, a *address.Address) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO address_book (user_id, consignee, phone, province_name, city_name, district_name, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.UserID, a.Consignee, a.Phone, a.Province, a.City, a.District, a.Detail,
	).Scan(&a.ID)
	if err != nil {
		return errors.Wrapf(err, "insert address for user %d", a.UserID)
	}
	return nil
}
