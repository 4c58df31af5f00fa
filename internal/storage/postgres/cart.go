package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/takeout/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db DBTX
	// lock makes List take row locks; set for transaction-bound instances.
	lock bool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(db DBTX) *CartRepository {
	return &CartRepository{db: db}
}

const cartColumns = `id, user_id, item_kind, item_id, flavor, name, image, price, quantity, replayed, created_at`

// Increment adds one unit to the consolidated line for key.
func (r *CartRepository) Increment(ctx context.Context, userID int64, key cart.ItemKey) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE cart_lines SET quantity = quantity + 1
		WHERE user_id = $1 AND item_kind = $2 AND item_id = $3 AND flavor = $4 AND NOT replayed`,
		userID, int16(key.Kind), key.ItemID, key.Flavor,
	)
	if err != nil {
		return false, errors.Wrapf(err, "increment %s", key)
	}
	return tag.RowsAffected() > 0, nil
}

// Upsert inserts a consolidated line. A concurrent insert of the same key
// turns into an increment through the partial unique index.
func (r *CartRepository) Upsert(ctx context.Context, l cart.Line) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO cart_lines (user_id, item_kind, item_id, flavor, name, image, price, quantity, replayed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		ON CONFLICT (user_id, item_kind, item_id, flavor) WHERE NOT replayed
		DO UPDATE SET quantity = cart_lines.quantity + 1`,
		l.UserID, int16(l.Key.Kind), l.Key.ItemID, l.Key.Flavor,
		l.Name, l.Image, l.Price, l.Quantity, l.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert %s", l.Key)
	}
	return nil
}

// Decrement removes one unit from the consolidated line, or from the newest
// replayed line when there is none, in a single statement.
func (r *CartRepository) Decrement(ctx context.Context, userID int64, key cart.ItemKey) (int, error) {
	var remaining int
	err := r.db.QueryRow(ctx, `
		WITH target AS (
			SELECT id, quantity FROM cart_lines
			WHERE user_id = $1 AND item_kind = $2 AND item_id = $3 AND flavor = $4
			ORDER BY replayed, id DESC
			LIMIT 1
			FOR UPDATE
		), decremented AS (
			UPDATE cart_lines c SET quantity = c.quantity - 1
			FROM target t
			WHERE c.id = t.id AND t.quantity > 1
			RETURNING c.quantity
		), deleted AS (
			DELETE FROM cart_lines c
			USING target t
			WHERE c.id = t.id AND t.quantity <= 1
			RETURNING 0 AS quantity
		)
		SELECT quantity FROM decremented
		UNION ALL
		SELECT quantity FROM deleted`,
		userID, int16(key.Kind), key.ItemID, key.Flavor,
	).Scan(&remaining)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, cart.ErrLineNotFound
	case err != nil:
		return 0, errors.Wrapf(err, "decrement %s", key)
	}
	return remaining, nil
}

// Append copies replayed lines into the cart.
func (r *CartRepository) Append(ctx context.Context, lines []cart.Line) error {
	_, err := r.db.CopyFrom(ctx, pgx.Identifier{"cart_lines"},
		[]string{"user_id", "item_kind", "item_id", "flavor", "name", "image", "price", "quantity", "replayed", "created_at"},
		pgx.CopyFromSlice(len(lines), func(i int) ([]any, error) {
			l := lines[i]
			return []any{
				l.UserID, int16(l.Key.Kind), l.Key.ItemID, l.Key.Flavor,
				l.Name, l.Image, l.Price, l.Quantity, true, l.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy cart lines")
	}
	return nil
}

// List returns the user's cart lines in insertion order.
func (r *CartRepository) List(ctx context.Context, userID int64) ([]cart.Line, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_lines WHERE user_id = $1 ORDER BY id`
	if r.lock {
		query += ` FOR UPDATE`
	}

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var (
			l    cart.Line
			kind int16
		)
		err := row.Scan(
			&l.ID, &l.UserID, &kind, &l.Key.ItemID, &l.Key.Flavor, &l.Name,
			&l.Image, &l.Price, &l.Quantity, &l.Replayed, &l.CreatedAt,
		)
		l.Key.Kind = cart.ItemKind(kind)
		return l, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan cart")
	}
	return lines, nil
}

// Remove deletes the given lines.
func (r *CartRepository) Remove(ctx context.Context, userID int64, ids []int64) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM cart_lines WHERE user_id = $1 AND id = ANY($2)`, userID, ids,
	); err != nil {
		return errors.Wrap(err, "remove cart lines")
	}
	return nil
}

// Clear deletes every line of the user's cart.
func (r *CartRepository) Clear(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID); err != nil {
		return errors.Wrap(err, "clear cart")
	}
	return nil
}
