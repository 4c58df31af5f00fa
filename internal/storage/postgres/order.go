package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses the given pool or
// transaction.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

var orderColumns = []string{
	"id", "number", "user_id", "status", "pay_status", "pay_method", "amount",
	"address_book_id", "consignee", "phone", "address", "remark",
	"tableware_number", "estimated_delivery_time", "order_time",
	"checkout_time", "delivery_time", "cancel_time", "cancel_reason",
	"rejection_reason",
}

var lineColumns = []string{
	"order_id", "seq", "item_kind", "item_id", "flavor", "name", "image",
	"price", "quantity",
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		o                            order.Order
		status, payStatus, payMethod int16
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &status, &payStatus, &payMethod, &o.Amount,
		&o.AddressID, &o.Consignee, &o.Phone, &o.Address, &o.Remark,
		&o.TablewareNumber, &o.EstimatedDeliveryTime, &o.OrderTime,
		&o.CheckoutTime, &o.DeliveryTime, &o.CancelTime, &o.CancelReason,
		&o.RejectionReason,
	)
	if err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	o.PayStatus = order.PayStatus(payStatus)
	o.PayMethod = order.PayMethod(payMethod)
	return &o, nil
}

func scanLine(row pgx.Row) (order.Line, error) {
	var (
		l    order.Line
		kind int16
	)
	err := row.Scan(
		&l.OrderID, &l.Seq, &kind, &l.Key.ItemID, &l.Key.Flavor, &l.Name,
		&l.Image, &l.Price, &l.Quantity,
	)
	l.Key.Kind = cart.ItemKind(kind)
	return l, err
}

// Insert stores a new order and sets its generated ID.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	query, args, err := psql.Insert("orders").
		Columns(orderColumns[1:]...).
		Values(
			o.Number, o.UserID, int16(o.Status), int16(o.PayStatus), int16(o.PayMethod), o.Amount,
			o.AddressID, o.Consignee, o.Phone, o.Address, o.Remark,
			o.TablewareNumber, o.EstimatedDeliveryTime, o.OrderTime,
			o.CheckoutTime, o.DeliveryTime, o.CancelTime, o.CancelReason,
			o.RejectionReason,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(&o.ID); err != nil {
		return errors.Wrapf(err, "insert order %s", o.Number)
	}
	return nil
}

// InsertLines copies all lines in a single round trip.
func (r *OrderRepository) InsertLines(ctx context.Context, lines []order.Line) error {
	_, err := r.db.CopyFrom(ctx, pgx.Identifier{"order_lines"}, lineColumns,
		pgx.CopyFromSlice(len(lines), func(i int) ([]any, error) {
			l := lines[i]
			return []any{
				l.OrderID, l.Seq, int16(l.Key.Kind), l.Key.ItemID, l.Key.Flavor,
				l.Name, l.Image, l.Price, l.Quantity,
			}, nil
		}),
	)
	if err != nil {
		return errors.Wrap(err, "copy order lines")
	}
	return nil
}

func (r *OrderRepository) getBy(ctx context.Context, pred sq.Eq) (*order.Order, error) {
	query, args, err := psql.Select(orderColumns...).From("orders").Where(pred).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	return scanOrder(r.db.QueryRow(ctx, query, args...))
}

// Get returns the order by ID without lines.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	o, err := r.getBy(ctx, sq.Eq{"id": id})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errors.Wrapf(order.ErrNotFound, "order %d", id)
	case err != nil:
		return nil, errors.Wrapf(err, "get order %d", id)
	}
	return o, nil
}

// GetByNumber returns the order with the given business number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	o, err := r.getBy(ctx, sq.Eq{"number": number})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errors.Wrapf(order.ErrNotFound, "order %s", number)
	case err != nil:
		return nil, errors.Wrapf(err, "get order %s", number)
	}
	return o, nil
}

// Lines returns the lines of one order in sequence order.
func (r *OrderRepository) Lines(ctx context.Context, orderID int64) ([]order.Line, error) {
	byOrder, err := r.LinesOf(ctx, []int64{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

// LinesOf returns the lines of several orders grouped by order ID.
func (r *OrderRepository) LinesOf(ctx context.Context, orderIDs []int64) (map[int64][]order.Line, error) {
	query, args, err := psql.Select(lineColumns...).
		From("order_lines").
		Where("order_id = ANY(?)", orderIDs).
		OrderBy("order_id", "seq").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query order lines")
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		return scanLine(row)
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan order lines")
	}

	out := make(map[int64][]order.Line, len(orderIDs))
	for _, l := range lines {
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, nil
}

// Transition updates the order only while it is still in status from. It
// returns order.ErrStatusConflict when another writer moved it first.
func (r *OrderRepository) Transition(ctx context.Context, id int64, from order.Status, p order.Patch) error {
	b := psql.Update("orders").
		Set("status", int16(p.Status)).
		Where(sq.Eq{"id": id, "status": int16(from)})
	if p.ExpectPay != nil {
		b = b.Where(sq.Eq{"pay_status": int16(*p.ExpectPay)})
	}
	if p.Pay != nil {
		b = b.Set("pay_status", int16(*p.Pay))
	}
	if p.CheckoutTime != nil {
		b = b.Set("checkout_time", *p.CheckoutTime)
	}
	if p.DeliveryTime != nil {
		b = b.Set("delivery_time", *p.DeliveryTime)
	}
	if p.CancelTime != nil {
		b = b.Set("cancel_time", *p.CancelTime)
	}
	if p.CancelReason != "" {
		b = b.Set("cancel_reason", p.CancelReason)
	}
	if p.RejectionReason != "" {
		b = b.Set("rejection_reason", p.RejectionReason)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update order %d", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check order %d", id)
	}
	if !exists {
		return errors.Wrapf(order.ErrNotFound, "order %d", id)
	}
	return order.ErrStatusConflict
}

// CountByStatus counts orders in each of the given statuses.
func (r *OrderRepository) CountByStatus(ctx context.Context, statuses ...order.Status) (map[order.Status]int, error) {
	codes := make([]int16, len(statuses))
	for i, s := range statuses {
		codes[i] = int16(s)
	}

	rows, err := r.db.Query(ctx,
		`SELECT status, count(*) FROM orders WHERE status = ANY($1) GROUP BY status`, codes)
	if err != nil {
		return nil, errors.Wrap(err, "count orders")
	}
	defer rows.Close()

	counts := make(map[order.Status]int, len(statuses))
	for rows.Next() {
		var (
			status int16
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		counts[order.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate counts")
	}
	return counts, nil
}

// Search returns one page of matching orders, newest first, and the total
// number of matches. Number and phone match as literal substrings.
func (r *OrderRepository) Search(ctx context.Context, q order.Query) ([]order.Order, int, error) {
	where := sq.And{}
	if q.UserID != 0 {
		where = append(where, sq.Eq{"user_id": q.UserID})
	}
	if q.Status != 0 {
		where = append(where, sq.Eq{"status": int16(q.Status)})
	}
	if q.Number != "" {
		where = append(where, sq.Expr("strpos(number, ?) > 0", q.Number))
	}
	if q.Phone != "" {
		where = append(where, sq.Expr("strpos(phone, ?) > 0", q.Phone))
	}
	if !q.BeginTime.IsZero() {
		where = append(where, sq.GtOrEq{"order_time": q.BeginTime})
	}
	if !q.EndTime.IsZero() {
		where = append(where, sq.LtOrEq{"order_time": q.EndTime})
	}

	query, args, err := psql.Select("count(*)").From("orders").Where(where).ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "build count query")
	}
	var total int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count orders")
	}
	if total == 0 {
		return nil, 0, nil
	}

	query, args, err = psql.Select(orderColumns...).
		From("orders").
		Where(where).
		OrderBy("order_time DESC", "id DESC").
		Limit(uint64(q.PageSize)).
		Offset(uint64(q.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, errors.Wrap(err, "build search query")
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "search orders")
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		o, err := scanOrder(row)
		if err != nil {
			return order.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	return orders, total, nil
}
