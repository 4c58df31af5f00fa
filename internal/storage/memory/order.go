package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/takeout/internal/domain/order"
)

var _ order.Repository = (*orders)(nil)

type orders struct {
	run runner
}

func (r *orders) Insert(_ context.Context, o *order.Order) error {
	return r.run(func(st *state) error {
		if _, ok := st.numbers[o.Number]; ok {
			return errors.Errorf("duplicate order number %q", o.Number)
		}
		st.lastOrderID++
		o.ID = st.lastOrderID

		stored := *o
		stored.Lines = nil
		st.orders[o.ID] = stored
		st.numbers[o.Number] = o.ID
		return nil
	})
}

func (r *orders) InsertLines(_ context.Context, lines []order.Line) error {
	return r.run(func(st *state) error {
		for _, l := range lines {
			if _, ok := st.orders[l.OrderID]; !ok {
				return errors.Errorf("order %d does not exist", l.OrderID)
			}
			st.lines[l.OrderID] = append(st.lines[l.OrderID], l)
		}
		return nil
	})
}

func (r *orders) Get(_ context.Context, id int64) (*order.Order, error) {
	var o order.Order
	err := r.run(func(st *state) error {
		v, ok := st.orders[id]
		if !ok {
			return errors.Wrapf(order.ErrNotFound, "order %d", id)
		}
		o = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orders) GetByNumber(_ context.Context, number string) (*order.Order, error) {
	var o order.Order
	err := r.run(func(st *state) error {
		id, ok := st.numbers[number]
		if !ok {
			return errors.Wrapf(order.ErrNotFound, "order %s", number)
		}
		o = st.orders[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orders) Lines(_ context.Context, orderID int64) ([]order.Line, error) {
	var lines []order.Line
	err := r.run(func(st *state) error {
		lines = slices.Clone(st.lines[orderID])
		return nil
	})
	return lines, err
}

func (r *orders) LinesOf(_ context.Context, orderIDs []int64) (map[int64][]order.Line, error) {
	out := make(map[int64][]order.Line, len(orderIDs))
	err := r.run(func(st *state) error {
		for _, id := range orderIDs {
			if lines, ok := st.lines[id]; ok {
				out[id] = slices.Clone(lines)
			}
		}
		return nil
	})
	return out, err
}

func (r *orders) Transition(_ context.Context, id int64, from order.Status, p order.Patch) error {
	return r.run(func(st *state) error {
		o, ok := st.orders[id]
		if !ok {
			return errors.Wrapf(order.ErrNotFound, "order %d", id)
		}
		if o.Status != from || (p.ExpectPay != nil && o.PayStatus != *p.ExpectPay) {
			return order.ErrStatusConflict
		}

		o.Status = p.Status
		if p.Pay != nil {
			o.PayStatus = *p.Pay
		}
		if p.CheckoutTime != nil {
			o.CheckoutTime = p.CheckoutTime
		}
		if p.DeliveryTime != nil {
			o.DeliveryTime = p.DeliveryTime
		}
		if p.CancelTime != nil {
			o.CancelTime = p.CancelTime
		}
		if p.CancelReason != "" {
			o.CancelReason = p.CancelReason
		}
		if p.RejectionReason != "" {
			o.RejectionReason = p.RejectionReason
		}
		st.orders[id] = o
		return nil
	})
}

func (r *orders) CountByStatus(_ context.Context, statuses ...order.Status) (map[order.Status]int, error) {
	counts := make(map[order.Status]int, len(statuses))
	err := r.run(func(st *state) error {
		for _, o := range st.orders {
			if slices.Contains(statuses, o.Status) {
				counts[o.Status]++
			}
		}
		return nil
	})
	return counts, err
}

func (r *orders) Search(_ context.Context, q order.Query) ([]order.Order, int, error) {
	var matched []order.Order
	err := r.run(func(st *state) error {
		for _, o := range st.orders {
			if matches(o, q) {
				matched = append(matched, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	slices.SortFunc(matched, func(a, b order.Order) int {
		if c := b.OrderTime.Compare(a.OrderTime); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matched)
	start := min(q.Offset(), total)
	end := min(start+q.PageSize, total)
	return matched[start:end], total, nil
}

func matches(o order.Order, q order.Query) bool {
	switch {
	case q.UserID != 0 && o.UserID != q.UserID:
		return false
	case q.Status != 0 && o.Status != q.Status:
		return false
	case q.Number != "" && !strings.Contains(o.Number, q.Number):
		return false
	case q.Phone != "" && !strings.Contains(o.Phone, q.Phone):
		return false
	case !q.BeginTime.IsZero() && o.OrderTime.Before(q.BeginTime):
		return false
	case !q.EndTime.IsZero() && o.OrderTime.After(q.EndTime):
		return false
	}
	return true
}
