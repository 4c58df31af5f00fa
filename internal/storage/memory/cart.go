package memory

import (
	"context"
	"slices"

	"github.com/xenking/takeout/internal/domain/cart"
)

var _ cart.Repository = (*carts)(nil)

type carts struct {
	run runner
}

// consolidated returns the index of the add-path line for key, or -1.
func consolidated(lines []cart.Line, key cart.ItemKey) int {
	return slices.IndexFunc(lines, func(l cart.Line) bool {
		return !l.Replayed && l.Key == key
	})
}

func (r *carts) Increment(_ context.Context, userID int64, key cart.ItemKey) (bool, error) {
	var found bool
	err := r.run(func(st *state) error {
		lines := st.carts[userID]
		if i := consolidated(lines, key); i >= 0 {
			lines[i].Quantity++
			found = true
		}
		return nil
	})
	return found, err
}

func (r *carts) Upsert(_ context.Context, line cart.Line) error {
	return r.run(func(st *state) error {
		lines := st.carts[line.UserID]
		if i := consolidated(lines, line.Key); i >= 0 {
			lines[i].Quantity++
			return nil
		}
		st.lastLineID++
		line.ID = st.lastLineID
		line.Replayed = false
		st.carts[line.UserID] = append(lines, line)
		return nil
	})
}

func (r *carts) Decrement(_ context.Context, userID int64, key cart.ItemKey) (int, error) {
	var remaining int
	err := r.run(func(st *state) error {
		lines := st.carts[userID]
		i := consolidated(lines, key)
		if i < 0 {
			// Newest replayed line.
			for j := len(lines) - 1; j >= 0; j-- {
				if lines[j].Key == key {
					i = j
					break
				}
			}
		}
		if i < 0 {
			return cart.ErrLineNotFound
		}

		if lines[i].Quantity > 1 {
			lines[i].Quantity--
			remaining = lines[i].Quantity
			return nil
		}
		st.carts[userID] = slices.Delete(lines, i, i+1)
		return nil
	})
	return remaining, err
}

func (r *carts) Append(_ context.Context, lines []cart.Line) error {
	return r.run(func(st *state) error {
		for _, l := range lines {
			st.lastLineID++
			l.ID = st.lastLineID
			l.Replayed = true
			st.carts[l.UserID] = append(st.carts[l.UserID], l)
		}
		return nil
	})
}

func (r *carts) List(_ context.Context, userID int64) ([]cart.Line, error) {
	var lines []cart.Line
	err := r.run(func(st *state) error {
		lines = slices.Clone(st.carts[userID])
		return nil
	})
	return lines, err
}

func (r *carts) Remove(_ context.Context, userID int64, ids []int64) error {
	return r.run(func(st *state) error {
		lines := slices.DeleteFunc(st.carts[userID], func(l cart.Line) bool {
			return slices.Contains(ids, l.ID)
		})
		if len(lines) == 0 {
			delete(st.carts, userID)
		} else {
			st.carts[userID] = lines
		}
		return nil
	})
}

func (r *carts) Clear(_ context.Context, userID int64) error {
	return r.run(func(st *state) error {
		delete(st.carts, userID)
		return nil
	})
}
