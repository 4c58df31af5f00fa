package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/takeout/internal/domain/cart"
)

// optInt64 reads an integer that may be null.
func optInt64(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.Null {
		return 0, d.Null()
	}
	return d.Int64()
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeItemKey reads {"dishId","setmealId","dishFlavor"}.
func decodeItemKey(r *http.Request) (cart.ItemKey, error) {
	var (
		dishID, setMealID int64
		flavor            string
	)
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "dishId":
			dishID, err = optInt64(d)
		case "setmealId":
			setMealID, err = optInt64(d)
		case "dishFlavor":
			flavor, err = optStr(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return cart.ItemKey{}, err
	}
	return cart.KeyFrom(dishID, setMealID, flavor)
}

func (h *Handler) addToCart(w http.ResponseWriter, r *http.Request) {
	key, err := decodeItemKey(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.carts.Add(r.Context(), userID(r), key); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}

func (h *Handler) subFromCart(w http.ResponseWriter, r *http.Request) {
	key, err := decodeItemKey(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.carts.Sub(r.Context(), userID(r), key); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}

func (h *Handler) listCart(w http.ResponseWriter, r *http.Request) {
	lines, err := h.carts.List(r.Context(), userID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) {
		e.ArrStart()
		for _, l := range lines {
			encodeCartLine(e, l)
		}
		e.ArrEnd()
	})
}

func (h *Handler) cleanCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clean(r.Context(), userID(r)); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}
