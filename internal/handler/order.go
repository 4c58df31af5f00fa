package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/takeout/internal/domain/order"
)

// timeLayouts are accepted for time inputs, most specific first.
var timeLayouts = []string{time.RFC3339, time.DateTime}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("invalid time %q", s)
}

func decodeSubmit(r *http.Request) (order.SubmitRequest, error) {
	var req order.SubmitRequest
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "addressBookId":
			req.AddressID, err = d.Int64()
		case "payMethod":
			var m int
			m, err = d.Int()
			req.PayMethod = order.PayMethod(m)
		case "remark":
			req.Remark, err = optStr(d)
		case "tablewareNumber":
			req.TablewareNumber, err = d.Int()
		case "estimatedDeliveryTime":
			var s string
			if s, err = optStr(d); err == nil && s != "" {
				var t time.Time
				t, err = parseTime(s)
				req.EstimatedDeliveryTime = &t
			}
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return req, err
	}
	if req.AddressID <= 0 {
		return req, errors.New("addressBookId required")
	}
	return req, nil
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSubmit(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	receipt, err := h.orders.Submit(r.Context(), userID(r), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) { encodeReceipt(e, receipt) })
}

func (h *Handler) payOrder(w http.ResponseWriter, r *http.Request) {
	var number string
	err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "orderNumber" {
			return d.Skip()
		}
		var err error
		number, err = d.Str()
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err == nil && number == "" {
		err = errors.New("orderNumber required")
	}
	if err != nil {
		badRequest(w, err)
		return
	}

	prepay, err := h.orders.Prepay(r.Context(), userID(r), number)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) { encodePrepay(e, prepay) })
}

// parseQuery reads the paging and filter parameters of order listings.
func parseQuery(v url.Values) (order.Query, error) {
	var (
		q   order.Query
		err error
	)
	ints := []struct {
		name string
		dst  *int
	}{
		{"page", &q.Page},
		{"pageSize", &q.PageSize},
	}
	for _, p := range ints {
		if s := v.Get(p.name); s != "" {
			if *p.dst, err = strconv.Atoi(s); err != nil {
				return q, errors.Errorf("invalid %s %q", p.name, s)
			}
		}
	}
	if s := v.Get("status"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || !order.Status(n).Valid() {
			return q, errors.Errorf("invalid status %q", s)
		}
		q.Status = order.Status(n)
	}
	q.Number = v.Get("number")
	q.Phone = v.Get("phone")
	if s := v.Get("beginTime"); s != "" {
		if q.BeginTime, err = parseTime(s); err != nil {
			return q, err
		}
	}
	if s := v.Get("endTime"); s != "" {
		if q.EndTime, err = parseTime(s); err != nil {
			return q, err
		}
	}
	return q, nil
}

func (h *Handler) historyOrders(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		badRequest(w, err)
		return
	}
	q.UserID = userID(r)
	h.search(w, r, q)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, q order.Query) {
	page, err := h.orders.Search(r.Context(), q)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) { encodePage(e, page) })
}

func (h *Handler) orderDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	o, err := h.orders.GetOwned(r.Context(), userID(r), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// owned resolves the {id} parameter to an order of the current user.
func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return 0, false
	}
	if _, err := h.orders.GetOwned(r.Context(), userID(r), id); err != nil {
		fail(w, r, err)
		return 0, false
	}
	return id, true
}

func (h *Handler) userCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.owned(w, r)
	if !ok {
		return
	}
	var reason string
	if r.ContentLength != 0 {
		err := decodeBody(r, func(d *jx.Decoder, key string) error {
			if key != "cancelReason" {
				return d.Skip()
			}
			var err error
			reason, err = optStr(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			return nil
		})
		if err != nil {
			badRequest(w, err)
			return
		}
	}
	h.cancel(w, r, id, reason)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request, id int64, reason string) {
	res, err := h.orders.Cancel(r.Context(), id, reason)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("order")
		encodeOrder(e, res.Order)
		e.FieldStart("refunded")
		e.Bool(res.Refunded)
		if res.RefundErr != nil {
			e.FieldStart("refundError")
			e.Str(res.RefundErr.Error())
		}
		e.ObjEnd()
	})
}

func (h *Handler) repeatOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	n, err := h.orders.Reorder(r.Context(), userID(r), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("lines")
		e.Int(n)
		e.ObjEnd()
	})
}

func (h *Handler) remind(w http.ResponseWriter, r *http.Request) {
	id, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.orders.Reminder(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}
