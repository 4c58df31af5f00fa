package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// decodeIDReason reads {"id":..,<reasonField>:..}.
func decodeIDReason(r *http.Request, reasonField string) (id int64, reason string, err error) {
	err = decodeBody(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			id, err = d.Int64()
		case reasonField:
			reason, err = optStr(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err == nil && id <= 0 {
		err = errors.New("order id required")
	}
	return id, reason, err
}

func (h *Handler) conditionSearch(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		badRequest(w, err)
		return
	}
	h.search(w, r, q)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.CountStatus(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) { encodeStatistics(e, stats) })
}

func (h *Handler) adminDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	id, _, err := decodeIDReason(r, "")
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.orders.Confirm(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}

func (h *Handler) rejectOrder(w http.ResponseWriter, r *http.Request) {
	id, reason, err := decodeIDReason(r, "rejectionReason")
	if err == nil && reason == "" {
		err = errors.New("rejectionReason required")
	}
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.orders.Reject(r.Context(), id, reason); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}

func (h *Handler) adminCancel(w http.ResponseWriter, r *http.Request) {
	id, reason, err := decodeIDReason(r, "cancelReason")
	if err != nil {
		badRequest(w, err)
		return
	}
	h.cancel(w, r, id, reason)
}

func (h *Handler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.orders.StartDelivery(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := h.orders.Complete(r.Context(), id); err != nil {
		fail(w, r, err)
		return
	}
	noContent(w)
}
