package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/internal/paygate"
	"github.com/xenking/takeout/pkg/httpmiddleware"
)

// HeaderSignature carries the gateway's signature of the callback body.
const HeaderSignature = "X-Signature"

// paySuccess handles the gateway's payment callback. The gateway retries
// until it gets a 2xx, so business rejections such as a duplicate callback
// are acknowledged and only transient failures answer 5xx.
func (h *Handler) paySuccess(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if h.cfg.PaymentSecret != "" && !paygate.Verify(h.cfg.PaymentSecret, body, r.Header.Get(HeaderSignature)) {
		httpmiddleware.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	n, err := paygate.ParseNotification(body)
	if err != nil {
		badRequest(w, err)
		return
	}

	lg := zctx.From(r.Context()).With(zap.String("order_number", n.OrderNumber))
	if n.Succeeded() {
		err = h.orders.ConfirmPayment(r.Context(), n.OrderNumber)
		switch kind := order.KindOf(err); {
		case err == nil:
		case kind == order.KindInvalidState || kind == order.KindNotFound:
			lg.Warn("Payment callback rejected", zap.Error(err))
		default:
			fail(w, r, err)
			return
		}
	} else {
		lg.Info("Ignoring unsuccessful payment", zap.String("trade_state", n.TradeState))
	}

	writeJSON(w, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Str(paygate.TradeSuccess)
		e.FieldStart("message")
		e.Str("OK")
		e.ObjEnd()
	})
}
