// Package handler exposes the cart and order services over HTTP.
package handler

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/pkg/httpmiddleware"
)

// HeaderUserID carries the authenticated customer id. It is set by the
// gateway in front of the service.
const HeaderUserID = "X-User-ID"

const maxBodySize = 1 << 20

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// AdminKeyHash is the hex HMAC-SHA256 of the operator API key under
	// Pepper. When empty, admin routes are not authenticated.
	AdminKeyHash string
	Pepper       []byte
	// PaymentSecret verifies the X-Signature of payment callbacks. When
	// empty, callbacks are accepted unsigned.
	PaymentSecret string
}

// Handler serves the user, admin and payment callback routes.
type Handler struct {
	carts  *cart.Service
	orders *order.Service
	cfg    HandlerConfig
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, carts *cart.Service, orders *order.Service) *Handler {
	return &Handler{
		carts:  carts,
		orders: orders,
		cfg:    cfg,
	}
}

// Router returns the route tree of the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/user", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/shoppingCart", func(r chi.Router) {
			r.Post("/add", h.addToCart)
			r.Post("/sub", h.subFromCart)
			r.Get("/list", h.listCart)
			r.Delete("/clean", h.cleanCart)
		})
		r.Route("/order", func(r chi.Router) {
			r.Post("/submit", h.submitOrder)
			r.Put("/payment", h.payOrder)
			r.Get("/historyOrders", h.historyOrders)
			r.Get("/orderDetail/{id}", h.orderDetail)
			r.Put("/cancel/{id}", h.userCancel)
			r.Post("/repetition/{id}", h.repeatOrder)
			r.Get("/reminder/{id}", h.remind)
		})
	})

	r.Route("/api/admin/order", func(r chi.Router) {
		r.Use(AdminAuth(h.cfg.AdminKeyHash, h.cfg.Pepper))

		r.Get("/conditionSearch", h.conditionSearch)
		r.Get("/statistics", h.statistics)
		r.Get("/details/{id}", h.adminDetail)
		r.Put("/confirm", h.confirmOrder)
		r.Put("/rejection", h.rejectOrder)
		r.Put("/cancel", h.adminCancel)
		r.Put("/delivery/{id}", h.deliverOrder)
		r.Put("/complete/{id}", h.completeOrder)
	})

	r.Post("/api/notify/paySuccess", h.paySuccess)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

type userKey struct{}

// requireUser resolves the customer id from HeaderUserID.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "user id required")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, id)
		ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.Int64("user_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(r *http.Request) int64 {
	id, _ := r.Context().Value(userKey{}).(int64)
	return id
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid order id")
	}
	return id, nil
}

// readBody returns the request body, bounded by maxBodySize.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return data, nil
}

// decodeBody iterates over the fields of a JSON object body.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("request body required")
	}
	return jx.DecodeBytes(data).Obj(field)
}

// fail maps err to a response status through order.KindOf. Internal errors
// are logged and their message hidden.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch order.KindOf(err) {
	case order.KindNotFound:
		status = http.StatusNotFound
	case order.KindInvalidState:
		status = http.StatusConflict
	case order.KindValidation:
		status = http.StatusBadRequest
	case order.KindUpstream:
		status = http.StatusBadGateway
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "internal error"
	} else if status == http.StatusBadGateway {
		zctx.From(r.Context()).Warn("Upstream failure", zap.Error(err))
	}
	httpmiddleware.WriteError(w, status, msg)
}

func badRequest(w http.ResponseWriter, err error) {
	httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
}

// writeJSON writes the object produced by encode with status 200.
func writeJSON(w http.ResponseWriter, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
