package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/catalog"
	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/internal/handler"
	"github.com/xenking/takeout/internal/paygate"
	"github.com/xenking/takeout/internal/storage/memory"
)

const (
	customer = "7"
	stranger = "8"
)

type recorder struct {
	mu     sync.Mutex
	events []order.Event
}

func (r *recorder) Broadcast(_ context.Context, e order.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) sent() []order.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.Event(nil), r.events...)
}

type env struct {
	srv      http.Handler
	gateway  *paygate.Sandbox
	notifier *recorder
}

func newEnv(t *testing.T, cfg handler.HandlerConfig) *env {
	t.Helper()

	store := memory.New()
	store.AddDish(catalog.Item{ID: 1, Name: "Kung Pao Chicken", Image: "kp.png", Price: decimal.RequireFromString("12.00")})
	store.AddSetMeal(catalog.Item{ID: 2, Name: "Lunch Set", Image: "set.png", Price: decimal.RequireFromString("30.50")})
	store.AddAddress(address.Address{
		ID: 100, UserID: 7, Consignee: "Li Lei", Phone: "13800000000",
		Province: "Zhejiang", City: "Hangzhou", District: "Xihu", Detail: "1 Lake Road",
	})

	e := &env{gateway: paygate.NewSandbox(), notifier: &recorder{}}
	carts := cart.NewService(store.Carts(), store)
	orders := order.NewService(store.Orders(), store.Carts(), store, store, e.gateway, e.notifier)
	e.srv = handler.NewHandler(cfg, carts, orders).Router()
	return e
}

type call struct {
	method string
	path   string
	body   string
	user   string
	header map[string]string
}

func (e *env) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.user != "" {
		req.Header.Set(handler.HeaderUserID, c.user)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// submit fills the cart and places an order, returning its id and number.
func (e *env) submit(t *testing.T) (int64, string) {
	t.Helper()
	for _, body := range []string{
		`{"dishId":1,"dishFlavor":"spicy, no onion"}`,
		`{"dishId":1,"setmealId":null,"dishFlavor":"no onion,spicy"}`,
		`{"setmealId":2}`,
	} {
		w := e.do(t, call{method: http.MethodPost, path: "/api/user/shoppingCart/add", body: body, user: customer})
		require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	}

	w := e.do(t, call{
		method: http.MethodPost,
		path:   "/api/user/order/submit",
		body:   `{"addressBookId":100,"payMethod":1,"remark":"no cutlery","tablewareNumber":0,"estimatedDeliveryTime":"2024-05-01T13:00:00Z"}`,
		user:   customer,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, 54.5, res["orderAmount"])
	return int64(res["id"].(float64)), res["orderNumber"].(string)
}

func (e *env) pay(t *testing.T, number string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, call{
		method: http.MethodPost,
		path:   "/api/notify/paySuccess",
		body:   `{"out_trade_no":"` + number + `","transaction_id":"tx-1","trade_state":"SUCCESS"}`,
	})
}

func path(prefix string, id int64) string {
	return prefix + strconv.FormatInt(id, 10)
}

func TestCartRoutes(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})

	add := func(body string) int {
		return e.do(t, call{method: http.MethodPost, path: "/api/user/shoppingCart/add", body: body, user: customer}).Code
	}
	assert.Equal(t, http.StatusNoContent, add(`{"dishId":1,"dishFlavor":"mild"}`))
	assert.Equal(t, http.StatusNoContent, add(`{"dishId":1,"dishFlavor":" mild "}`))
	assert.Equal(t, http.StatusBadRequest, add(`{"dishId":1,"setmealId":2}`))
	assert.Equal(t, http.StatusBadRequest, add(`{"setmealId":2,"dishFlavor":"hot"}`))
	assert.Equal(t, http.StatusBadRequest, add(`not json`))
	assert.Equal(t, http.StatusNotFound, add(`{"dishId":99}`))

	w := e.do(t, call{method: http.MethodGet, path: "/api/user/shoppingCart/list", user: customer})
	require.Equal(t, http.StatusOK, w.Code)
	var lines []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &lines))
	require.Len(t, lines, 1)
	assert.Equal(t, float64(2), lines[0]["number"])
	assert.Equal(t, "mild", lines[0]["dishFlavor"])
	assert.Nil(t, lines[0]["setmealId"])

	w = e.do(t, call{method: http.MethodPost, path: "/api/user/shoppingCart/sub", body: `{"dishId":1,"dishFlavor":"mild"}`, user: customer})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, call{method: http.MethodPost, path: "/api/user/shoppingCart/sub", body: `{"setmealId":2}`, user: customer})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, call{method: http.MethodDelete, path: "/api/user/shoppingCart/clean", user: customer})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, call{method: http.MethodGet, path: "/api/user/shoppingCart/list", user: customer})
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestRequireUser(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})
	for _, user := range []string{"", "abc", "-1"} {
		w := e.do(t, call{method: http.MethodGet, path: "/api/user/shoppingCart/list", user: user})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "user %q", user)
	}
}

func TestUserOrderFlow(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})
	id, number := e.submit(t)

	w := e.do(t, call{method: http.MethodPut, path: "/api/user/order/payment", body: `{"orderNumber":"` + number + `","payMethod":1}`, user: customer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "sandbox-"+number, decode(t, w)["transactionId"])

	w = e.do(t, call{method: http.MethodPut, path: "/api/user/order/payment", body: `{"orderNumber":"` + number + `"}`, user: stranger})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.pay(t, number)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, e.notifier.sent(), 1)
	assert.Equal(t, order.EventNewOrder, e.notifier.sent()[0].Type)

	// A repeated callback is acknowledged without a second notification.
	w = e.pay(t, number)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, e.notifier.sent(), 1)

	w = e.do(t, call{method: http.MethodPut, path: "/api/user/order/payment", body: `{"orderNumber":"` + number + `"}`, user: customer})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, call{method: http.MethodGet, path: path("/api/user/order/orderDetail/", id), user: customer})
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	assert.Equal(t, float64(order.StatusToBeConfirmed), detail["status"])
	assert.Equal(t, float64(order.PayPaid), detail["payStatus"])
	assert.Equal(t, "Kung Pao Chicken*2;Lunch Set*1;", detail["orderDishes"])
	assert.Equal(t, "ZhejiangHangzhouXihu1 Lake Road", detail["address"])
	assert.Equal(t, "2024-05-01T13:00:00Z", detail["estimatedDeliveryTime"])
	assert.Len(t, detail["orderDetailList"], 2)

	w = e.do(t, call{method: http.MethodGet, path: path("/api/user/order/orderDetail/", id), user: stranger})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, call{method: http.MethodGet, path: path("/api/user/order/reminder/", id), user: customer})
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, e.notifier.sent(), 2)
	assert.Equal(t, order.EventReminder, e.notifier.sent()[1].Type)

	w = e.do(t, call{method: http.MethodGet, path: "/api/user/order/historyOrders?page=1&pageSize=5", user: customer})
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Equal(t, float64(1), page["total"])

	w = e.do(t, call{method: http.MethodGet, path: "/api/user/order/historyOrders", user: stranger})
	assert.JSONEq(t, `{"total":0,"records":[]}`, w.Body.String())

	w = e.do(t, call{method: http.MethodPut, path: path("/api/user/order/cancel/", id), body: `{"cancelReason":"changed my mind"}`, user: customer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, true, res["refunded"])
	assert.Equal(t, "changed my mind", res["order"].(map[string]any)["cancelReason"])
	assert.NotNil(t, res["order"].(map[string]any)["cancelTime"])
	assert.True(t, e.gateway.Refunded(number))

	w = e.do(t, call{method: http.MethodPut, path: path("/api/user/order/cancel/", id), user: customer})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, call{method: http.MethodGet, path: path("/api/user/order/reminder/", id), user: customer})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, call{method: http.MethodPost, path: path("/api/user/order/repetition/", id), user: customer})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lines":2}`, w.Body.String())

	w = e.do(t, call{method: http.MethodPost, path: path("/api/user/order/repetition/", id), user: stranger})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitErrors(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})

	w := e.do(t, call{method: http.MethodPost, path: "/api/user/order/submit", body: `{"addressBookId":100}`, user: customer})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["message"], "cart is empty")

	w = e.do(t, call{method: http.MethodPost, path: "/api/user/order/submit", body: `{}`, user: customer})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, call{method: http.MethodPost, path: "/api/user/order/submit", body: `{"addressBookId":100,"estimatedDeliveryTime":"tomorrow"}`, user: customer})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.do(t, call{method: http.MethodPost, path: "/api/user/shoppingCart/add", body: `{"setmealId":2}`, user: stranger})
	w = e.do(t, call{method: http.MethodPost, path: "/api/user/order/submit", body: `{"addressBookId":100}`, user: stranger})
	assert.Equal(t, http.StatusBadRequest, w.Code, "address of another user")

	w = e.do(t, call{method: http.MethodGet, path: "/api/user/order/orderDetail/abc", user: customer})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminFlow(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})
	id, number := e.submit(t)
	admin := func(method, p, body string) *httptest.ResponseRecorder {
		return e.do(t, call{method: method, path: p, body: body})
	}
	idBody := `{"id":` + strconv.FormatInt(id, 10) + `}`

	assert.Equal(t, http.StatusConflict, admin(http.MethodPut, "/api/admin/order/confirm", idBody).Code)
	require.Equal(t, http.StatusOK, e.pay(t, number).Code)

	w := admin(http.MethodGet, "/api/admin/order/statistics", "")
	assert.JSONEq(t, `{"toBeConfirmed":1,"confirmed":0,"deliveryInProgress":0}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, admin(http.MethodPut, "/api/admin/order/rejection", idBody).Code)
	assert.Equal(t, http.StatusBadRequest, admin(http.MethodPut, "/api/admin/order/confirm", `{}`).Code)
	assert.Equal(t, http.StatusNoContent, admin(http.MethodPut, "/api/admin/order/confirm", idBody).Code)
	assert.Equal(t, http.StatusConflict, admin(http.MethodPut, path("/api/admin/order/complete/", id), "").Code)
	assert.Equal(t, http.StatusNoContent, admin(http.MethodPut, path("/api/admin/order/delivery/", id), "").Code)
	assert.Equal(t, http.StatusNoContent, admin(http.MethodPut, path("/api/admin/order/complete/", id), "").Code)
	assert.Equal(t, http.StatusNotFound, admin(http.MethodPut, "/api/admin/order/delivery/999", "").Code)

	w = admin(http.MethodGet, path("/api/admin/order/details/", id), "")
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode(t, w)
	assert.Equal(t, float64(order.StatusCompleted), detail["status"])
	assert.NotNil(t, detail["deliveryTime"])

	w = admin(http.MethodGet, "/api/admin/order/conditionSearch?status=5&number="+number[:8], "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["total"])

	w = admin(http.MethodGet, "/api/admin/order/conditionSearch?status=9", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = admin(http.MethodGet, "/api/admin/order/conditionSearch?beginTime=2999-01-01%2000:00:00", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])
}

func TestAdminRejectAndCancel(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})

	first, number := e.submit(t)
	require.Equal(t, http.StatusOK, e.pay(t, number).Code)
	w := e.do(t, call{method: http.MethodPut, path: "/api/admin/order/rejection", body: `{"id":` + strconv.FormatInt(first, 10) + `,"rejectionReason":"sold out"}`})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, call{method: http.MethodGet, path: path("/api/admin/order/details/", first)})
	detail := decode(t, w)
	assert.Equal(t, "sold out", detail["rejectionReason"])
	assert.Equal(t, "sold out", detail["cancelReason"])
	assert.Equal(t, float64(order.StatusCancelled), detail["status"])

	second, _ := e.submit(t)
	w = e.do(t, call{method: http.MethodPut, path: "/api/admin/order/cancel", body: `{"id":` + strconv.FormatInt(second, 10) + `,"cancelReason":"closing early"}`})
	require.Equal(t, http.StatusOK, w.Code)
	res := decode(t, w)
	assert.Equal(t, false, res["refunded"])
	assert.Equal(t, "closing early", res["order"].(map[string]any)["cancelReason"])
}

func TestAdminAuth(t *testing.T) {
	pepper := []byte("pepper")
	e := newEnv(t, handler.HandlerConfig{
		AdminKeyHash: handler.HashAdminKey("operator-key", pepper),
		Pepper:       pepper,
	})

	for _, key := range []string{"", "wrong"} {
		w := e.do(t, call{method: http.MethodGet, path: "/api/admin/order/statistics", header: map[string]string{handler.HeaderAdminKey: key}})
		assert.Equal(t, http.StatusUnauthorized, w.Code, "key %q", key)
	}
	w := e.do(t, call{method: http.MethodGet, path: "/api/admin/order/statistics", header: map[string]string{handler.HeaderAdminKey: "operator-key"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPaySuccess(t *testing.T) {
	const secret = "callback-secret"
	e := newEnv(t, handler.HandlerConfig{PaymentSecret: secret})
	_, number := e.submit(t)
	body := `{"out_trade_no":"` + number + `","transaction_id":"tx-1","trade_state":"SUCCESS"}`

	w := e.do(t, call{method: http.MethodPost, path: "/api/notify/paySuccess", body: body})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, e.notifier.sent())

	w = e.do(t, call{
		method: http.MethodPost,
		path:   "/api/notify/paySuccess",
		body:   `{"out_trade_no":"` + number + `","trade_state":"PAYERROR"}`,
		header: map[string]string{handler.HeaderSignature: paygate.Sign(secret, `{"out_trade_no":"`+number+`","trade_state":"PAYERROR"}`)},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, e.notifier.sent())

	w = e.do(t, call{
		method: http.MethodPost,
		path:   "/api/notify/paySuccess",
		body:   body,
		header: map[string]string{handler.HeaderSignature: paygate.Sign(secret, body)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"code":"SUCCESS","message":"OK"}`, w.Body.String())
	assert.Len(t, e.notifier.sent(), 1)

	unknown := `{"out_trade_no":"missing","trade_state":"SUCCESS"}`
	w = e.do(t, call{
		method: http.MethodPost,
		path:   "/api/notify/paySuccess",
		body:   unknown,
		header: map[string]string{handler.HeaderSignature: paygate.Sign(secret, unknown)},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, call{
		method: http.MethodPost,
		path:   "/api/notify/paySuccess",
		body:   `{}`,
		header: map[string]string{handler.HeaderSignature: paygate.Sign(secret, `{}`)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	e := newEnv(t, handler.HandlerConfig{})
	w := e.do(t, call{method: http.MethodGet, path: "/api/nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":404,"message":"route not found"}`, w.Body.String())
}
