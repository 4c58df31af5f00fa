package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/takeout/internal/domain/cart"
	"github.com/xenking/takeout/internal/domain/order"
	"github.com/xenking/takeout/internal/domain/payment"
)

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func optTime(e *jx.Encoder, name string, t *time.Time) {
	e.FieldStart(name)
	if t == nil {
		e.Null()
		return
	}
	timestamp(e, *t)
}

// itemIDs writes dishId/setmealId in the shape clients send them.
func itemIDs(e *jx.Encoder, k cart.ItemKey) {
	e.FieldStart("dishId")
	if k.Kind == cart.KindDish {
		e.Int64(k.ItemID)
	} else {
		e.Null()
	}
	e.FieldStart("setmealId")
	if k.Kind == cart.KindSetMeal {
		e.Int64(k.ItemID)
	} else {
		e.Null()
	}
	e.FieldStart("dishFlavor")
	e.Str(k.Flavor)
}

func encodeCartLine(e *jx.Encoder, l cart.Line) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(l.ID)
	e.FieldStart("name")
	e.Str(l.Name)
	e.FieldStart("image")
	e.Str(l.Image)
	itemIDs(e, l.Key)
	e.FieldStart("number")
	e.Int(l.Quantity)
	e.FieldStart("amount")
	money(e, l.Price)
	e.FieldStart("createTime")
	timestamp(e, l.CreatedAt)
	e.ObjEnd()
}

func encodeOrderLine(e *jx.Encoder, l order.Line) {
	e.ObjStart()
	e.FieldStart("name")
	e.Str(l.Name)
	e.FieldStart("image")
	e.Str(l.Image)
	itemIDs(e, l.Key)
	e.FieldStart("number")
	e.Int(l.Quantity)
	e.FieldStart("amount")
	money(e, l.Price)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("number")
	e.Str(o.Number)
	e.FieldStart("userId")
	e.Int64(o.UserID)
	e.FieldStart("status")
	e.Int(int(o.Status))
	e.FieldStart("payStatus")
	e.Int(int(o.PayStatus))
	e.FieldStart("payMethod")
	e.Int(int(o.PayMethod))
	e.FieldStart("amount")
	money(e, o.Amount)
	e.FieldStart("addressBookId")
	e.Int64(o.AddressID)
	e.FieldStart("consignee")
	e.Str(o.Consignee)
	e.FieldStart("phone")
	e.Str(o.Phone)
	e.FieldStart("address")
	e.Str(o.Address)
	e.FieldStart("remark")
	e.Str(o.Remark)
	e.FieldStart("tablewareNumber")
	e.Int(o.TablewareNumber)
	optTime(e, "estimatedDeliveryTime", o.EstimatedDeliveryTime)
	e.FieldStart("orderTime")
	timestamp(e, o.OrderTime)
	optTime(e, "checkoutTime", o.CheckoutTime)
	optTime(e, "deliveryTime", o.DeliveryTime)
	optTime(e, "cancelTime", o.CancelTime)
	e.FieldStart("cancelReason")
	e.Str(o.CancelReason)
	e.FieldStart("rejectionReason")
	e.Str(o.RejectionReason)
	e.FieldStart("orderDishes")
	e.Str(o.Summary())
	e.FieldStart("orderDetailList")
	e.ArrStart()
	for _, l := range o.Lines {
		encodeOrderLine(e, l)
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodePage(e *jx.Encoder, p *order.Page) {
	e.ObjStart()
	e.FieldStart("total")
	e.Int(p.Total)
	e.FieldStart("records")
	e.ArrStart()
	for i := range p.Records {
		encodeOrder(e, &p.Records[i])
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeStatistics(e *jx.Encoder, s *order.Statistics) {
	e.ObjStart()
	e.FieldStart("toBeConfirmed")
	e.Int(s.ToBeConfirmed)
	e.FieldStart("confirmed")
	e.Int(s.Confirmed)
	e.FieldStart("deliveryInProgress")
	e.Int(s.DeliveryInProgress)
	e.ObjEnd()
}

func encodeReceipt(e *jx.Encoder, r *order.Receipt) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(r.ID)
	e.FieldStart("orderNumber")
	e.Str(r.Number)
	e.FieldStart("orderAmount")
	money(e, r.Amount)
	e.FieldStart("orderTime")
	timestamp(e, r.OrderTime)
	e.ObjEnd()
}

func encodePrepay(e *jx.Encoder, p *payment.Prepay) {
	e.ObjStart()
	e.FieldStart("transactionId")
	e.Str(p.TransactionID)
	e.FieldStart("nonceStr")
	e.Str(p.NonceStr)
	e.FieldStart("packageStr")
	e.Str(p.PackageStr)
	e.FieldStart("signType")
	e.Str(p.SignType)
	e.FieldStart("paySign")
	e.Str(p.PaySign)
	e.FieldStart("timeStamp")
	e.Str(p.Timestamp)
	e.ObjEnd()
}
