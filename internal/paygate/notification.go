package paygate

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// TradeSuccess is the trade state of a completed payment.
const TradeSuccess = "SUCCESS"

// Notification is a payment result reported by the provider, either through
// the HTTP callback or the payment topic.
type Notification struct {
	OrderNumber   string
	TransactionID string
	TradeState    string
}

// Succeeded reports whether the payment went through.
func (n Notification) Succeeded() bool {
	return n.TradeState == TradeSuccess
}

// ParseNotification decodes {"out_trade_no":..,"transaction_id":..,"trade_state":..}.
func ParseNotification(data []byte) (Notification, error) {
	var n Notification
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "out_trade_no":
			n.OrderNumber, err = d.Str()
		case "transaction_id":
			n.TransactionID, err = d.Str()
		case "trade_state":
			n.TradeState, err = d.Str()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return Notification{}, errors.Wrap(err, "decode notification")
	}
	if n.OrderNumber == "" {
		return Notification{}, errors.New("notification has no out_trade_no")
	}
	return n, nil
}

// Encode writes n in the form read by ParseNotification.
func (n Notification) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("out_trade_no")
	e.Str(n.OrderNumber)
	e.FieldStart("transaction_id")
	e.Str(n.TransactionID)
	e.FieldStart("trade_state")
	e.Str(n.TradeState)
	e.ObjEnd()
}
