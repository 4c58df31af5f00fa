package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// EventType identifies operator notifications.
type EventType int

const (
	EventNewOrder EventType = 1
	EventReminder EventType = 2
)

func (t EventType) String() string {
	switch t {
	case EventNewOrder:
		return "NEW_ORDER"
	case EventReminder:
		return "REMINDER"
	default:
		return "UNKNOWN"
	}
}

// Event is an ephemeral notification pushed to connected operator clients.
type Event struct {
	Type    EventType
	OrderID int64
	Content string
}

func newEvent(t EventType, o *Order) Event {
	return Event{
		Type:    t,
		OrderID: o.ID,
		Content: "Order number: " + o.Number,
	}
}

// Encode writes the event as {"type":..,"orderId":..,"content":..}.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Int(int(e.Type))
	enc.FieldStart("orderId")
	enc.Int64(e.OrderID)
	enc.FieldStart("content")
	enc.Str(e.Content)
	enc.ObjEnd()
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes(), nil
}

// Decode reads an event previously written by Encode.
func (e *Event) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type":
			v, err := d.Int()
			if err != nil {
				return errors.Wrap(err, "type")
			}
			e.Type = EventType(v)
		case "orderId":
			v, err := d.Int64()
			if err != nil {
				return errors.Wrap(err, "orderId")
			}
			e.OrderID = v
		case "content":
			v, err := d.Str()
			if err != nil {
				return errors.Wrap(err, "content")
			}
			e.Content = v
		default:
			return d.Skip()
		}
		return nil
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	return e.Decode(jx.DecodeBytes(data))
}

// Notifier fans an event out to every connected operator client. Delivery is
// best effort.
type Notifier interface {
	Broadcast(ctx context.Context, e Event) error
}
