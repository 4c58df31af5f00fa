package order

// Op is an operation that moves an order between statuses.
type Op string

const (
	OpPay      Op = "pay"
	OpCancel   Op = "cancel"
	OpConfirm  Op = "confirm"
	OpReject   Op = "reject"
	OpDeliver  Op = "deliver"
	OpComplete Op = "complete"
	OpRemind   Op = "remind"
)

type rule struct {
	from []Status
	to   Status
}

var rules = map[Op]rule{
	OpPay:      {from: []Status{StatusPendingPayment}, to: StatusToBeConfirmed},
	OpCancel:   {from: []Status{StatusPendingPayment, StatusToBeConfirmed}, to: StatusCancelled},
	OpConfirm:  {from: []Status{StatusToBeConfirmed}, to: StatusConfirmed},
	OpReject:   {from: []Status{StatusToBeConfirmed}, to: StatusCancelled},
	OpDeliver:  {from: []Status{StatusConfirmed}, to: StatusDeliveryInProgress},
	OpComplete: {from: []Status{StatusDeliveryInProgress}, to: StatusCompleted},
}

// Next returns the status reached by applying op to an order in status s.
// Reminders keep the status but are only accepted for live orders.
func Next(s Status, op Op) (Status, bool) {
	if op == OpRemind {
		return s, s.Valid() && !s.Terminal()
	}
	r, ok := rules[op]
	if !ok {
		return s, false
	}
	for _, from := range r.from {
		if s == from {
			return r.to, true
		}
	}
	return s, false
}
