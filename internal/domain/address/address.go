package address

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an address book entry does not exist for the
// caller.
var ErrNotFound = errors.New("address not found")

// Address is a delivery address book entry.
type Address struct {
	ID        int64
	UserID    int64
	Consignee string
	Phone     string
	Province  string
	City      string
	District  string
	Detail    string
}

// Line composes the single-line delivery address stored on orders.
func (a Address) Line() string {
	var b strings.Builder
	for _, part := range []string{a.Province, a.City, a.District, a.Detail} {
		b.WriteString(strings.TrimSpace(part))
	}
	return b.String()
}

// Resolver looks up a user's address book entry.
type Resolver interface {
	Get(ctx context.Context, userID, id int64) (*Address, error)
}
