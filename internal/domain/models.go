package domain

import (
	"time"
)

// User owns accounts. Deleting a user who still owns accounts is rejected.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Account holds one user's balance in a single currency. The balance is
// mutated only by the transfer service, and only while the row is held under
// an exclusive lock.
type Account struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Balance   Money     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is the immutable record of a transfer. Either side may be nil: a
// payment with only a destination is a deposit, with only a source a
// withdrawal. Account references are cleared, not cascaded, when an account
// is deleted, so historical amounts and dates survive.
type Payment struct {
	ID            int64     `json:"id"`
	FromAccountID *int64    `json:"from_account"`
	ToAccountID   *int64    `json:"to_account"`
	Amount        Money     `json:"amount"`
	Date          time.Time `json:"date"`
}
