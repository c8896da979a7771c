// Package store persists users, accounts and payments and exposes the
// transactional surface the transfer service runs on. Two implementations
// exist: PostgresStore for production and MemoryStore for tests.
package store

import (
	"context"

	"github.com/nvp85/payments-api/internal/domain"
)

// Store is the storage collaborator consumed by the service and API layers.
type Store interface {
	// Begin opens an atomic unit of work. Every lock acquired through the
	// returned Tx is held until Commit or Rollback.
	Begin(ctx context.Context) (Tx, error)

	CreateUser(ctx context.Context, username string) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	// DeleteUser removes a user. It fails with domain.ErrUserHasAccounts
	// while any account still references the user.
	DeleteUser(ctx context.Context, id int64) error

	// CreateAccount opens an account with a zero balance in the given
	// currency (domain.DefaultCurrency when empty).
	CreateAccount(ctx context.Context, ownerID int64, currency string) (*domain.Account, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// DeleteAccount removes an account and clears the account reference on
	// every payment that points at it, all in one unit of work. Payments
	// keep their amount and date.
	DeleteAccount(ctx context.Context, id int64) error

	GetPayment(ctx context.Context, id int64) (*domain.Payment, error)
	ListPayments(ctx context.Context) ([]domain.Payment, error)
	DeletePayment(ctx context.Context, id int64) error
}

// Tx is one atomic unit of work. The transfer service performs its whole
// lock -> validate -> mutate -> persist sequence against a single Tx.
type Tx interface {
	// LockAccount fetches an account under an exclusive row lock. The lock
	// is held until the Tx commits or rolls back. Returns
	// domain.ErrAccountNotFound when no such account exists and a
	// *domain.ConcurrencyError when the lock cannot be acquired under the
	// store's policy.
	LockAccount(ctx context.Context, id int64) (*domain.Account, error)

	// SaveAccount writes back a (previously locked) account's balance.
	SaveAccount(ctx context.Context, acc *domain.Account) error

	// CreatePayment inserts the payment record with a server-assigned id
	// and timestamp.
	CreatePayment(ctx context.Context, from, to *int64, amount domain.Money) (*domain.Payment, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
