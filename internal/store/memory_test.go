package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvp85/payments-api/internal/domain"
)

func seedAccount(t *testing.T, s *MemoryStore, username, currency string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	user, err := s.CreateUser(ctx, username)
	require.NoError(t, err)
	acc, err := s.CreateAccount(ctx, user.ID, currency)
	require.NoError(t, err)
	return acc
}

func TestMemoryStore_AccountDefaults(t *testing.T) {
	s := NewMemoryStore()
	acc := seedAccount(t, s, "bob123", "")

	assert.Equal(t, domain.DefaultCurrency, acc.Balance.Currency)
	assert.True(t, acc.Balance.Amount.IsZero())
	assert.False(t, acc.CreatedAt.IsZero())
}

func TestMemoryStore_UsernameUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "bob123")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "bob123")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
}

func TestMemoryStore_DeleteUserWithAccountsRejected(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acc := seedAccount(t, s, "bob123", "USD")

	err := s.DeleteUser(ctx, acc.OwnerID)
	assert.ErrorIs(t, err, domain.ErrUserHasAccounts)

	require.NoError(t, s.DeleteAccount(ctx, acc.ID))
	require.NoError(t, s.DeleteUser(ctx, acc.OwnerID))
	_, err = s.GetUser(ctx, acc.OwnerID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestMemoryStore_RollbackDiscardsStagedWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acc := seedAccount(t, s, "bob123", "USD")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	locked, err := tx.LockAccount(ctx, acc.ID)
	require.NoError(t, err)
	locked.Balance = domain.NewMoney(decimal.NewFromInt(500), "USD")
	require.NoError(t, tx.SaveAccount(ctx, locked))
	_, err = tx.CreatePayment(ctx, nil, &acc.ID, locked.Balance)
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Amount.IsZero(), "rollback must discard the staged balance")

	payments, err := s.ListPayments(ctx)
	require.NoError(t, err)
	assert.Empty(t, payments, "rollback must discard the staged payment")
}

func TestMemoryStore_CommitAppliesStagedWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acc := seedAccount(t, s, "bob123", "USD")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	locked, err := tx.LockAccount(ctx, acc.ID)
	require.NoError(t, err)
	locked.Balance = domain.NewMoney(decimal.NewFromInt(500), "USD")
	require.NoError(t, tx.SaveAccount(ctx, locked))
	p, err := tx.CreatePayment(ctx, nil, &acc.ID, locked.Balance)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Amount.Equal(decimal.NewFromInt(500)))

	stored, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, stored.ID)
	assert.False(t, stored.Date.IsZero())
}

func TestMemoryStore_LockBlocksSecondTx(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acc := seedAccount(t, s, "bob123", "USD")

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx1.LockAccount(ctx, acc.ID)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		tx2, err := s.Begin(ctx)
		if err == nil {
			if _, err := tx2.LockAccount(ctx, acc.ID); err == nil {
				close(acquired)
				tx2.Rollback(ctx)
			}
		}
	}()

	// Give the second tx a chance to (wrongly) get the lock.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second tx acquired the lock while the first still held it")
	default:
	}

	require.NoError(t, tx1.Commit(ctx))
	<-acquired
}

func TestMemoryStore_DeleteAccountWaitsForRowLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acc := seedAccount(t, s, "bob123", "USD")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	locked, err := tx.LockAccount(ctx, acc.ID)
	require.NoError(t, err)

	deleted := make(chan error, 1)
	go func() {
		deleted <- s.DeleteAccount(ctx, acc.ID)
	}()

	// The delete must queue behind the row lock, like DELETE behind
	// FOR UPDATE.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-deleted:
		t.Fatalf("delete finished while the row was locked: %v", err)
	default:
	}

	locked.Balance = domain.NewMoney(decimal.NewFromInt(7), "USD")
	require.NoError(t, tx.SaveAccount(ctx, locked))
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, <-deleted)
	_, err = s.GetAccount(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestMemoryStore_DeleteAccountClearsPaymentRefs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := seedAccount(t, s, "bob123", "USD")
	b := seedAccount(t, s, "alice456", "USD")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	amount := domain.NewMoney(decimal.NewFromInt(10), "USD")
	p, err := tx.CreatePayment(ctx, &a.ID, &b.ID, amount)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, s.DeleteAccount(ctx, a.ID))

	got, err := s.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FromAccountID, "deleted account reference must be cleared")
	require.NotNil(t, got.ToAccountID)
	assert.Equal(t, b.ID, *got.ToAccountID)
	assert.True(t, got.Amount.Equal(amount), "payment history keeps its amount")
}

func TestMemoryStore_SaveAccountRequiresLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	acc := seedAccount(t, s, "bob123", "USD")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	err = tx.SaveAccount(ctx, acc)
	assert.Error(t, err, "writing an unlocked account must be rejected")
}
