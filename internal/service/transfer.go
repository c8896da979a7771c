// Package service contains the transactional transfer engine: validation,
// locking, balance mutation and payment persistence as one atomic unit.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nvp85/payments-api/internal/domain"
	"github.com/nvp85/payments-api/internal/store"
)

var (
	paymentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Payments committed successfully",
	})

	paymentsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_rejected_total",
		Help: "Transfer requests rejected by validation",
	})
)

// TransferRequest is a proposed payment as it arrives from the API layer.
// The amount must carry an explicit currency; a currency-less amount is a
// validation error, never a default-currency assumption.
type TransferRequest struct {
	FromAccountID *int64
	ToAccountID   *int64
	Amount        string
	Currency      string
}

// validatedTransfer holds the locked account snapshots the executor mutates.
// The accounts stay locked until the enclosing unit of work commits or
// aborts, so the balance check cannot be invalidated by a concurrent
// transfer.
type validatedTransfer struct {
	From   *domain.Account
	To     *domain.Account
	Amount domain.Money
}

type TransferService struct {
	store  store.Store
	logger *slog.Logger
}

func NewTransferService(s store.Store, logger *slog.Logger) *TransferService {
	return &TransferService{store: s, logger: logger}
}

// CreateTransfer is the single entry point that mutates balances. It runs
// lock -> validate -> mutate -> persist inside one unit of work; on any
// failure after lock acquisition the whole unit aborts and balances are
// unchanged. No retries happen here: a *domain.ConcurrencyError tells the
// caller the identical request may be resubmitted.
func (s *TransferService) CreateTransfer(ctx context.Context, req TransferRequest) (*domain.Payment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	vt, err := s.validate(ctx, tx, req)
	if err != nil {
		var verrs domain.ValidationErrors
		if errors.As(err, &verrs) {
			paymentsRejected.Inc()
			s.logger.InfoContext(ctx, "transfer rejected", "fields", fieldNames(verrs))
		}
		return nil, err
	}

	payment, err := s.execute(ctx, tx, vt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	paymentsCreated.Inc()
	s.logger.InfoContext(ctx, "payment committed",
		"payment_id", payment.ID,
		"amount", payment.Amount.String(),
	)
	return payment, nil
}

// validate checks the proposed transfer against locked account snapshots and
// collects every violated field; it never stops at the first failure.
// Locking is fused into validation: each referenced account is fetched under
// an exclusive row lock before its balance is read, in ascending id order so
// two opposite transfers over the same pair cannot deadlock.
func (s *TransferService) validate(ctx context.Context, tx store.Tx, req TransferRequest) (*validatedTransfer, error) {
	errs := domain.ValidationErrors{}

	var amount domain.Money
	amountOK := false
	if req.Currency == "" {
		errs.Add(domain.FieldAmount, "Currency must be defined explicitly.")
	} else if m, err := domain.ParseMoney(req.Amount, req.Currency); err != nil {
		errs.Add(domain.FieldAmount, "A valid decimal amount is required.")
	} else {
		amount = m
		amountOK = true
	}

	from, to := req.FromAccountID, req.ToAccountID
	switch {
	case from == nil && to == nil:
		errs.Add(domain.FieldBothAbsent, "At least one account field must be defined.")
	case from != nil && to != nil && *from == *to:
		errs.Add(domain.FieldAccounts, "Sender and recipient accounts must be different.")
	}

	vt := &validatedTransfer{Amount: amount}
	for _, id := range lockOrder(from, to) {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				// A missing account is a validation error on its field.
				if from != nil && *from == id {
					errs.Add(domain.FieldFromAccount, "Sender account not found.")
				}
				if to != nil && *to == id {
					errs.Add(domain.FieldToAccount, "Recipient account not found.")
				}
				continue
			}
			return nil, err
		}
		if from != nil && *from == id {
			vt.From = acc
		}
		if to != nil && *to == id {
			vt.To = acc
		}
	}

	if amountOK {
		if vt.From != nil {
			if !vt.From.Balance.SameCurrency(amount) {
				errs.Add(domain.FieldFromAccount, "Payment must be in currency of sender's account.")
			} else if vt.From.Balance.LessThan(amount) {
				errs.Add(domain.FieldAmount, "Not enough money for the payment.")
			}
		}
		if vt.To != nil && !vt.To.Balance.SameCurrency(amount) {
			errs.Add(domain.FieldToAccount, "Payment must be in currency of recipient's account.")
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return vt, nil
}

// execute mutates the locked balances and writes the payment record. Runs in
// the same unit of work as validate; the caller owns commit and rollback.
func (s *TransferService) execute(ctx context.Context, tx store.Tx, vt *validatedTransfer) (*domain.Payment, error) {
	var fromID, toID *int64

	if vt.From != nil {
		vt.From.Balance = vt.From.Balance.Sub(vt.Amount)
		if err := tx.SaveAccount(ctx, vt.From); err != nil {
			return nil, err
		}
		fromID = &vt.From.ID
	}
	if vt.To != nil {
		vt.To.Balance = vt.To.Balance.Add(vt.Amount)
		if err := tx.SaveAccount(ctx, vt.To); err != nil {
			return nil, err
		}
		toID = &vt.To.ID
	}

	return tx.CreatePayment(ctx, fromID, toID, vt.Amount)
}

// lockOrder returns the distinct referenced account ids in ascending order.
func lockOrder(from, to *int64) []int64 {
	ids := make([]int64, 0, 2)
	if from != nil {
		ids = append(ids, *from)
	}
	if to != nil && (from == nil || *to != *from) {
		ids = append(ids, *to)
	}
	if len(ids) == 2 && ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids
}

func fieldNames(errs domain.ValidationErrors) []string {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	return fields
}
