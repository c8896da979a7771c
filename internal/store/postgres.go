package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nvp85/payments-api/internal/domain"
)

// PostgresStore implements Store on top of a pgx connection pool. Balances
// and amounts travel as text so NUMERIC(30,18) values never pass through a
// float.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// Begin opens a unit of work. READ COMMITTED is sufficient because every
// balance read in the transfer path happens under FOR UPDATE.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "tx begin", Err: err}
	}
	return &pgxTx{tx: tx}, nil
}

// pgxTx adapts a pgx transaction to the Tx interface.
type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) LockAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT id, owner_id, balance_amount::text, balance_currency, created_at
		 FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		if isLockFailure(err) {
			return nil, &domain.ConcurrencyError{Err: err}
		}
		return nil, &domain.PersistenceError{Op: "lock account", Err: err}
	}
	return acc, nil
}

func (t *pgxTx) SaveAccount(ctx context.Context, acc *domain.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance_amount = $1, balance_currency = $2 WHERE id = $3`,
		acc.Balance.Amount.String(), acc.Balance.Currency, acc.ID)
	if err != nil {
		return &domain.PersistenceError{Op: "save account", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *pgxTx) CreatePayment(ctx context.Context, from, to *int64, amount domain.Money) (*domain.Payment, error) {
	p := &domain.Payment{FromAccountID: from, ToAccountID: to, Amount: amount}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO payments (from_account_id, to_account_id, amount_amount, amount_currency)
		 VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		from, to, amount.Amount.String(), amount.Currency).Scan(&p.ID, &p.Date)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create payment", Err: err}
	}
	return p, nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if isLockFailure(err) {
			return &domain.ConcurrencyError{Err: err}
		}
		return &domain.PersistenceError{Op: "tx commit", Err: err}
	}
	return nil
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return &domain.PersistenceError{Op: "tx rollback", Err: err}
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	u := &domain.User{Username: username}
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (username) VALUES ($1) RETURNING id, created_at`,
		username).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isPgCode(err, "23505") {
			return nil, domain.ErrUsernameTaken
		}
		return nil, &domain.PersistenceError{Op: "create user", Err: err}
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, &domain.PersistenceError{Op: "get user", Err: err}
	}
	return &u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.Query(ctx, `SELECT id, username, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list users", Err: err}
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt); err != nil {
			return nil, &domain.PersistenceError{Op: "list users", Err: err}
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "tx begin", Err: err}
	}
	defer tx.Rollback(ctx)

	var owned bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE owner_id = $1)`, id).Scan(&owned)
	if err != nil {
		return &domain.PersistenceError{Op: "delete user", Err: err}
	}
	if owned {
		return domain.ErrUserHasAccounts
	}

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete user", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, ownerID int64, currency string) (*domain.Account, error) {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	acc := &domain.Account{OwnerID: ownerID, Balance: domain.ZeroMoney(currency)}
	err := s.db.QueryRow(ctx,
		`INSERT INTO accounts (owner_id, balance_amount, balance_currency)
		 VALUES ($1, 0, $2) RETURNING id, created_at`,
		ownerID, currency).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		if isPgCode(err, "23503") {
			return nil, domain.ErrUserNotFound
		}
		return nil, &domain.PersistenceError{Op: "create account", Err: err}
	}
	return acc, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	acc, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT id, owner_id, balance_amount::text, balance_currency, created_at
		 FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, &domain.PersistenceError{Op: "get account", Err: err}
	}
	return acc, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, balance_amount::text, balance_currency, created_at
		 FROM accounts ORDER BY id`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	accounts := []domain.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list accounts", Err: err}
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

// DeleteAccount clears the account reference on historical payments before
// deleting the row, all in one transaction. The schema deliberately carries
// no ON DELETE SET NULL: the clearing policy lives here.
func (s *PostgresStore) DeleteAccount(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "tx begin", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE payments SET from_account_id = NULL WHERE from_account_id = $1`, id); err != nil {
		return &domain.PersistenceError{Op: "delete account", Err: err}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE payments SET to_account_id = NULL WHERE to_account_id = $1`, id); err != nil {
		return &domain.PersistenceError{Op: "delete account", Err: err}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete account", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	p, err := scanPayment(s.db.QueryRow(ctx,
		`SELECT id, from_account_id, to_account_id, amount_amount::text, amount_currency, created_at
		 FROM payments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, &domain.PersistenceError{Op: "get payment", Err: err}
	}
	return p, nil
}

func (s *PostgresStore) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, from_account_id, to_account_id, amount_amount::text, amount_currency, created_at
		 FROM payments ORDER BY id`)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list payments", Err: err}
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list payments", Err: err}
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func (s *PostgresStore) DeletePayment(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete payment", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		acc    domain.Account
		amount string
	)
	if err := row.Scan(&acc.ID, &acc.OwnerID, &amount, &acc.Balance.Currency, &acc.CreatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance for account %d: %w", acc.ID, err)
	}
	acc.Balance.Amount = d
	return &acc, nil
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p      domain.Payment
		amount string
	)
	if err := row.Scan(&p.ID, &p.FromAccountID, &p.ToAccountID, &amount, &p.Amount.Currency, &p.Date); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for payment %d: %w", p.ID, err)
	}
	p.Amount.Amount = d
	return &p, nil
}

// isLockFailure matches the Postgres states for deadlock victims, lock-wait
// timeouts and serialization failures. All three mean "nothing committed,
// resubmit the identical request".
func isLockFailure(err error) bool {
	return isPgCode(err, "40001") || isPgCode(err, "40P01") || isPgCode(err, "55P03")
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
