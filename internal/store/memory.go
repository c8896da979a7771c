package store

import (
	"context"
	"sync"
	"time"

	"github.com/nvp85/payments-api/internal/domain"
)

// MemoryStore is an in-memory Store with real per-account exclusive locks:
// a Tx that locks an account blocks every other Tx touching it until commit
// or rollback, mirroring row locks in Postgres. Used by service and API
// tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[int64]domain.User
	accounts map[int64]*memAccount
	payments map[int64]domain.Payment

	nextUserID    int64
	nextAccountID int64
	nextPaymentID int64
}

// memAccount pairs the account record with its row lock.
type memAccount struct {
	lock sync.Mutex
	acc  domain.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]domain.User),
		accounts: make(map[int64]*memAccount),
		payments: make(map[int64]domain.Payment),
	}
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{
		store:  s,
		locked: make(map[int64]*memAccount),
		staged: make(map[int64]domain.Account),
	}, nil
}

type memTx struct {
	store    *MemoryStore
	locked   map[int64]*memAccount
	staged   map[int64]domain.Account
	payments []domain.Payment
	done     bool
}

func (t *memTx) LockAccount(ctx context.Context, id int64) (*domain.Account, error) {
	if row, ok := t.locked[id]; ok {
		// Already held by this unit of work.
		if staged, ok := t.staged[id]; ok {
			cp := staged
			return &cp, nil
		}
		cp := row.acc
		return &cp, nil
	}

	t.store.mu.Lock()
	row, ok := t.store.accounts[id]
	t.store.mu.Unlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	// Blocks until the holding Tx commits or rolls back.
	row.lock.Lock()
	t.locked[id] = row
	cp := row.acc
	return &cp, nil
}

func (t *memTx) SaveAccount(ctx context.Context, acc *domain.Account) error {
	if _, ok := t.locked[acc.ID]; !ok {
		return domain.ErrAccountNotFound
	}
	t.staged[acc.ID] = *acc
	return nil
}

func (t *memTx) CreatePayment(ctx context.Context, from, to *int64, amount domain.Money) (*domain.Payment, error) {
	t.store.mu.Lock()
	t.store.nextPaymentID++
	id := t.store.nextPaymentID
	t.store.mu.Unlock()

	p := domain.Payment{
		ID:            id,
		FromAccountID: copyID(from),
		ToAccountID:   copyID(to),
		Amount:        amount,
		Date:          time.Now().UTC(),
	}
	t.payments = append(t.payments, p)
	cp := p
	return &cp, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	for id, acc := range t.staged {
		t.locked[id].acc = acc
	}
	for _, p := range t.payments {
		t.store.payments[p.ID] = p
	}
	t.store.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memTx) release() {
	for _, row := range t.locked {
		row.lock.Unlock()
	}
	t.locked = map[int64]*memAccount{}
	t.staged = map[int64]domain.Account{}
	t.payments = nil
	t.done = true
}

func (s *MemoryStore) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return nil, domain.ErrUsernameTaken
		}
	}
	s.nextUserID++
	u := domain.User{ID: s.nextUserID, Username: username, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	cp := u
	return &cp, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := u
	return &cp, nil
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]domain.User, 0, len(s.users))
	for id := int64(1); id <= s.nextUserID; id++ {
		if u, ok := s.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	for _, row := range s.accounts {
		if row.acc.OwnerID == id {
			return domain.ErrUserHasAccounts
		}
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, ownerID int64, currency string) (*domain.Account, error) {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[ownerID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	s.nextAccountID++
	acc := domain.Account{
		ID:        s.nextAccountID,
		OwnerID:   ownerID,
		Balance:   domain.ZeroMoney(currency),
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[acc.ID] = &memAccount{acc: acc}
	cp := acc
	return &cp, nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := row.acc
	return &cp, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts := make([]domain.Account, 0, len(s.accounts))
	for id := int64(1); id <= s.nextAccountID; id++ {
		if row, ok := s.accounts[id]; ok {
			accounts = append(accounts, row.acc)
		}
	}
	return accounts, nil
}

// DeleteAccount mirrors the Postgres clearing policy: payment references to
// the deleted account go to nil, the payments themselves stay. Like a DELETE
// behind FOR UPDATE, it waits for any unit of work holding the row lock.
func (s *MemoryStore) DeleteAccount(ctx context.Context, id int64) error {
	s.mu.Lock()
	row, ok := s.accounts[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrAccountNotFound
	}

	row.lock.Lock()
	defer row.lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-check: a concurrent delete may have won while we waited.
	if _, ok := s.accounts[id]; !ok {
		return domain.ErrAccountNotFound
	}
	for pid, p := range s.payments {
		changed := false
		if p.FromAccountID != nil && *p.FromAccountID == id {
			p.FromAccountID = nil
			changed = true
		}
		if p.ToAccountID != nil && *p.ToAccountID == id {
			p.ToAccountID = nil
			changed = true
		}
		if changed {
			s.payments[pid] = p
		}
	}
	delete(s.accounts, id)
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := p
	return &cp, nil
}

func (s *MemoryStore) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payments := make([]domain.Payment, 0, len(s.payments))
	for id := int64(1); id <= s.nextPaymentID; id++ {
		if p, ok := s.payments[id]; ok {
			payments = append(payments, p)
		}
	}
	return payments, nil
}

func (s *MemoryStore) DeletePayment(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[id]; !ok {
		return domain.ErrPaymentNotFound
	}
	delete(s.payments, id)
	return nil
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
