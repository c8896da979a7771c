package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrUserHasAccounts blocks deletion of a user who still owns accounts.
	ErrUserHasAccounts = errors.New("user still owns accounts")
	ErrUsernameTaken   = errors.New("username already taken")
)

// Validation error keys used by the transfer validator. The API layer returns
// them verbatim so clients can attach messages to form fields.
const (
	FieldFromAccount = "from_account"
	FieldToAccount   = "to_account"
	FieldAccounts    = "accounts"
	FieldAmount      = "amount"
	FieldBothAbsent  = "from_account and to_account"
)

// ValidationErrors accumulates every violated field of a request into a
// single error value. It is never short-circuited: a caller sees all
// violations at once.
type ValidationErrors map[string][]string

func (v ValidationErrors) Add(field, message string) {
	v[field] = append(v[field], message)
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(v[f], "; ")))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// ConcurrencyError marks a transfer that lost a lock race (deadlock victim,
// lock-wait timeout, serialization failure). Nothing was committed, so the
// caller may safely resubmit the identical request.
type ConcurrencyError struct {
	Err error
}

func (e *ConcurrencyError) Error() string {
	return "concurrent transfer conflict: " + e.Err.Error()
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

// PersistenceError marks a unit of work that failed against the storage
// layer. The transaction was rolled back; the caller must not assume any
// partial effect.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
