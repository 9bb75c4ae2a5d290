package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/valpere/regiontran/internal"
)

// CreditLedger is a per-account translation allowance kept in sqlite. Each
// Reserve consumes one credit.
type CreditLedger struct {
	store   *Store
	account string
}

func (s *Store) Ledger(account string) *CreditLedger {
	return &CreditLedger{store: s, account: account}
}

func (l *CreditLedger) Account() string {
	return l.account
}

// Reserve takes one credit if the balance allows it. A refused reservation is
// not an error.
func (l *CreditLedger) Reserve(ctx context.Context) (internal.Reservation, error) {
	res, err := l.store.db.ExecContext(ctx,
		`UPDATE credits SET remaining = remaining - 1, updated_at = ? WHERE account = ? AND remaining > 0`,
		now(), l.account)
	if err != nil {
		return internal.Reservation{}, fmt.Errorf("failed to reserve credit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return internal.Reservation{}, err
	}

	remaining, err := l.Balance(ctx)
	if err != nil {
		return internal.Reservation{}, err
	}
	return internal.Reservation{Allowed: n == 1, Remaining: remaining}, nil
}

// Balance returns the credits left; unknown accounts have none.
func (l *CreditLedger) Balance(ctx context.Context) (int, error) {
	var remaining int
	err := l.store.db.QueryRowContext(ctx,
		`SELECT remaining FROM credits WHERE account = ?`, l.account).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return remaining, err
}

// Add tops up the account and returns the new balance.
func (l *CreditLedger) Add(ctx context.Context, amount int) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	_, err := l.store.db.ExecContext(ctx,
		`INSERT INTO credits (account, remaining, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(account) DO UPDATE SET remaining = remaining + excluded.remaining, updated_at = excluded.updated_at`,
		l.account, amount, now())
	if err != nil {
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return l.Balance(ctx)
}
