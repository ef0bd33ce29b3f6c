// Package ledger is the token-balance accounting authority. Only this
// service mutates account balances; every mutation happens inside a unit of
// work so the read-check-write sequence is atomic with respect to concurrent
// requests.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/crowdgrid/platform/internal/app/audit"
	"github.com/crowdgrid/platform/internal/app/metrics"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/pkg/logger"
)

// ErrInvalidAmount reports a negative debit or recharge target.
var ErrInvalidAmount = errors.New("amount must be non-negative")

// InsufficientFundsError is returned when a debit would drive a balance
// negative. The balance is left untouched.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient tokens: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Service implements the ledger operations.
type Service struct {
	store storage.Store
	audit *audit.Log
	log   *logger.Logger
}

// New constructs the ledger service. A nil audit log disables auditing.
func New(store storage.Store, auditLog *audit.Log, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{store: store, audit: auditLog, log: log}
}

// Debit charges amount to the account inside the supplied unit of work and
// returns the new balance. The authoritative balance is re-read from tx, so
// the returned value is exactly what a reader observes after commit. The
// audit entry and metrics for the debit are deferred to the returned emit
// function: callers invoke it once the unit of work has committed, so a
// rolled-back transaction leaves no trace in the audit trail.
func (s *Service) Debit(ctx context.Context, tx storage.Stores, accountID string, amount decimal.Decimal, operation, reference string) (decimal.Decimal, func(), error) {
	if amount.IsNegative() {
		return decimal.Zero, nil, ErrInvalidAmount
	}

	acct, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("load account: %w", err)
	}

	if acct.Balance.LessThan(amount) {
		metrics.RecordDebit(operation, 0, false)
		return decimal.Zero, nil, &InsufficientFundsError{Required: amount, Available: acct.Balance}
	}

	newBalance := acct.Balance.Sub(amount).Round(2)
	if err := tx.SetBalance(ctx, accountID, newBalance); err != nil {
		return decimal.Zero, nil, fmt.Errorf("persist balance: %w", err)
	}

	emit := func() {
		metrics.RecordDebit(operation, amount.InexactFloat64(), true)
		if s.audit != nil {
			s.audit.Record(audit.Entry{
				Operation: "debit",
				AccountID: accountID,
				Amount:    amount,
				Balance:   newBalance,
				Reference: reference,
			})
		}
		s.log.WithField("account_id", accountID).
			WithField("operation", operation).
			Debugf("debited %s tokens, balance now %s", amount.StringFixed(2), newBalance.StringFixed(2))
	}
	return newBalance, emit, nil
}

// DebitAndBalance opens its own unit of work around a single debit.
func (s *Service) DebitAndBalance(ctx context.Context, accountID string, amount decimal.Decimal, operation, reference string) (decimal.Decimal, error) {
	var (
		balance decimal.Decimal
		emit    func()
	)
	err := s.store.InTx(ctx, func(tx storage.Stores) error {
		var txErr error
		balance, emit, txErr = s.Debit(ctx, tx, accountID, amount, operation, reference)
		return txErr
	})
	if err != nil {
		return decimal.Zero, err
	}
	emit()
	return balance, nil
}

// RechargeResult reports the balances around an admin recharge.
type RechargeResult struct {
	AccountID       string
	Email           string
	PreviousBalance decimal.Decimal
	NewBalance      decimal.Decimal
}

// Recharge sets the balance of the account identified by email to an explicit
// non-negative value. Negative targets are rejected with ErrInvalidAmount.
func (s *Service) Recharge(ctx context.Context, email string, newBalance decimal.Decimal) (RechargeResult, error) {
	if newBalance.IsNegative() {
		return RechargeResult{}, ErrInvalidAmount
	}
	newBalance = newBalance.Round(2)

	var result RechargeResult
	err := s.store.InTx(ctx, func(tx storage.Stores) error {
		acct, err := tx.GetAccountByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("load account %s: %w", email, err)
		}

		result = RechargeResult{
			AccountID:       acct.ID,
			Email:           acct.Email,
			PreviousBalance: acct.Balance,
			NewBalance:      newBalance,
		}
		return tx.SetBalance(ctx, acct.ID, newBalance)
	})
	if err != nil {
		return RechargeResult{}, err
	}

	if s.audit != nil {
		s.audit.Record(audit.Entry{
			Operation: "recharge",
			AccountID: result.AccountID,
			Amount:    newBalance.Sub(result.PreviousBalance),
			Balance:   newBalance,
		})
	}
	s.log.WithField("account_id", result.AccountID).
		Infof("balance recharged from %s to %s", result.PreviousBalance.StringFixed(2), newBalance.StringFixed(2))

	return result, nil
}

// Balance returns the current balance of an account.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// AuditTrail returns the most recent ledger audit entries.
func (s *Service) AuditTrail(limit int) []audit.Entry {
	if s.audit == nil {
		return nil
	}
	return s.audit.List(limit)
}
