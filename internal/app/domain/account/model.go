package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes plain users from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is a platform user holding a spendable token balance. The balance
// is a non-negative decimal with two-digit precision and is mutated only by
// the ledger service.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Balance      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the account carries the admin role.
func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }
