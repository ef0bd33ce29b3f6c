// Package accounts manages platform user registration, authentication and
// the admin reporting surface.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/crowdgrid/platform/internal/app/domain/account"
	"github.com/crowdgrid/platform/internal/app/domain/update"
	"github.com/crowdgrid/platform/internal/app/storage"
	"github.com/crowdgrid/platform/pkg/logger"
)

var (
	// ErrEmailTaken reports a registration against an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials reports a failed login.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrMissingCredentials reports a registration without email or password.
	ErrMissingCredentials = errors.New("email and password are required")
)

// StartingBalance is granted to every newly registered account.
var StartingBalance = decimal.RequireFromString("20.00")

// Service implements account management.
type Service struct {
	store storage.Store
	log   *logger.Logger
}

// New constructs the accounts service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{store: store, log: log}
}

// Register creates a new user account with the starting token balance.
func (s *Service) Register(ctx context.Context, email, password string, role account.Role) (account.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return account.Account{}, ErrMissingCredentials
	}
	if role == "" {
		role = account.RoleUser
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return account.Account{}, fmt.Errorf("hash password: %w", err)
	}

	acct, err := s.store.CreateAccount(ctx, account.Account{
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		Balance:      StartingBalance,
	})
	if errors.Is(err, storage.ErrConflict) {
		return account.Account{}, ErrEmailTaken
	}
	if err != nil {
		return account.Account{}, err
	}

	s.log.WithField("account_id", acct.ID).Infof("registered account %s", acct.Email)
	return acct, nil
}

// Authenticate verifies a login and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (account.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acct, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return account.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return account.Account{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return account.Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

// Get returns an account by id.
func (s *Service) Get(ctx context.Context, id string) (account.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// List returns accounts ordered by creation time, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]account.Account, int, error) {
	return s.store.ListAccounts(ctx, limit, offset)
}

// Stats summarises the platform for the admin surface.
type Stats struct {
	Accounts    int
	Models      int
	Requests    map[update.State]int
	TotalTokens decimal.Decimal
}

// SystemStats gathers platform-wide counters and the token supply.
func (s *Service) SystemStats(ctx context.Context) (Stats, error) {
	accounts, err := s.store.CountAccounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	models, err := s.store.CountModels(ctx)
	if err != nil {
		return Stats{}, err
	}
	requests, err := s.store.RequestStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	total, err := s.store.TotalBalance(ctx)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Accounts:    accounts,
		Models:      models,
		Requests:    requests,
		TotalTokens: total,
	}, nil
}
