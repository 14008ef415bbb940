// Package credentials owns password hashing, password verification and
// access/refresh token issuance for accounts.
//
// Manager is stateless: every method is a function of the account snapshot it
// receives and the configuration fixed at construction, so a single Manager is
// shared by all request goroutines.
package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/pkg/hasher"
	"github.com/alexandernizov/accounts/internal/pkg/jwt"
)

var (
	ErrMissingSecret = jwt.ErrMissingSecret
	ErrInvalidExpiry = errors.New("token expiry must be positive")
	ErrInvalidCost   = hasher.ErrInvalidCost
)

// Hasher is the one-way password hashing primitive.
type Hasher interface {
	Hash(plain string, cost int) (string, error)
	Compare(plain, hash string) bool
}

type Config struct {
	AccessSecret  []byte
	AccessExpiry  time.Duration
	RefreshSecret []byte
	RefreshExpiry time.Duration
	HashCost      int
}

type Manager struct {
	cfg    Config
	hasher Hasher
	now    func() time.Time
}

type Option func(*Manager)

func WithHasher(h Hasher) Option {
	return func(m *Manager) {
		m.hasher = h
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(cfg Config, options ...Option) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.AccessExpiry <= 0 || cfg.RefreshExpiry <= 0 {
		return nil, ErrInvalidExpiry
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = hasher.DefaultCost
	}
	if err := hasher.ValidateCost(cfg.HashCost); err != nil {
		return nil, err
	}

	m := &Manager{cfg: cfg, hasher: hasher.NewBcrypt(), now: time.Now}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

// PrepareForPersistence returns the snapshot that must be written in place of
// account. It has to be called once before every write.
//
// The password is hashed only when it was assigned through SetPassword since
// the account was loaded, so an already hashed password is never hashed again.
// On error nothing should be persisted.
func (m *Manager) PrepareForPersistence(account domain.Account) (domain.Account, error) {
	const op = "credentials.PrepareForPersistence"

	account.Normalize()
	if err := account.Validate(); err != nil {
		return domain.Account{}, err
	}

	if !account.PasswordModified() {
		return account, nil
	}

	hash, err := m.hasher.Hash(account.Password, m.cfg.HashCost)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%s: %w", op, err)
	}
	account.SetPasswordHash(hash)

	return account, nil
}

// VerifyPassword reports whether candidate matches the stored hash.
func (m *Manager) VerifyPassword(account domain.Account, candidate string) bool {
	return m.hasher.Compare(candidate, account.Password)
}

func (m *Manager) IssueAccessToken(account domain.Account) (string, error) {
	const op = "credentials.IssueAccessToken"

	token, err := jwt.NewAccessToken(account, m.cfg.AccessExpiry, m.cfg.AccessSecret, m.now())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

// IssueRefreshToken signs a refresh token. Storing it on the account is up to
// the caller.
func (m *Manager) IssueRefreshToken(account domain.Account) (string, error) {
	const op = "credentials.IssueRefreshToken"

	token, err := jwt.NewRefreshToken(account.ID, m.cfg.RefreshExpiry, m.cfg.RefreshSecret, m.now())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return token, nil
}

func (m *Manager) IssueTokens(account domain.Account) (domain.Tokens, error) {
	access, err := m.IssueAccessToken(account)
	if err != nil {
		return domain.Tokens{}, err
	}
	refresh, err := m.IssueRefreshToken(account)
	if err != nil {
		return domain.Tokens{}, err
	}
	return domain.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) ParseAccessToken(token string) (*jwt.AccessClaims, error) {
	return jwt.ParseAccessToken(token, m.cfg.AccessSecret)
}

func (m *Manager) ParseRefreshToken(token string) (*jwt.RefreshClaims, error) {
	return jwt.ParseRefreshToken(token, m.cfg.RefreshSecret)
}
