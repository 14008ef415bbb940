package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/domain/errs"
	"github.com/alexandernizov/accounts/internal/pkg/jwt"
	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
	"github.com/alexandernizov/accounts/internal/storage"
	"github.com/google/uuid"
)

//go:generate mockery --name AccountStorage
//go:generate mockery --name AccountCache

type AccountStorage interface {
	WithTx(ctx context.Context, tFunc func(ctx context.Context) error) error

	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetAccountByLogin(ctx context.Context, login string) (*domain.Account, error)
	SaveAccount(ctx context.Context, account domain.Account) (*domain.Account, error)
	SetRefreshToken(ctx context.Context, id uuid.UUID, token *string) error

	AppendWatchHistory(ctx context.Context, id uuid.UUID, mediaID uuid.UUID) error
	WatchHistory(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)

	CreateOutbox(ctx context.Context, outbox domain.Outbox) error
}

type AccountCache interface {
	SetAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
}

type CredentialManager interface {
	PrepareForPersistence(account domain.Account) (domain.Account, error)
	VerifyPassword(account domain.Account, candidate string) bool
	IssueTokens(account domain.Account) (domain.Tokens, error)
	ParseRefreshToken(token string) (*jwt.RefreshClaims, error)
}

type AccountService struct {
	log *slog.Logger

	storage     AccountStorage
	cache       AccountCache
	credentials CredentialManager
}

func NewAccountService(log *slog.Logger, storage AccountStorage, credentials CredentialManager, options ...func(*AccountService)) *AccountService {
	s := &AccountService{log: log, storage: storage, credentials: credentials}
	for _, option := range options {
		option(s)
	}
	return s
}

func WithCache(cache AccountCache) func(*AccountService) {
	return func(s *AccountService) {
		s.cache = cache
	}
}

type RegisterInput struct {
	Username   string
	Email      string
	Fullname   string
	Avatar     string
	CoverImage string
	Password   string
}

type ProfileInput struct {
	Fullname   *string
	Email      *string
	Avatar     *string
	CoverImage *string
}

type registeredEvent struct {
	Event    string    `json:"event"`
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

func storageErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrAccountExists):
		return errs.ErrAccountAlreadyExists
	case errors.Is(err, storage.ErrAccountNotFound):
		return errs.ErrAccountNotFound
	default:
		return err
	}
}

func (a *AccountService) Register(ctx context.Context, in RegisterInput) (*domain.Account, error) {
	const op = "accounts.Register"
	log := a.log.With(slog.String("op", op))

	account := domain.Account{
		ID:          uuid.New(),
		Handle:      in.Username,
		Email:       in.Email,
		DisplayName: in.Fullname,
		Avatar:      in.Avatar,
		CoverImage:  in.CoverImage,
	}
	account.SetPassword(in.Password)

	prepared, err := a.credentials.PrepareForPersistence(account)
	if err != nil {
		if !errors.Is(err, errs.ErrValidation) {
			log.Error("failed to prepare account", sl.Err(err))
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	event, err := json.Marshal(registeredEvent{
		Event:    domain.EventAccountRegistered,
		ID:       prepared.ID,
		Username: prepared.Handle,
		Email:    prepared.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var created *domain.Account
	err = a.storage.WithTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = a.storage.CreateAccount(ctx, prepared)
		if err != nil {
			return err
		}
		return a.storage.CreateOutbox(ctx, domain.Outbox{Key: created.ID, Topic: domain.AccountTopic, Message: event})
	})
	if err != nil {
		if !errors.Is(err, storage.ErrAccountExists) {
			log.Error("failed to save account", sl.Err(err))
		}
		return nil, fmt.Errorf("%s: %w", op, storageErr(err))
	}

	log.Info("account registered", slog.String("id", created.ID.String()))

	return created, nil
}

// Login accepts either the username or the email. Unknown accounts and wrong
// passwords are reported identically.
func (a *AccountService) Login(ctx context.Context, login, password string) (*domain.Account, domain.Tokens, error) {
	const op = "accounts.Login"
	log := a.log.With(slog.String("op", op))

	account, err := a.storage.GetAccountByLogin(ctx, domain.NormalizeHandle(login))
	if errors.Is(err, storage.ErrAccountNotFound) {
		log.Info("unknown account")
		return nil, domain.Tokens{}, fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, domain.Tokens{}, fmt.Errorf("%s: %w", op, err)
	}

	if !a.credentials.VerifyPassword(*account, password) {
		log.Info("invalid credentials", slog.String("id", account.ID.String()))
		return nil, domain.Tokens{}, fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
	}

	tokens, err := a.issueTokens(ctx, *account)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return nil, domain.Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	account.RefreshToken = &tokens.RefreshToken

	return account, tokens, nil
}

// Logout forgets the stored refresh token, so it can no longer be exchanged.
func (a *AccountService) Logout(ctx context.Context, id uuid.UUID) error {
	const op = "accounts.Logout"

	if err := a.storage.SetRefreshToken(ctx, id, nil); err != nil {
		return fmt.Errorf("%s: %w", op, storageErr(err))
	}
	a.evict(ctx, id)
	return nil
}

// Refresh exchanges the most recently issued refresh token for a new pair.
func (a *AccountService) Refresh(ctx context.Context, refreshToken string) (domain.Tokens, error) {
	const op = "accounts.Refresh"
	log := a.log.With(slog.String("op", op))

	claims, err := a.credentials.ParseRefreshToken(refreshToken)
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("%s: %w", op, err)
	}

	account, err := a.storage.GetAccountByID(ctx, claims.ID)
	if errors.Is(err, storage.ErrAccountNotFound) {
		return domain.Tokens{}, fmt.Errorf("%s: %w", op, errs.ErrInvalidToken)
	}
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("%s: %w", op, err)
	}

	if account.RefreshToken == nil || *account.RefreshToken != refreshToken {
		log.Warn("refresh token is expired or used", slog.String("id", account.ID.String()))
		return domain.Tokens{}, fmt.Errorf("%s: %w", op, errs.ErrInvalidToken)
	}

	tokens, err := a.issueTokens(ctx, *account)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return domain.Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	return tokens, nil
}

func (a *AccountService) issueTokens(ctx context.Context, account domain.Account) (domain.Tokens, error) {
	tokens, err := a.credentials.IssueTokens(account)
	if err != nil {
		return domain.Tokens{}, err
	}
	if err := a.storage.SetRefreshToken(ctx, account.ID, &tokens.RefreshToken); err != nil {
		return domain.Tokens{}, storageErr(err)
	}
	return tokens, nil
}

func (a *AccountService) ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error {
	const op = "accounts.ChangePassword"
	log := a.log.With(slog.String("op", op))

	account, err := a.storage.GetAccountByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, storageErr(err))
	}

	if !a.credentials.VerifyPassword(*account, oldPassword) {
		log.Info("invalid old password", slog.String("id", id.String()))
		return fmt.Errorf("%s: %w", op, errs.ErrInvalidCredentials)
	}

	account.SetPassword(newPassword)
	if _, err := a.save(ctx, *account); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (a *AccountService) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*domain.Account, error) {
	const op = "accounts.UpdateProfile"

	account, err := a.storage.GetAccountByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storageErr(err))
	}

	if in.Fullname != nil {
		account.DisplayName = *in.Fullname
	}
	if in.Email != nil {
		account.Email = *in.Email
	}
	if in.Avatar != nil {
		account.Avatar = *in.Avatar
	}
	if in.CoverImage != nil {
		account.CoverImage = *in.CoverImage
	}

	saved, err := a.save(ctx, *account)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return saved, nil
}

// save prepares the account exactly once and writes it.
func (a *AccountService) save(ctx context.Context, account domain.Account) (*domain.Account, error) {
	prepared, err := a.credentials.PrepareForPersistence(account)
	if err != nil {
		return nil, err
	}

	saved, err := a.storage.SaveAccount(ctx, prepared)
	if err != nil {
		return nil, storageErr(err)
	}
	a.evict(ctx, account.ID)

	return saved, nil
}

// Current returns the account profile, served from the cache when possible.
//
// Writes evict the cached entry, but a read that loaded the row before a
// concurrent write may cache the old profile after the eviction. Such an entry
// lives until the cache TTL expires.
func (a *AccountService) Current(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "accounts.Current"
	log := a.log.With(slog.String("op", op))

	if a.cache != nil {
		cached, err := a.cache.GetAccount(ctx, id)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, storage.ErrCacheMiss) {
			log.Warn("account cache is unavailable", sl.Err(err))
		}
	}

	account, err := a.storage.GetAccountByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storageErr(err))
	}

	if a.cache != nil {
		if err := a.cache.SetAccount(ctx, *account); err != nil {
			log.Warn("can't cache account", sl.Err(err))
		}
	}

	return account, nil
}

func (a *AccountService) AddToWatchHistory(ctx context.Context, id uuid.UUID, mediaID uuid.UUID) error {
	const op = "accounts.AddToWatchHistory"

	if err := a.storage.AppendWatchHistory(ctx, id, mediaID); err != nil {
		return fmt.Errorf("%s: %w", op, storageErr(err))
	}
	return nil
}

func (a *AccountService) WatchHistory(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	const op = "accounts.WatchHistory"

	history, err := a.storage.WatchHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, storageErr(err))
	}
	return history, nil
}

func (a *AccountService) evict(ctx context.Context, id uuid.UUID) {
	if a.cache == nil {
		return
	}
	if err := a.cache.DeleteAccount(ctx, id); err != nil {
		a.log.Warn("can't evict cached account", slog.String("id", id.String()), sl.Err(err))
	}
}
