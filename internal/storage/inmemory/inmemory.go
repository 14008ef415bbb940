package inmemory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/storage"
	"github.com/google/uuid"
)

// Inmemory is an account store for local runs and tests. Uniqueness of
// username and email is enforced on the normalized values.
type Inmemory struct {
	log *slog.Logger

	mu       sync.RWMutex
	txMu     sync.Mutex
	accounts map[uuid.UUID]Account
	history  map[uuid.UUID][]uuid.UUID
	outboxes []domain.Outbox
	nextID   int64
}

func New(log *slog.Logger) *Inmemory {
	return &Inmemory{
		log:      log,
		accounts: make(map[uuid.UUID]Account),
		history:  make(map[uuid.UUID][]uuid.UUID),
	}
}

type Account struct {
	ID           uuid.UUID
	Username     string
	Email        string
	Fullname     string
	Avatar       string
	CoverImage   string
	Password     string
	RefreshToken *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m *Inmemory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func fromDomain(a domain.Account) Account {
	return Account{
		ID:           a.ID,
		Username:     domain.NormalizeHandle(a.Handle),
		Email:        domain.NormalizeEmail(a.Email),
		Fullname:     a.DisplayName,
		Avatar:       a.Avatar,
		CoverImage:   a.CoverImage,
		Password:     a.Password,
		RefreshToken: copyToken(a.RefreshToken),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func (a Account) toDomain() *domain.Account {
	account := &domain.Account{
		ID:           a.ID,
		Handle:       a.Username,
		Email:        a.Email,
		DisplayName:  a.Fullname,
		Avatar:       a.Avatar,
		CoverImage:   a.CoverImage,
		RefreshToken: copyToken(a.RefreshToken),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
	account.SetPasswordHash(a.Password)
	return account
}

func copyToken(token *string) *string {
	if token == nil {
		return nil
	}
	t := *token
	return &t
}

type txKey struct{}

type snapshot struct {
	accounts map[uuid.UUID]Account
	history  map[uuid.UUID][]uuid.UUID
	outboxes []domain.Outbox
	nextID   int64
}

func (m *Inmemory) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := snapshot{
		accounts: make(map[uuid.UUID]Account, len(m.accounts)),
		history:  make(map[uuid.UUID][]uuid.UUID, len(m.history)),
		outboxes: append([]domain.Outbox(nil), m.outboxes...),
		nextID:   m.nextID,
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.history {
		s.history[k] = append([]uuid.UUID(nil), v...)
	}
	return s
}

func (m *Inmemory) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accounts = s.accounts
	m.history = s.history
	m.outboxes = s.outboxes
	m.nextID = s.nextID
}

// WithTx runs tFunc and restores the previous state if it fails. Transactions
// are serialized with each other and with writes made outside a transaction,
// so a rollback never discards such a write. Reads are not blocked.
func (m *Inmemory) WithTx(ctx context.Context, tFunc func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bool); ok {
		return tFunc(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	before := m.snapshot()
	if err := tFunc(context.WithValue(ctx, txKey{}, true)); err != nil {
		m.restore(before)
		return err
	}
	return nil
}

// writeLock holds txMu for a write made outside a transaction.
func (m *Inmemory) writeLock(ctx context.Context) func() {
	if _, ok := ctx.Value(txKey{}).(bool); ok {
		return func() {}
	}
	m.txMu.Lock()
	return m.txMu.Unlock
}

func (m *Inmemory) conflicts(a Account) bool {
	for id, other := range m.accounts {
		if id == a.ID {
			continue
		}
		if other.Username == a.Username || other.Email == a.Email {
			return true
		}
	}
	return false
}

func (m *Inmemory) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	defer m.writeLock(ctx)()

	m.mu.Lock()
	defer m.mu.Unlock()

	memAccount := fromDomain(account)
	if _, ok := m.accounts[memAccount.ID]; ok || m.conflicts(memAccount) {
		return nil, storage.ErrAccountExists
	}

	now := time.Now()
	memAccount.CreatedAt = now
	memAccount.UpdatedAt = now
	m.accounts[memAccount.ID] = memAccount

	return memAccount.toDomain(), nil
}

func (m *Inmemory) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	memAccount, ok := m.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return memAccount.toDomain(), nil
}

func (m *Inmemory) GetAccountByLogin(ctx context.Context, login string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, memAccount := range m.accounts {
		if memAccount.Username == login || memAccount.Email == login {
			return memAccount.toDomain(), nil
		}
	}
	return nil, storage.ErrAccountNotFound
}

// SaveAccount replaces the stored record. Last write wins.
// SaveAccount overwrites the profile and password of the account and keeps the
// stored refresh token. Concurrent saves are last-write-wins.
func (m *Inmemory) SaveAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	defer m.writeLock(ctx)()

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.accounts[account.ID]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}

	memAccount := fromDomain(account)
	if m.conflicts(memAccount) {
		return nil, storage.ErrAccountExists
	}
	memAccount.RefreshToken = stored.RefreshToken
	memAccount.CreatedAt = stored.CreatedAt
	memAccount.UpdatedAt = time.Now()
	m.accounts[memAccount.ID] = memAccount

	return memAccount.toDomain(), nil
}

func (m *Inmemory) SetRefreshToken(ctx context.Context, id uuid.UUID, token *string) error {
	defer m.writeLock(ctx)()

	m.mu.Lock()
	defer m.mu.Unlock()

	memAccount, ok := m.accounts[id]
	if !ok {
		return storage.ErrAccountNotFound
	}
	memAccount.RefreshToken = copyToken(token)
	memAccount.UpdatedAt = time.Now()
	m.accounts[id] = memAccount
	return nil
}

func (m *Inmemory) AppendWatchHistory(ctx context.Context, id uuid.UUID, mediaID uuid.UUID) error {
	defer m.writeLock(ctx)()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return storage.ErrAccountNotFound
	}
	m.history[id] = append(m.history[id], mediaID)
	return nil
}

func (m *Inmemory) WatchHistory(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]uuid.UUID{}, m.history[id]...), nil
}

func (m *Inmemory) CreateOutbox(ctx context.Context, outbox domain.Outbox) error {
	defer m.writeLock(ctx)()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	outbox.ID = m.nextID
	outbox.SentAt = nil
	m.outboxes = append(m.outboxes, outbox)
	return nil
}

func (m *Inmemory) NextOutbox(ctx context.Context) (*domain.Outbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.outboxes {
		if o.SentAt == nil {
			return &o, nil
		}
	}
	return nil, storage.ErrNoOutbox
}

func (m *Inmemory) ConfirmOutboxSent(ctx context.Context, id int64) error {
	defer m.writeLock(ctx)()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outboxes {
		if m.outboxes[i].ID == id {
			now := time.Now()
			m.outboxes[i].SentAt = &now
			return nil
		}
	}
	return storage.ErrNoOutbox
}
