package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
	"github.com/alexandernizov/accounts/internal/storage"
	"github.com/alexandernizov/accounts/internal/storage/postgres/migrations"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

type Postgres struct {
	log *slog.Logger
	db  *sql.DB
}

type ConnectOptions struct {
	Host     string
	Port     string
	User     string
	Password string
	DBname   string
}

const (
	accountsTable     = "accounts"
	watchHistoryTable = "watch_history"
	outboxTable       = "outbox"

	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
)

const accountColumns = "id, username, email, fullname, avatar, cover_image, password, refresh_token, created_at, updated_at"

func New(log *slog.Logger, db *sql.DB) *Postgres {
	return &Postgres{log, db}
}

func NewWithOptions(log *slog.Logger, opt ConnectOptions) (*Postgres, error) {
	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		opt.Host,
		opt.Port,
		opt.User,
		opt.Password,
		opt.DBname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("can't open Postgres DB: %w", storage.ErrNoConnection)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("can't ping Postgres DB: %w", storage.ErrNoConnection)
	}

	return &Postgres{log: log, db: db}, nil
}

func (p *Postgres) Close() error {
	err := p.db.Close()
	if err != nil {
		return err
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrNoConnection, err)
	}
	return nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	const op = "postgres.Migrate"

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := gooseUpContext(ctx, p.db, "."); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

type Account struct {
	ID           uuid.UUID      `pg:"id"`
	Username     string         `pg:"username"`
	Email        string         `pg:"email"`
	Fullname     string         `pg:"fullname"`
	Avatar       string         `pg:"avatar"`
	CoverImage   string         `pg:"cover_image"`
	Password     string         `pg:"password"`
	RefreshToken sql.NullString `pg:"refresh_token"`
	CreatedAt    time.Time      `pg:"created_at"`
	UpdatedAt    time.Time      `pg:"updated_at"`
}

func fromDomain(a domain.Account) Account {
	pgAccount := Account{
		ID:         a.ID,
		Username:   a.Handle,
		Email:      a.Email,
		Fullname:   a.DisplayName,
		Avatar:     a.Avatar,
		CoverImage: a.CoverImage,
		Password:   a.Password,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
	if a.RefreshToken != nil {
		pgAccount.RefreshToken = sql.NullString{String: *a.RefreshToken, Valid: true}
	}
	return pgAccount
}

func (a Account) toDomain() *domain.Account {
	account := &domain.Account{
		ID:          a.ID,
		Handle:      a.Username,
		Email:       a.Email,
		DisplayName: a.Fullname,
		Avatar:      a.Avatar,
		CoverImage:  a.CoverImage,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
	account.SetPasswordHash(a.Password)
	if a.RefreshToken.Valid {
		token := a.RefreshToken.String
		account.RefreshToken = &token
	}
	return account
}

func (a *Account) scanDest() []any {
	return []any{&a.ID, &a.Username, &a.Email, &a.Fullname, &a.Avatar, &a.CoverImage,
		&a.Password, &a.RefreshToken, &a.CreatedAt, &a.UpdatedAt}
}

type txKey struct{}

func injectTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func (p *Postgres) extractTx(ctx context.Context) (tx *sql.Tx, closeTx func(err error), err error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, func(err error) {}, nil
	}

	tx, err = p.db.BeginTx(ctx, nil)
	if err != nil {
		p.log.Error("error according begin transaction in DB", sl.Err(err))
		return nil, nil, storage.ErrInternal
	}
	return tx, func(err error) {
		if err != nil {
			errRollback := tx.Rollback()
			if errRollback != nil {
				p.log.Error("error according rollback transaction in DB", sl.Err(errRollback))
			}
			return
		}
		errCommit := tx.Commit()
		if errCommit != nil {
			p.log.Error("error according commit transaction in DB", sl.Err(errCommit))
		}
	}, nil
}

func (p *Postgres) WithTx(ctx context.Context, tFunc func(ctx context.Context) error) error {
	op := "postgres.WithTx"
	log := p.log.With(slog.String("op", op))

	tx, beginError := p.db.BeginTx(ctx, nil)
	if beginError != nil {
		log.Error("error with Start transaction", sl.Err(beginError))
		return storage.ErrInternal
	}

	ctxTx := injectTx(ctx, tx)

	fnError := tFunc(ctxTx)

	if fnError != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			log.Error("error with Rollback transaction", sl.Err(rollbackErr))
			return storage.ErrInternal
		}
		return fnError
	}

	if commitError := tx.Commit(); commitError != nil {
		log.Error("error with Commit transaction", sl.Err(commitError))
		return storage.ErrInternal
	}

	return nil
}

func isViolation(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func (p *Postgres) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	const op = "postgres.CreateAccount"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return nil, err
	}

	pgAccount := fromDomain(account)

	query := fmt.Sprintf(`INSERT INTO %s (id, username, email, fullname, avatar, cover_image, password, refresh_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING created_at, updated_at`, accountsTable)
	row := tx.QueryRowContext(ctx, query, pgAccount.ID, pgAccount.Username, pgAccount.Email, pgAccount.Fullname,
		pgAccount.Avatar, pgAccount.CoverImage, pgAccount.Password, pgAccount.RefreshToken)
	err = row.Scan(&pgAccount.CreatedAt, &pgAccount.UpdatedAt)
	closeTx(err)

	if isViolation(err, uniqueViolation) {
		return nil, storage.ErrAccountExists
	}
	if err != nil {
		log.Error("error: ", sl.Err(err))
		return nil, storage.ErrInternal
	}

	return pgAccount.toDomain(), nil
}

func (p *Postgres) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "postgres.GetAccountByID"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", accountColumns, accountsTable)
	return p.getAccount(ctx, op, query, id)
}

// GetAccountByLogin looks an account up by username or email.
func (p *Postgres) GetAccountByLogin(ctx context.Context, login string) (*domain.Account, error) {
	const op = "postgres.GetAccountByLogin"

	query := fmt.Sprintf("SELECT %s FROM %s WHERE username = $1 OR email = $1", accountColumns, accountsTable)
	return p.getAccount(ctx, op, query, login)
}

func (p *Postgres) getAccount(ctx context.Context, op string, query string, arg any) (*domain.Account, error) {
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return nil, err
	}

	var pgAccount Account
	row := tx.QueryRowContext(ctx, query, arg)
	err = row.Scan(pgAccount.scanDest()...)
	closeTx(err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		log.Info("error: ", sl.Err(err))
		return nil, storage.ErrInternal
	}

	return pgAccount.toDomain(), nil
}

// SaveAccount overwrites the profile and password columns of the account.
// The refresh token is owned by SetRefreshToken and the stored value is
// returned untouched. Concurrent saves of the same account are not
// coordinated: the last write wins, including for fields the later writer did
// not change.
func (p *Postgres) SaveAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	const op = "postgres.SaveAccount"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return nil, err
	}

	pgAccount := fromDomain(account)

	query := fmt.Sprintf(`UPDATE %s SET username = $2, email = $3, fullname = $4, avatar = $5, cover_image = $6,
		password = $7, updated_at = now() WHERE id = $1 RETURNING refresh_token, created_at, updated_at`, accountsTable)
	row := tx.QueryRowContext(ctx, query, pgAccount.ID, pgAccount.Username, pgAccount.Email, pgAccount.Fullname,
		pgAccount.Avatar, pgAccount.CoverImage, pgAccount.Password)
	err = row.Scan(&pgAccount.RefreshToken, &pgAccount.CreatedAt, &pgAccount.UpdatedAt)
	closeTx(err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrAccountNotFound
	}
	if isViolation(err, uniqueViolation) {
		return nil, storage.ErrAccountExists
	}
	if err != nil {
		log.Error("error: ", sl.Err(err))
		return nil, storage.ErrInternal
	}

	return pgAccount.toDomain(), nil
}

// SetRefreshToken overwrites the stored refresh token. A nil token clears it.
func (p *Postgres) SetRefreshToken(ctx context.Context, id uuid.UUID, token *string) error {
	const op = "postgres.SetRefreshToken"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return err
	}

	var value sql.NullString
	if token != nil {
		value = sql.NullString{String: *token, Valid: true}
	}

	query := fmt.Sprintf("UPDATE %s SET refresh_token = $2, updated_at = now() WHERE id = $1", accountsTable)
	res, err := tx.ExecContext(ctx, query, id, value)
	var affected int64
	if err == nil {
		affected, err = res.RowsAffected()
	}
	closeTx(err)

	if err != nil {
		log.Error("error: ", sl.Err(err))
		return storage.ErrInternal
	}
	if affected == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

func (p *Postgres) AppendWatchHistory(ctx context.Context, id uuid.UUID, mediaID uuid.UUID) error {
	const op = "postgres.AppendWatchHistory"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s (account_id, media_id) VALUES ($1, $2)", watchHistoryTable)
	_, err = tx.ExecContext(ctx, query, id, mediaID)
	closeTx(err)

	if isViolation(err, foreignKeyViolation) {
		return storage.ErrAccountNotFound
	}
	if err != nil {
		log.Error("error: ", sl.Err(err))
		return storage.ErrInternal
	}

	return nil
}

// WatchHistory returns media references oldest first.
func (p *Postgres) WatchHistory(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	const op = "postgres.WatchHistory"
	log := p.log.With(slog.String("op", op))

	query := fmt.Sprintf("SELECT media_id FROM %s WHERE account_id = $1 ORDER BY id", watchHistoryTable)
	rows, err := p.db.QueryContext(ctx, query, id)
	if err != nil {
		log.Error("error: ", sl.Err(err))
		return nil, storage.ErrInternal
	}
	defer rows.Close()

	history := []uuid.UUID{}
	for rows.Next() {
		var mediaID uuid.UUID
		if err := rows.Scan(&mediaID); err != nil {
			log.Error("error: ", sl.Err(err))
			return nil, storage.ErrInternal
		}
		history = append(history, mediaID)
	}
	if err := rows.Err(); err != nil {
		log.Error("error: ", sl.Err(err))
		return nil, storage.ErrInternal
	}

	return history, nil
}

func (p *Postgres) CreateOutbox(ctx context.Context, outbox domain.Outbox) error {
	const op = "postgres.CreateOutbox"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("INSERT INTO %s (key, topic, message) VALUES ($1,$2,$3)", outboxTable)
	_, err = tx.ExecContext(ctx, query, outbox.Key, outbox.Topic, outbox.Message)
	closeTx(err)

	if err != nil {
		log.Info("error: ", sl.Err(err))
		return storage.ErrInternal
	}

	return nil
}

func (p *Postgres) NextOutbox(ctx context.Context) (*domain.Outbox, error) {
	const op = "postgres.NextOutbox"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return nil, err
	}

	var outbox domain.Outbox

	query := fmt.Sprintf("SELECT id, key, topic, message FROM %s WHERE sent_at IS NULL ORDER BY id LIMIT 1", outboxTable)
	row := tx.QueryRowContext(ctx, query)
	err = row.Scan(&outbox.ID, &outbox.Key, &outbox.Topic, &outbox.Message)
	closeTx(err)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoOutbox
	}
	if err != nil {
		log.Info("error: ", sl.Err(err))
		return nil, storage.ErrInternal
	}
	return &outbox, nil
}

func (p *Postgres) ConfirmOutboxSent(ctx context.Context, id int64) error {
	const op = "postgres.ConfirmOutboxSent"
	log := p.log.With(slog.String("op", op))

	tx, closeTx, err := p.extractTx(ctx)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET sent_at = $1 WHERE id = $2`, outboxTable)
	_, err = tx.ExecContext(ctx, query, time.Now(), id)
	closeTx(err)

	if err != nil {
		log.Info("error: ", sl.Err(err))
		return storage.ErrInternal
	}
	return nil
}
