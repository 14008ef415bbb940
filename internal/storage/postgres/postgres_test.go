package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/storage"
	"github.com/alexandernizov/accounts/internal/storage/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumns = []string{"id", "username", "email", "fullname", "avatar", "cover_image", "password", "refresh_token", "created_at", "updated_at"}

func newRepo(t *testing.T) (*postgres.Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return postgres.New(log, db), mock
}

func TestWithTx(t *testing.T) {
	repo, mock := newRepo(t)

	type mockBehavior func(func(context.Context) error)

	sameError := errors.New("some error")

	testTable := []struct {
		name         string
		ctx          context.Context
		testFunc     func(context.Context) error
		expectErr    error
		mockBehavior mockBehavior
	}{
		{
			name:      "transaction_commited",
			ctx:       context.Background(),
			testFunc:  func(ctx context.Context) error { return nil },
			expectErr: nil,
			mockBehavior: func(func(context.Context) error) {
				mock.ExpectBegin()
				mock.ExpectCommit()
			},
		},
		{
			name:      "begin_errored",
			ctx:       context.Background(),
			testFunc:  func(ctx context.Context) error { return nil },
			expectErr: storage.ErrInternal,
			mockBehavior: func(func(context.Context) error) {
				mock.ExpectBegin().WillReturnError(errors.New("some error"))
			},
		},
		{
			name:      "fn_errored",
			ctx:       context.Background(),
			testFunc:  func(ctx context.Context) error { return sameError },
			expectErr: sameError,
			mockBehavior: func(func(context.Context) error) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
		},
		{
			name:      "fn_errored_rollback_errored",
			ctx:       context.Background(),
			testFunc:  func(ctx context.Context) error { return sameError },
			expectErr: storage.ErrInternal,
			mockBehavior: func(func(context.Context) error) {
				mock.ExpectBegin()
				mock.ExpectRollback().WillReturnError(errors.New("some error"))
			},
		},
		{
			name:      "fn_commit_errored",
			ctx:       context.Background(),
			testFunc:  func(ctx context.Context) error { return nil },
			expectErr: storage.ErrInternal,
			mockBehavior: func(func(context.Context) error) {
				mock.ExpectBegin()
				mock.ExpectCommit().WillReturnError(errors.New("some error"))
			},
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.mockBehavior(testCase.testFunc)

			err := repo.WithTx(testCase.ctx, testCase.testFunc)

			assert.Equal(t, testCase.expectErr, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWithTx_SharesTransaction(t *testing.T) {
	repo, mock := newRepo(t)

	id := uuid.New()
	token := "refresh"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET refresh_token").WithArgs(id, token).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WithArgs(id, domain.AccountTopic, []byte("{}")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(ctx context.Context) error {
		if err := repo.SetRefreshToken(ctx, id, &token); err != nil {
			return err
		}
		return repo.CreateOutbox(ctx, domain.Outbox{Key: id, Topic: domain.AccountTopic, Message: []byte("{}")})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount(t *testing.T) {
	repo, mock := newRepo(t)

	type args struct {
		context.Context
		domain.Account
	}

	type mockBehavior func(args)

	sameUuid := uuid.New()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	account := domain.Account{
		ID: sameUuid, Handle: "neo", Email: "neo@x.io", DisplayName: "Neo",
		Avatar: "https://cdn/neo.png", Password: "$2a$10$hash",
	}

	testTable := []struct {
		name         string
		args         args
		expectHandle string
		expectErr    error
		mockBehavior mockBehavior
	}{
		{
			name:         "account_created",
			args:         args{context.Background(), account},
			expectHandle: "neo",
			mockBehavior: func(args args) {
				mock.ExpectBegin()
				mock.ExpectQuery("INSERT INTO accounts").
					WithArgs(args.ID, args.Handle, args.Email, args.DisplayName, args.Avatar, "", args.Password, nil).
					WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, created))
				mock.ExpectCommit()
			},
		},
		{
			name:      "duplicate_username",
			args:      args{context.Background(), account},
			expectErr: storage.ErrAccountExists,
			mockBehavior: func(args args) {
				mock.ExpectBegin()
				mock.ExpectQuery("INSERT INTO accounts").
					WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_username_key"})
				mock.ExpectRollback()
			},
		},
		{
			name:      "got_internal_error",
			args:      args{context.Background(), account},
			expectErr: storage.ErrInternal,
			mockBehavior: func(args args) {
				mock.ExpectBegin()
				mock.ExpectQuery("INSERT INTO accounts").WillReturnError(errors.New("some error"))
				mock.ExpectRollback()
			},
		},
		{
			name:      "begin_errored",
			args:      args{context.Background(), account},
			expectErr: storage.ErrInternal,
			mockBehavior: func(args args) {
				mock.ExpectBegin().WillReturnError(errors.New("some error"))
			},
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.mockBehavior(testCase.args)

			got, err := repo.CreateAccount(testCase.args.Context, testCase.args.Account)

			assert.Equal(t, testCase.expectErr, err)
			if testCase.expectErr == nil {
				require.NotNil(t, got)
				assert.Equal(t, testCase.expectHandle, got.Handle)
				assert.Equal(t, created, got.CreatedAt)
				assert.False(t, got.PasswordModified())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetAccountByLogin(t *testing.T) {
	repo, mock := newRepo(t)

	sameUuid := uuid.New()
	now := time.Now().UTC()

	testTable := []struct {
		name          string
		login         string
		expectAccount *domain.Account
		expectErr     error
		mockBehavior  func(login string)
	}{
		{
			name:  "found_by_email",
			login: "neo@x.io",
			expectAccount: func() *domain.Account {
				token := "refresh"
				a := &domain.Account{
					ID: sameUuid, Handle: "neo", Email: "neo@x.io", DisplayName: "Neo",
					Avatar: "a", RefreshToken: &token, CreatedAt: now, UpdatedAt: now,
				}
				a.SetPasswordHash("hash")
				return a
			}(),
			mockBehavior: func(login string) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT (.+) FROM accounts WHERE username = \\$1 OR email = \\$1").WithArgs(login).
					WillReturnRows(sqlmock.NewRows(accountColumns).
						AddRow(sameUuid.String(), "neo", "neo@x.io", "Neo", "a", "", "hash", "refresh", now, now))
				mock.ExpectCommit()
			},
		},
		{
			name:      "not_found",
			login:     "ghost",
			expectErr: storage.ErrAccountNotFound,
			mockBehavior: func(login string) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT (.+) FROM accounts").WithArgs(login).
					WillReturnRows(sqlmock.NewRows(accountColumns))
				mock.ExpectRollback()
			},
		},
		{
			name:      "internal_error",
			login:     "neo",
			expectErr: storage.ErrInternal,
			mockBehavior: func(login string) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT (.+) FROM accounts").WithArgs(login).
					WillReturnError(errors.New("some error"))
				mock.ExpectRollback()
			},
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.mockBehavior(testCase.login)

			got, err := repo.GetAccountByLogin(context.Background(), testCase.login)

			assert.Equal(t, testCase.expectErr, err)
			assert.Equal(t, testCase.expectAccount, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGetAccountByID_NullRefreshToken(t *testing.T) {
	repo, mock := newRepo(t)

	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1").WithArgs(id).
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow(id.String(), "neo", "neo@x.io", "Neo", "a", "c", "hash", nil, now, now))
	mock.ExpectCommit()

	got, err := repo.GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshToken)
	assert.Equal(t, "c", got.CoverImage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAccount(t *testing.T) {
	repo, mock := newRepo(t)

	stale := "stale-token"
	account := domain.Account{ID: uuid.New(), Handle: "neo", Email: "neo@x.io", DisplayName: "Neo", Avatar: "a", Password: "hash", RefreshToken: &stale}
	now := time.Now().UTC()
	returned := []string{"refresh_token", "created_at", "updated_at"}

	testTable := []struct {
		name         string
		expectErr    error
		wantToken    *string
		mockBehavior func()
	}{
		{
			name:      "saved_keeps_stored_token",
			wantToken: ptr("current-token"),
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectQuery(`UPDATE accounts SET username = \$2, email = \$3, fullname = \$4, avatar = \$5, cover_image = \$6,\s+password = \$7, updated_at = now\(\) WHERE id = \$1 RETURNING refresh_token`).
					WithArgs(account.ID, "neo", "neo@x.io", "Neo", "a", "", "hash").
					WillReturnRows(sqlmock.NewRows(returned).AddRow("current-token", now, now))
				mock.ExpectCommit()
			},
		},
		{
			name: "saved_after_logout",
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectQuery("UPDATE accounts SET").
					WithArgs(account.ID, "neo", "neo@x.io", "Neo", "a", "", "hash").
					WillReturnRows(sqlmock.NewRows(returned).AddRow(nil, now, now))
				mock.ExpectCommit()
			},
		},
		{
			name:      "not_found",
			expectErr: storage.ErrAccountNotFound,
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectQuery("UPDATE accounts SET").
					WillReturnRows(sqlmock.NewRows(returned))
				mock.ExpectRollback()
			},
		},
		{
			name:      "duplicate_email",
			expectErr: storage.ErrAccountExists,
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectQuery("UPDATE accounts SET").WillReturnError(&pq.Error{Code: "23505"})
				mock.ExpectRollback()
			},
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.mockBehavior()

			got, err := repo.SaveAccount(context.Background(), account)

			assert.Equal(t, testCase.expectErr, err)
			if testCase.expectErr == nil {
				require.NotNil(t, got)
				assert.Equal(t, now, got.UpdatedAt)
				assert.Equal(t, testCase.wantToken, got.RefreshToken)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSetRefreshToken(t *testing.T) {
	repo, mock := newRepo(t)

	id := uuid.New()
	token := "refresh"

	testTable := []struct {
		name         string
		token        *string
		expectErr    error
		mockBehavior func()
	}{
		{
			name:  "set",
			token: &token,
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE accounts SET refresh_token").WithArgs(id, token).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:  "cleared",
			token: nil,
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE accounts SET refresh_token").WithArgs(id, nil).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:      "not_found",
			token:     &token,
			expectErr: storage.ErrAccountNotFound,
			mockBehavior: func() {
				mock.ExpectBegin()
				mock.ExpectExec("UPDATE accounts SET refresh_token").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
			},
		},
	}

	for _, testCase := range testTable {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.mockBehavior()

			err := repo.SetRefreshToken(context.Background(), id, testCase.token)

			assert.Equal(t, testCase.expectErr, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWatchHistory(t *testing.T) {
	repo, mock := newRepo(t)

	id := uuid.New()
	first, second := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO watch_history").WithArgs(id, second).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT media_id FROM watch_history").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"media_id"}).AddRow(first.String()).AddRow(second.String()))

	require.NoError(t, repo.AppendWatchHistory(context.Background(), id, second))

	got, err := repo.WatchHistory(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWatchHistory_UnknownAccount(t *testing.T) {
	repo, mock := newRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO watch_history").WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err := repo.AppendWatchHistory(context.Background(), uuid.New(), uuid.New())
	assert.Equal(t, storage.ErrAccountNotFound, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox(t *testing.T) {
	repo, mock := newRepo(t)

	key := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, key, topic, message FROM outbox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "topic", "message"}).
			AddRow(int64(7), key.String(), domain.AccountTopic, []byte("payload")))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE outbox SET sent_at").WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, key, topic, message FROM outbox").
		WillReturnRows(sqlmock.NewRows([]string{"id", "key", "topic", "message"}))
	mock.ExpectRollback()

	got, err := repo.NextOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, []byte("payload"), got.Message)

	require.NoError(t, repo.ConfirmOutboxSent(context.Background(), got.ID))

	_, err = repo.NextOutbox(context.Background())
	assert.Equal(t, storage.ErrNoOutbox, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := postgres.New(slog.Default(), db)

	mock.ExpectPing()
	assert.NoError(t, repo.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.ErrorIs(t, repo.Ping(context.Background()), storage.ErrNoConnection)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func ptr(s string) *string {
	return &s
}
