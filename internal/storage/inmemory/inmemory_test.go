package inmemory_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/storage"
	"github.com/alexandernizov/accounts/internal/storage/inmemory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(handle, email string) domain.Account {
	a := domain.Account{ID: uuid.New(), Handle: handle, Email: email, DisplayName: "Neo", Avatar: "a"}
	a.SetPasswordHash("hash")
	return a
}

func TestCreateAccount_Uniqueness(t *testing.T) {
	tests := []struct {
		name    string
		second  domain.Account
		wantErr error
	}{
		{name: "distinct", second: newAccount("trinity", "trinity@x.io")},
		{name: "same_handle_case_and_space", second: newAccount("  NEO ", "other@x.io"), wantErr: storage.ErrAccountExists},
		{name: "same_email_case", second: newAccount("other", "Neo@X.io"), wantErr: storage.ErrAccountExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := inmemory.New(slog.Default())
			ctx := context.Background()

			_, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
			require.NoError(t, err)

			_, err = m.CreateAccount(ctx, tt.second)
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestGetAccount(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	created, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	byID, err := m.GetAccountByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "neo", byID.Handle)
	assert.False(t, byID.PasswordModified())

	byEmail, err := m.GetAccountByLogin(ctx, "neo@x.io")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	_, err = m.GetAccountByLogin(ctx, "ghost")
	assert.Equal(t, storage.ErrAccountNotFound, err)
	_, err = m.GetAccountByID(ctx, uuid.New())
	assert.Equal(t, storage.ErrAccountNotFound, err)
}

func TestSaveAccount(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	neo, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)
	_, err = m.CreateAccount(ctx, newAccount("trinity", "trinity@x.io"))
	require.NoError(t, err)

	neo.DisplayName = "The One"
	saved, err := m.SaveAccount(ctx, *neo)
	require.NoError(t, err)
	assert.Equal(t, "The One", saved.DisplayName)
	assert.Equal(t, neo.CreatedAt, saved.CreatedAt)

	neo.Email = "trinity@x.io"
	_, err = m.SaveAccount(ctx, *neo)
	assert.Equal(t, storage.ErrAccountExists, err)

	_, err = m.SaveAccount(ctx, newAccount("ghost", "ghost@x.io"))
	assert.Equal(t, storage.ErrAccountNotFound, err)
}

func TestSetRefreshToken_Overwrites(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	neo, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)

	first, second := "first", "second"
	require.NoError(t, m.SetRefreshToken(ctx, neo.ID, &first))
	require.NoError(t, m.SetRefreshToken(ctx, neo.ID, &second))

	got, err := m.GetAccountByID(ctx, neo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, "second", *got.RefreshToken)

	require.NoError(t, m.SetRefreshToken(ctx, neo.ID, nil))
	got, err = m.GetAccountByID(ctx, neo.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshToken)

	assert.Equal(t, storage.ErrAccountNotFound, m.SetRefreshToken(ctx, uuid.New(), nil))
}

func TestWithTx_RollsBack(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()
	failure := errors.New("failure")

	err := m.WithTx(ctx, func(ctx context.Context) error {
		if _, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io")); err != nil {
			return err
		}
		if err := m.CreateOutbox(ctx, domain.Outbox{Topic: domain.AccountTopic}); err != nil {
			return err
		}
		return failure
	})
	assert.Equal(t, failure, err)

	_, err = m.GetAccountByLogin(ctx, "neo")
	assert.Equal(t, storage.ErrAccountNotFound, err)
	_, err = m.NextOutbox(ctx)
	assert.Equal(t, storage.ErrNoOutbox, err)
}

func TestWatchHistory_Ordered(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	neo, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)

	first, second := uuid.New(), uuid.New()
	require.NoError(t, m.AppendWatchHistory(ctx, neo.ID, first))
	require.NoError(t, m.AppendWatchHistory(ctx, neo.ID, second))
	assert.Equal(t, storage.ErrAccountNotFound, m.AppendWatchHistory(ctx, uuid.New(), first))

	got, err := m.WatchHistory(ctx, neo.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, got)
}

func TestOutbox(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	require.NoError(t, m.CreateOutbox(ctx, domain.Outbox{Topic: domain.AccountTopic, Message: []byte("1")}))
	require.NoError(t, m.CreateOutbox(ctx, domain.Outbox{Topic: domain.AccountTopic, Message: []byte("2")}))

	next, err := m.NextOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), next.Message)

	require.NoError(t, m.ConfirmOutboxSent(ctx, next.ID))
	next, err = m.NextOutbox(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), next.Message)
}

func TestConcurrentSaves_LastWriteWins(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	neo, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)

	a, b := *neo, *neo
	a.DisplayName = "changed by a"
	b.CoverImage = "changed by b"

	var wg sync.WaitGroup
	for _, acc := range []domain.Account{a, b} {
		wg.Add(1)
		go func(acc domain.Account) {
			defer wg.Done()
			_, err := m.SaveAccount(ctx, acc)
			assert.NoError(t, err)
		}(acc)
	}
	wg.Wait()

	got, err := m.GetAccountByID(ctx, neo.ID)
	require.NoError(t, err)
	lastA := got.DisplayName == "changed by a" && got.CoverImage == ""
	lastB := got.DisplayName == "Neo" && got.CoverImage == "changed by b"
	assert.True(t, lastA || lastB, "one write must fully replace the other: %+v", got)
}

func TestPing(t *testing.T) {
	m := inmemory.New(slog.Default())
	assert.NoError(t, m.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Ping(ctx), context.Canceled)
}

func TestSaveAccount_KeepsStoredRefreshToken(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	neo, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)

	older, newer := "A", "B"
	require.NoError(t, m.SetRefreshToken(ctx, neo.ID, &older))

	loaded, err := m.GetAccountByID(ctx, neo.ID)
	require.NoError(t, err)

	require.NoError(t, m.SetRefreshToken(ctx, neo.ID, &newer))

	loaded.DisplayName = "The One"
	saved, err := m.SaveAccount(ctx, *loaded)
	require.NoError(t, err)
	require.NotNil(t, saved.RefreshToken)
	assert.Equal(t, "B", *saved.RefreshToken)

	require.NoError(t, m.SetRefreshToken(ctx, neo.ID, nil))
	_, err = m.SaveAccount(ctx, *loaded)
	require.NoError(t, err)

	got, err := m.GetAccountByID(ctx, neo.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RefreshToken)
	assert.Equal(t, "The One", got.DisplayName)
}

func TestWithTx_RollbackKeepsOutsideWrites(t *testing.T) {
	m := inmemory.New(slog.Default())
	ctx := context.Background()

	neo, err := m.CreateAccount(ctx, newAccount("neo", "neo@x.io"))
	require.NoError(t, err)

	inTx := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error)
	go func() {
		txDone <- m.WithTx(ctx, func(ctx context.Context) error {
			close(inTx)
			<-release
			return errors.New("failure")
		})
	}()
	<-inTx

	token := "B"
	writeDone := make(chan error)
	go func() {
		writeDone <- m.SetRefreshToken(ctx, neo.ID, &token)
	}()

	close(release)
	require.Error(t, <-txDone)
	require.NoError(t, <-writeDone)

	got, err := m.GetAccountByID(ctx, neo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RefreshToken)
	assert.Equal(t, "B", *got.RefreshToken)
}
