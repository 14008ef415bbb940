package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
	"github.com/alexandernizov/accounts/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis caches public account profiles. Password hashes and refresh tokens are
// never written to the cache.
type Redis struct {
	log *slog.Logger
	db  *redis.Client
	ttl time.Duration
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

const keyPrefix = "account:"

func NewRedis(log *slog.Logger, opt RedisOptions) (*Redis, error) {
	db := redis.NewClient(&redis.Options{Addr: opt.Addr, Password: opt.Password, DB: opt.DB})

	_, err := db.Ping(context.Background()).Result()
	if err != nil {
		return nil, fmt.Errorf("can't ping Redis DB: %w", storage.ErrNoConnection)
	}
	return &Redis{log: log, db: db, ttl: opt.TTL}, nil
}

func (r *Redis) Close() error {
	return r.db.Close()
}

type Account struct {
	ID         string `redis:"id"`
	Username   string `redis:"username"`
	Email      string `redis:"email"`
	Fullname   string `redis:"fullname"`
	Avatar     string `redis:"avatar"`
	CoverImage string `redis:"cover_image"`
	CreatedAt  int64  `redis:"created_at"`
	UpdatedAt  int64  `redis:"updated_at"`
}

func fromDomain(a domain.Account) Account {
	return Account{
		ID:         a.ID.String(),
		Username:   a.Handle,
		Email:      a.Email,
		Fullname:   a.DisplayName,
		Avatar:     a.Avatar,
		CoverImage: a.CoverImage,
		CreatedAt:  a.CreatedAt.UnixNano(),
		UpdatedAt:  a.UpdatedAt.UnixNano(),
	}
}

func (a Account) toDomain() (*domain.Account, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		ID:          id,
		Handle:      a.Username,
		Email:       a.Email,
		DisplayName: a.Fullname,
		Avatar:      a.Avatar,
		CoverImage:  a.CoverImage,
		CreatedAt:   time.Unix(0, a.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, a.UpdatedAt).UTC(),
	}, nil
}

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

func (r *Redis) SetAccount(ctx context.Context, account domain.Account) error {
	const op = "redis.SetAccount"
	log := r.log.With(slog.String("op", op))

	_, err := r.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key(account.ID), fromDomain(account))
		if r.ttl > 0 {
			pipe.Expire(ctx, key(account.ID), r.ttl)
		}
		return nil
	})
	if err != nil {
		log.Error("can't cache account", sl.Err(err))
		return storage.ErrInternal
	}
	return nil
}

// GetAccount returns storage.ErrCacheMiss when the account is not cached.
func (r *Redis) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const op = "redis.GetAccount"
	log := r.log.With(slog.String("op", op))

	res := r.db.HGetAll(ctx, key(id))
	values, err := res.Result()
	if err != nil {
		log.Error("can't read cached account", sl.Err(err))
		return nil, storage.ErrInternal
	}
	if len(values) == 0 {
		return nil, storage.ErrCacheMiss
	}

	var cached Account
	if err := res.Scan(&cached); err != nil {
		log.Error("can't scan cached account", sl.Err(err))
		return nil, storage.ErrInternal
	}

	account, err := cached.toDomain()
	if err != nil {
		log.Error("broken cached account", sl.Err(err))
		return nil, storage.ErrCacheMiss
	}
	return account, nil
}

func (r *Redis) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	const op = "redis.DeleteAccount"
	log := r.log.With(slog.String("op", op))

	if err := r.db.Del(ctx, key(id)).Err(); err != nil {
		log.Error("can't evict cached account", sl.Err(err))
		return storage.ErrInternal
	}
	return nil
}
