package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexandernizov/accounts/internal/config"
	"github.com/alexandernizov/accounts/internal/credentials"
	"github.com/alexandernizov/accounts/internal/grpc"
	"github.com/alexandernizov/accounts/internal/http"
	"github.com/alexandernizov/accounts/internal/outbox"
	"github.com/alexandernizov/accounts/internal/pkg/logger/sl"
	"github.com/alexandernizov/accounts/internal/services/accounts"
	"github.com/alexandernizov/accounts/internal/storage/inmemory"
	"github.com/alexandernizov/accounts/internal/storage/postgres"
	"github.com/alexandernizov/accounts/internal/storage/redis"
)

const (
	envLocal = "local"
	envProd  = "prod"
)

type accountStorage interface {
	accounts.AccountStorage
	outbox.OutboxProvider
	grpc.Checker
}

func main() {
	//Инициализируем конфиг
	cfg := config.MustLoad()

	//Инициализируем логгер
	log := setupLogger(cfg.Env)
	log.Info("starting application", slog.String("env", cfg.Env))

	log.Info("server params",
		slog.Int("http port", cfg.HttpConfig.Port),
		slog.Int("grpc port", cfg.GrpcConfig.Port),
		slog.Duration("access token ttl", cfg.AccessExpiry),
		slog.Duration("refresh token ttl", cfg.RefreshExpiry),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	//Инициализируем сторедж
	store, closeStore := setupStorage(ctx, log, cfg.PostgresConfig)
	defer closeStore()

	credentialManager, err := credentials.New(credentials.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		AccessExpiry:  cfg.AccessExpiry,
		RefreshSecret: []byte(cfg.RefreshSecret),
		RefreshExpiry: cfg.RefreshExpiry,
		HashCost:      cfg.HashCost,
	})
	if err != nil {
		log.Error("can't init credentials", sl.Err(err))
		os.Exit(1)
	}

	//Инициализируем сервисный слой
	options := []func(*accounts.AccountService){}
	if cfg.RedisConfig.Addr != "" {
		cache, err := redis.NewRedis(log, redis.RedisOptions{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			TTL:      cfg.RedisConfig.TTL,
		})
		if err != nil {
			log.Warn("redis is unavailable, profile cache is disabled", sl.Err(err))
		} else {
			defer cache.Close()
			options = append(options, accounts.WithCache(cache))
		}
	}
	service := accounts.NewAccountService(log, store, credentialManager, options...)

	//Запускаем outbox
	if len(cfg.Brokers) > 0 {
		producer, err := outbox.NewProducer(outbox.ConnectOptions{Brokers: cfg.Brokers, ClientID: cfg.ClientID})
		if err != nil {
			log.Error("can't connect to kafka", sl.Err(err))
			os.Exit(1)
		}
		publisher := outbox.New(log, producer, store, cfg.PublishInterval)
		defer publisher.Close()
		go publisher.Run(ctx)
	}

	//Запускаем приложение
	httpOptions := []func(*http.Server){
		http.WithLogger(log),
		http.WithHttpAddr(fmt.Sprintf(":%d", cfg.HttpConfig.Port)),
		http.WithRequestTimeout(cfg.RequestTimeout),
		http.WithPrometheus(),
		http.WithAccounts(service, credentialManager),
	}
	if cfg.SecureCookies {
		httpOptions = append(httpOptions, http.WithSecureCookies())
	}
	httpServer := http.New(httpOptions...)
	go httpServer.Start()

	grpcServer := grpc.NewServer(log,
		grpc.WithAddr(fmt.Sprintf(":%d", cfg.GrpcConfig.Port)),
		grpc.WithChecker(store, cfg.HealthInterval),
	)
	if err := grpcServer.Start(); err != nil {
		log.Error("can't start grpc server", sl.Err(err))
		os.Exit(1)
	}

	//Останавливаем приложение
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	<-stop

	log.Info("stopping application")

	cancel()
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Stop(shutdownCtx)

	log.Info("application stopped")
}

func setupStorage(ctx context.Context, log *slog.Logger, cfg config.PostgresConfig) (accountStorage, func()) {
	if cfg.Host == "" {
		log.Warn("postgres is not configured, accounts are kept in memory")
		return inmemory.New(log), func() {}
	}

	pg, err := postgres.NewWithOptions(log, postgres.ConnectOptions{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		DBname:   cfg.DBname,
	})
	if err != nil {
		log.Error("can't connect to postgres", sl.Err(err))
		os.Exit(1)
	}

	if err := pg.Migrate(ctx); err != nil {
		log.Error("can't migrate postgres", sl.Err(err))
		os.Exit(1)
	}

	return pg, func() {
		if err := pg.Close(); err != nil {
			log.Error("can't close postgres", sl.Err(err))
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		panic("unknown enviroment")
	}

	return log
}
