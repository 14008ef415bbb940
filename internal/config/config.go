package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "configs/local.yaml"

var (
	ErrMissingSecret = errors.New("token secrets must be set")
)

type Config struct {
	Env            string `yaml:"env" env:"ENV" env-default:"local"`
	HttpConfig     `yaml:"http"`
	GrpcConfig     `yaml:"grpc"`
	PostgresConfig `yaml:"postgres"`
	RedisConfig    `yaml:"redis"`
	KafkaConfig    `yaml:"kafka"`
	TokensConfig   `yaml:"tokens"`
	PasswordConfig `yaml:"password"`
}

type HttpConfig struct {
	Port           int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT" env-default:"10s"`
	SecureCookies  bool          `yaml:"secure_cookies" env:"HTTP_SECURE_COOKIES"`
}

type GrpcConfig struct {
	Port           int           `yaml:"port" env:"GRPC_PORT" env-default:"9090"`
	HealthInterval time.Duration `yaml:"health_interval" env:"GRPC_HEALTH_INTERVAL" env-default:"5s"`
}

// PostgresConfig with an empty host keeps accounts in memory.
type PostgresConfig struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBname   string `yaml:"dbname" env:"POSTGRES_DB"`
}

// RedisConfig with an empty address disables the profile cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"1m"`
}

// KafkaConfig with no brokers disables the outbox publisher.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	ClientID        string        `yaml:"client_id" env:"KAFKA_CLIENT_ID" env-default:"accounts"`
	PublishInterval time.Duration `yaml:"publish_interval" env:"KAFKA_PUBLISH_INTERVAL" env-default:"1s"`
}

type TokensConfig struct {
	AccessSecret  string        `yaml:"access_secret" env:"ACCESS_TOKEN_SECRET"`
	AccessExpiry  time.Duration `yaml:"access_expiry" env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshSecret string        `yaml:"refresh_secret" env:"REFRESH_TOKEN_SECRET"`
	RefreshExpiry time.Duration `yaml:"refresh_expiry" env:"REFRESH_TOKEN_EXPIRY" env-default:"240h"`
}

type PasswordConfig struct {
	HashCost int `yaml:"hash_cost" env:"PASSWORD_HASH_COST" env-default:"10"`
}

func MustLoad() *Config {
	path, port := fetchFlags()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = defaultConfigPath
	}

	cfg := MustLoadByPath(path)

	if port != 0 {
		cfg.HttpConfig.Port = port
	}

	return cfg
}

func MustLoadByPath(path string) *Config {
	cfg, err := LoadByPath(path)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

func LoadByPath(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, ErrMissingSecret
	}

	return &cfg, nil
}

func fetchFlags() (string, int) {
	var path string
	var port int

	flag.StringVar(&path, "config", "", "path to config file")
	flag.IntVar(&port, "port", 0, "http server port")
	flag.Parse()

	return path, port
}
