// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"APP_ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	SMTP                    `yaml:"smtp"`
	Access                  `yaml:"access"`
	RateLimit               `yaml:"rate_limit"`
	Scheduler               `yaml:"scheduler"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken структура для работы с jwt-токеном
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// RabbitMQ настройки подключения к брокеру. Пустой URL отключает публикацию.
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// SMTP настройки почтового транспорта для sender.
type SMTP struct {
	SMTPHost string `yaml:"host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser string `yaml:"user" env:"SMTP_USER"`
	SMTPPass string `yaml:"password" env:"SMTP_PASSWORD"`
}

// Access параметры проверки доступа и учёта расхода.
type Access struct {
	FreeSessionsLimit int           `yaml:"free_sessions_limit" env-default:"3"`
	InitialTokens     int64         `yaml:"initial_tokens" env-default:"0"`
	DefaultTokenCost  int64         `yaml:"default_token_cost" env-default:"1"`
	CheckTimeout      time.Duration `yaml:"check_timeout" env-default:"3s"`
	CacheTTL          time.Duration `yaml:"cache_ttl" env-default:"30s"`
	AuditTimeout      time.Duration `yaml:"audit_timeout" env-default:"1s"`
	// LedgerMode выбирает единый вид расходуемого ресурса: sessions или tokens.
	LedgerMode string `yaml:"ledger_mode" env:"LEDGER_MODE" env-default:"sessions"`
}

// RateLimit параметры скользящих окон и глобального ограничителя запросов.
type RateLimit struct {
	SubmissionMax    int           `yaml:"submission_max" env-default:"10"`
	SubmissionWindow time.Duration `yaml:"submission_window" env-default:"1m"`
	EventMax         int           `yaml:"event_max" env-default:"5"`
	EventWindow      time.Duration `yaml:"event_window" env-default:"1m"`
	GlobalRPS        float64       `yaml:"global_rps" env-default:"50"`
	GlobalBurst      int           `yaml:"global_burst" env-default:"100"`
}

// Scheduler параметры фоновой переоценки пробных периодов.
type Scheduler struct {
	Interval      time.Duration `yaml:"interval" env-default:"1h"`
	HeadsUpWindow time.Duration `yaml:"heads_up_window" env-default:"24h"`
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

// Load читает конфиг из файла и переменных окружения и проверяет его.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых сервис работать не может.
func (c *Config) Validate() error {
	if c.FreeSessionsLimit < 0 {
		return fmt.Errorf("free_sessions_limit must not be negative")
	}
	if c.InitialTokens < 0 {
		return fmt.Errorf("initial_tokens must not be negative")
	}
	if c.DefaultTokenCost < 0 {
		return fmt.Errorf("default_token_cost must not be negative")
	}
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("check_timeout must be positive")
	}
	if c.AuditTimeout <= 0 {
		return fmt.Errorf("audit_timeout must be positive")
	}
	switch c.LedgerMode {
	case "sessions", "tokens":
	default:
		return fmt.Errorf("unknown ledger_mode %q", c.LedgerMode)
	}
	if c.SubmissionMax <= 0 || c.SubmissionWindow <= 0 {
		return fmt.Errorf("submission rate limit must be positive")
	}
	if c.EventMax <= 0 || c.EventWindow <= 0 {
		return fmt.Errorf("event rate limit must be positive")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Access:\n"+
			"  FreeSessionsLimit: %d\n"+
			"  LedgerMode: %s\n"+
			"  CheckTimeout: %s\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.FreeSessionsLimit,
		c.LedgerMode,
		c.CheckTimeout,
	)
}
