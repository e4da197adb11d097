package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const DefaultAPIURL = "https://graph.facebook.com/v18.0"

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
	Provider ProviderConfig
	Reply    ReplyConfig
	Monitor  MonitorConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         int
	ListMaxLimit int
}

// Address returns the listen address for Port.
func (s ServerConfig) Address() string {
	return ":" + strconv.Itoa(s.Port)
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type WebhookConfig struct {
	VerifyToken string
	AppSecret   string
}

// ProviderConfig holds the outbound API settings. Token and PhoneNumberID
// are not required at startup; the client reports them as misconfigured on
// first use.
type ProviderConfig struct {
	APIURL        string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

type ReplyConfig struct {
	Mode string
	Text string
}

type MonitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func LoadAll() (*Config, error) {
	var errs []error

	pgURL, err := requireEnv("POSTGRES_URL")
	errs = appendErr(errs, err)

	port, err := getEnvInt("PORT", 3000)
	errs = appendErr(errs, err)
	listMax, err := getEnvInt("LIST_MAX_LIMIT", 500)
	errs = appendErr(errs, err)
	timeout, err := getEnvInt("PROVIDER_TIMEOUT_SECONDS", 10)
	errs = appendErr(errs, err)
	interval, err := getEnvInt("STALE_CHECK_INTERVAL_SECONDS", 300)
	errs = appendErr(errs, err)
	staleAfter, err := getEnvInt("STALE_AFTER_SECONDS", 600)
	errs = appendErr(errs, err)

	redisCfg, err := loadRedisConfig()
	errs = appendErr(errs, err)

	cfg := &Config{
		Server: ServerConfig{
			Port:         port,
			ListMaxLimit: listMax,
		},
		Database: DatabaseConfig{
			PostgresURL: pgURL,
		},
		Redis: redisCfg,
		Webhook: WebhookConfig{
			VerifyToken: os.Getenv("VERIFY_TOKEN"),
			AppSecret:   os.Getenv("APP_SECRET"),
		},
		Provider: ProviderConfig{
			APIURL:        strings.TrimRight(getEnv("WHATSAPP_API_URL", DefaultAPIURL), "/"),
			Token:         os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID: os.Getenv("PHONE_NUMBER_ID"),
			Timeout:       time.Duration(timeout) * time.Second,
		},
		Reply: ReplyConfig{
			Mode: strings.ToLower(getEnv("REPLY_MODE", "fixed")),
			Text: getEnv("REPLY_TEXT", "Thanks, your message was received."),
		},
		Monitor: MonitorConfig{
			Interval:   time.Duration(interval) * time.Second,
			StaleAfter: time.Duration(staleAfter) * time.Second,
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	errs = appendErr(errs, err)
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	errs = appendErr(errs, err)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors(errs)
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be in 1..65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.ListMaxLimit <= 0 {
		errs = append(errs, errors.New("LIST_MAX_LIMIT must be > 0"))
	}
	if cfg.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("STALE_CHECK_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Monitor.StaleAfter <= 0 {
		errs = append(errs, errors.New("STALE_AFTER_SECONDS must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	switch cfg.Reply.Mode {
	case "fixed", "echo":
	default:
		errs = append(errs, fmt.Errorf("REPLY_MODE must be fixed or echo, got %q", cfg.Reply.Mode))
	}
	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
