package shared

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration
	Timezone    string

	AdminKey     string
	WebhookToken string

	CheckoutBase       string
	CheckoutKey        string
	CheckoutRPS        int
	CheckoutSuccessURL string
	PendingTTL         time.Duration
	ReconcileWorkers   int

	// booker CLI
	APIBase string
	APIRPS  int
}

// Load reads the environment, after merging a .env file from the working directory if present.
// Variables already set win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/chacara?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,
		Timezone:    env("TIMEZONE", "America/Sao_Paulo"),

		AdminKey:     env("ADMIN_API_KEY", ""),
		WebhookToken: env("WEBHOOK_TOKEN", ""),

		CheckoutBase:       env("CHECKOUT_BASE_URL", "https://sandbox.checkout.example/api/v1"),
		CheckoutKey:        env("CHECKOUT_API_KEY", ""),
		CheckoutRPS:        atoi("CHECKOUT_RPS", 5),
		CheckoutSuccessURL: env("CHECKOUT_SUCCESS_URL", "http://localhost:3000/reservas/{code}"),
		PendingTTL:         time.Duration(atoi("PENDING_TTL_MINUTES", 30)) * time.Minute,
		ReconcileWorkers:   atoi("RECONCILE_WORKERS", 4),

		APIBase: env("API_BASE_URL", "http://localhost:8080"),
		APIRPS:  atoi("API_RPS", 5),
	}
	return c
}

// WarnMissingSecrets logs the secrets a server process needs but did not get.
func (c Config) WarnMissingSecrets() {
	for k, v := range map[string]string{
		"ADMIN_API_KEY":    c.AdminKey,
		"WEBHOOK_TOKEN":    c.WebhookToken,
		"CHECKOUT_API_KEY": c.CheckoutKey,
	} {
		if v == "" {
			log.Warn().Msg(k + " is empty")
		}
	}
}

// Location resolves Timezone; dates such as "today" are computed in it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("tz", c.Timezone).Msg("unknown TIMEZONE, using UTC")
		return time.UTC
	}
	return loc
}

func atoi(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
	}
	return def
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
