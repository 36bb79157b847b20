// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/themobileprof/chatmanager/internal/keys"
	"github.com/themobileprof/chatmanager/internal/logger"
	"github.com/themobileprof/chatmanager/pkg/openai"
)

const prefix = "CHATMANAGER_"

// Config holds everything the server needs at startup
type Config struct {
	Credentials []keys.Credential
	Policy      keys.Policy

	APIBase     string
	Model       string
	Temperature *float64
	TopP        *float64
	Timeout     time.Duration

	Concurrency     int
	RateLimit       rate.Limit // 0 disables per-credential pacing
	RateBurst       int
	BreakerFailures int // 0 disables the circuit breaker
	BreakerReset    time.Duration

	DatabaseURL string
	ListenAddr  string
	Session     string

	// HTTP surface
	AllowedOrigins []string // empty allows no cross-origin browser requests
	HTTPRateLimit  float64  // per client IP, requests per second; 0 disables
	HTTPRateBurst  int
}

// Load reads a .env file when present, then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log := logger.New("config")
		log.Warn().Err(err).Msg(".env file not found")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment
func FromEnv() (*Config, error) {
	cfg := &Config{
		APIBase:     getEnv("API_BASE", openai.DefaultBaseURL),
		Model:       getEnv("MODEL", openai.DefaultModel),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		ListenAddr:  getEnv("LISTEN_ADDR", "127.0.0.1:8080"),
		Session:     getEnv("SESSION", "default"),
	}

	var err error
	if cfg.Credentials, err = ParseKeys(getEnv("API_KEYS", "")); err != nil {
		return nil, fmt.Errorf("%sAPI_KEYS is invalid: %w", prefix, err)
	}
	if cfg.Policy, err = keys.ParsePolicy(getEnv("POLICY", string(keys.PolicyDefault))); err != nil {
		return nil, fmt.Errorf("%sPOLICY is invalid: %w", prefix, err)
	}
	if cfg.Temperature, err = getFloatPtr("TEMPERATURE"); err != nil {
		return nil, err
	}
	if cfg.TopP, err = getFloatPtr("TOP_P"); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = getDuration("TIMEOUT", openai.DefaultTimeout); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = getInt("CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("%sCONCURRENCY must be positive, got %d", prefix, cfg.Concurrency)
	}

	limit, err := getFloatPtr("RATE_LIMIT")
	if err != nil {
		return nil, err
	}
	if limit != nil {
		cfg.RateLimit = rate.Limit(*limit)
	}
	if cfg.RateBurst, err = getInt("RATE_BURST", 1); err != nil {
		return nil, err
	}
	if cfg.BreakerFailures, err = getInt("BREAKER_FAILURES", 0); err != nil {
		return nil, err
	}
	if cfg.BreakerReset, err = getDuration("BREAKER_RESET", 30*time.Second); err != nil {
		return nil, err
	}

	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", ""))

	httpLimit, err := getFloatPtr("HTTP_RATE_LIMIT")
	if err != nil {
		return nil, err
	}
	cfg.HTTPRateLimit = 100.0 / 60.0
	if httpLimit != nil {
		cfg.HTTPRateLimit = *httpLimit
	}
	if cfg.HTTPRateBurst, err = getInt("HTTP_RATE_BURST", 200); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseKeys parses "name=secret" pairs separated by commas
func ParseKeys(raw string) ([]keys.Credential, error) {
	var creds []keys.Credential
	for i, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		name, secret, ok := strings.Cut(pair, "=")
		name, secret = strings.TrimSpace(name), strings.TrimSpace(secret)
		if !ok || name == "" || secret == "" {
			return nil, fmt.Errorf("entry %d is not name=secret", i+1)
		}
		creds = append(creds, keys.Credential{Name: name, Secret: secret})
	}
	return creds, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(prefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid integer %q: %w", prefix, key, raw, err)
	}
	return n, nil
}

func getFloatPtr(key string) (*float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s%s has invalid number %q: %w", prefix, key, raw, err)
	}
	return &f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s%s has invalid duration %q: %w", prefix, key, raw, err)
	}
	return d, nil
}
