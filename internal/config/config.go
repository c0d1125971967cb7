package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	IdentityBaseURL string

	RedisURL    string
	DatabaseURL string

	RatingCacheTTL time.Duration

	SearchRangeInitial int
	SearchRangeStep    int
	SearchDelay        time.Duration
	RevealDelay        time.Duration
	PersistTimeout     time.Duration

	MessagesLang string
	MessagesDir  string

	AllowedOrigins []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":5000",
		RatingCacheTTL:     300 * time.Second,
		SearchRangeInitial: 50,
		SearchRangeStep:    50,
		SearchDelay:        10 * time.Second,
		RevealDelay:        500 * time.Millisecond,
		PersistTimeout:     5 * time.Second,
		MessagesLang:       "en",
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.IdentityBaseURL = strings.TrimSpace(os.Getenv("IDENTITY_BASE_URL"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if n, ok := positiveInt("RATING_CACHE_TTL_SEC"); ok {
		cfg.RatingCacheTTL = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("SEARCH_RANGE_INITIAL"); ok {
		cfg.SearchRangeInitial = n
	}
	if n, ok := positiveInt("SEARCH_RANGE_STEP"); ok {
		cfg.SearchRangeStep = n
	}
	if n, ok := positiveInt("SEARCH_DELAY_MS"); ok {
		cfg.SearchDelay = time.Duration(n) * time.Millisecond
	}
	// 0 is a valid reveal delay (tests, bots)
	if v := strings.TrimSpace(os.Getenv("REVEAL_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RevealDelay = time.Duration(n) * time.Millisecond
		}
	}
	if n, ok := positiveInt("PERSIST_TIMEOUT_SEC"); ok {
		cfg.PersistTimeout = time.Duration(n) * time.Second
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("MESSAGES_LANG"))); v != "" {
		cfg.MessagesLang = v
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if cfg.IdentityBaseURL == "" {
		return nil, errors.New("IDENTITY_BASE_URL is required")
	}

	return cfg, nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
