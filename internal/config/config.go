package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Candidate feed: a WS push transport replaces presence polling when set.
	FeedWSURL        string        `env:"FEED_WS_URL"`
	FeedPollInterval time.Duration `env:"FEED_POLL_INTERVAL" envDefault:"5s"`

	NotifyBaseURL string `env:"NOTIFY_BASE_URL"`

	BotName             string        `env:"BOT_NAME" envDefault:"Quiz Bot"`
	QuickMatchCountdown time.Duration `env:"QUICKMATCH_COUNTDOWN" envDefault:"10s"`
	QuickMatchSubject   string        `env:"QUICKMATCH_SUBJECT" envDefault:"general"`
	QuickMatchQuestions int           `env:"QUICKMATCH_QUESTIONS" envDefault:"10"`
	QuickMatchTimeLimit int           `env:"QUICKMATCH_TIME_LIMIT" envDefault:"15"`
	StartRetries        int           `env:"START_RETRIES" envDefault:"3"`

	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"30s"`
	ReaperMaxAge   time.Duration `env:"REAPER_MAX_AGE" envDefault:"2m"`

	MsgTemplateDir string `env:"MSG_TEMPLATE_DIR"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*AppConfig, error) {
	if path := strings.TrimSpace(os.Getenv("ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else {
		// .env is optional in every environment
		_ = godotenv.Load()
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (*AppConfig, error) {
	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.FeedWSURL = strings.TrimSpace(cfg.FeedWSURL)
	cfg.NotifyBaseURL = strings.TrimSpace(cfg.NotifyBaseURL)

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.QuickMatchCountdown < 0 {
		cfg.QuickMatchCountdown = 0
	}
	if cfg.StartRetries < 0 {
		cfg.StartRetries = 0
	}
	if cfg.QuickMatchQuestions <= 0 {
		cfg.QuickMatchQuestions = 10
	}
	if cfg.QuickMatchTimeLimit <= 0 {
		cfg.QuickMatchTimeLimit = 15
	}
	if cfg.FeedPollInterval <= 0 {
		cfg.FeedPollInterval = 5 * time.Second
	}
	return &cfg, nil
}
