package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Store       string `env:"STORE" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET,required,notEmpty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev      bool   `env:"LOG_DEV" envDefault:"false"`

	ProviderBaseURL  string `env:"PROVIDER_BASE_URL"`
	ProviderAPIKey   string `env:"PROVIDER_API_KEY"`
	CallbackURL      string `env:"PROVIDER_CALLBACK_URL"`
	WebhookSecret    string `env:"WEBHOOK_SECRET"`
	DefaultBeatStyle string `env:"DEFAULT_BEAT_STYLE" envDefault:"boom-bap"`

	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"15s"`
	PollTimeout     time.Duration `env:"POLL_TIMEOUT" envDefault:"10s"`
	SubmitTimeout   time.Duration `env:"SUBMIT_TIMEOUT" envDefault:"15s"`
	PollConcurrency int           `env:"POLL_CONCURRENCY" envDefault:"4"`

	RoomIdleTimeout time.Duration `env:"ROOM_IDLE_TIMEOUT" envDefault:"10m"`
	WSWriteTimeout  time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"3s"`
	WSPingInterval  time.Duration `env:"WS_PING_INTERVAL" envDefault:"20s"`
	OutboxSize      int           `env:"OUTBOX_SIZE" envDefault:"32"`
	AllowedOrigins  []string      `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`

	// PublicProfiles lists users whose profiles count as public when they
	// are not the caller.
	PublicProfiles []string `env:"PUBLIC_PROFILES" envSeparator:","`
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return fmt.Errorf("STORE must be postgres or memory, got %q", c.Store)
	}
	if c.PollConcurrency < 1 {
		return fmt.Errorf("POLL_CONCURRENCY must be positive, got %d", c.PollConcurrency)
	}
	if c.PollInterval <= 0 || c.PollTimeout <= 0 || c.SubmitTimeout <= 0 {
		return errors.New("POLL_INTERVAL, POLL_TIMEOUT and SUBMIT_TIMEOUT must be positive")
	}
	return nil
}
