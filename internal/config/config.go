// Package config loads deckd runtime configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Output modes. Each deck output has exactly one puller.
const (
	OutputMonitor = "monitor"
	OutputDevice  = "device"
	OutputNone    = "none"
)

// Config holds all runtime configuration.
type Config struct {
	// Server
	Port int `env:"DECKD_PORT" envDefault:"8080"`

	// Decks created at startup, by label.
	Decks []string `env:"DECKD_DECKS" envDefault:"A,B" envSeparator:","`

	// Where deck outputs go: monitor, device or none.
	Output       string        `env:"DECKD_OUTPUT" envDefault:"monitor"`
	DeviceBuffer time.Duration `env:"DECKD_DEVICE_BUFFER" envDefault:"100ms"`

	// Decoding
	FFmpegPath  string        `env:"DECKD_FFMPEG_PATH" envDefault:"ffmpeg"`
	LoadTimeout time.Duration `env:"DECKD_LOAD_TIMEOUT" envDefault:"2m"`

	// Network monitor encoding
	OpusBitrate int `env:"DECKD_OPUS_BITRATE" envDefault:"128000"` // bit/s
	MP3Bitrate  int `env:"DECKD_MP3_BITRATE" envDefault:"192"`     // kbit/s

	// Track catalog
	CatalogURL    string `env:"DECKD_CATALOG_URL"`
	CatalogAPIKey string `env:"DECKD_CATALOG_API_KEY"`

	Minio MinioConfig `envPrefix:"DECKD_MINIO_"`
	Redis RedisConfig `envPrefix:"DECKD_REDIS_"`
	Log   LogConfig   `envPrefix:"DECKD_LOG_"`

	// OTLP/HTTP trace endpoint; tracing is off when empty.
	OTelEndpoint string `env:"DECKD_OTEL_ENDPOINT"`
}

// MinioConfig locates the object store behind s3:// references.
type MinioConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

// Enabled reports whether object storage is configured.
func (c MinioConfig) Enabled() bool { return c.Endpoint != "" }

// RedisConfig locates the deck session store.
type RedisConfig struct {
	Addr     string        `env:"ADDR"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	TTL      time.Duration `env:"TTL" envDefault:"720h"`
}

// Enabled reports whether session persistence is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	File       string `env:"FILE"`
	MaxSize    int    `env:"MAX_SIZE" envDefault:"100"` // megabytes
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"5"`
	MaxAge     int    `env:"MAX_AGE" envDefault:"30"` // days
	Compress   bool   `env:"COMPRESS" envDefault:"true"`
}

// Load reads the given .env files (default ".env") without overriding
// variables already set, then parses the environment. Missing .env files
// are not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that parse but make no sense.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("DECKD_PORT %d out of range", c.Port))
	}
	switch c.Output {
	case OutputMonitor, OutputDevice, OutputNone:
	default:
		errs = append(errs, fmt.Errorf("DECKD_OUTPUT %q: want monitor, device or none", c.Output))
	}
	seen := make(map[string]bool, len(c.Decks))
	for _, label := range c.Decks {
		switch {
		case label == "":
			errs = append(errs, errors.New("DECKD_DECKS contains an empty label"))
		case seen[label]:
			errs = append(errs, fmt.Errorf("DECKD_DECKS lists %q twice", label))
		}
		seen[label] = true
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("DECKD_LOAD_TIMEOUT %v must be positive", c.LoadTimeout))
	}
	return errors.Join(errs...)
}
