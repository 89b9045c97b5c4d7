package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
)

// maxDelayPadSeconds is added to MinDelay when MaxDelay is configured below it.
const maxDelayPadSeconds = 3

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"local"`
	Debug  bool   `env:"DEBUG" envDefault:"false"`

	TGAPIID         int    `env:"TG_API_ID"`
	TGAPIHash       string `env:"TG_API_HASH"`
	TGPhone         string `env:"TG_PHONE"`
	TG2FAPassword   string `env:"TG_2FA_PASSWORD"`
	TGSessionPath   string `env:"TG_SESSION_PATH" envDefault:"./tg.session"`
	TGSessionString string `env:"TG_SESSION_STRING"`

	OwnerID            int64 `env:"OWNER_ID,required"`
	DestinationChannel int64 `env:"DESTINATION_CHANNEL,required"`

	MinDelay int `env:"MIN_DELAY" envDefault:"4"`
	MaxDelay int `env:"MAX_DELAY" envDefault:"8"`

	HealthPort  int    `env:"PORT" envDefault:"10000"`
	DataDir     string `env:"DATA_DIR" envDefault:"."`
	DownloadDir string `env:"DOWNLOAD_DIR" envDefault:"downloads"`

	DialogScanLimit    int           `env:"DIALOG_SCAN_LIMIT" envDefault:"2000"`
	FloodWaitFallback  time.Duration `env:"FLOOD_WAIT_FALLBACK" envDefault:"10s"`
	RateLimitRPS       float64       `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	ForwardUnprotected bool          `env:"FORWARD_UNPROTECTED" envDefault:"true"`
	QueuePollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`

	// Video processing
	WatermarkText    string        `env:"WATERMARK_TEXT" envDefault:"EduVision"`
	FFmpegPath       string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	WatermarkTimeout time.Duration `env:"WATERMARK_TIMEOUT" envDefault:"30m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment config: %w", err)
	}

	applyLegacyAliases(cfg)
	normalizeDelays(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MinDelayDuration returns the lower pacing bound.
func (c *Config) MinDelayDuration() time.Duration {
	return time.Duration(c.MinDelay) * time.Second
}

// MaxDelayDuration returns the upper pacing bound.
func (c *Config) MaxDelayDuration() time.Duration {
	return time.Duration(c.MaxDelay) * time.Second
}

func (c *Config) validate() error {
	if c.TGAPIID == 0 {
		return fmt.Errorf("%w: TG_API_ID is required", errs.ErrInvalidInput)
	}

	if c.TGAPIHash == "" {
		return fmt.Errorf("%w: TG_API_HASH is required", errs.ErrInvalidInput)
	}

	if c.OwnerID == 0 {
		return fmt.Errorf("%w: OWNER_ID must be non-zero", errs.ErrInvalidInput)
	}

	return nil
}

// applyLegacyAliases accepts the variable names used by older deployments.
func applyLegacyAliases(cfg *Config) {
	if !hasEnv("TG_API_ID") {
		setIntFromEnv("API_ID", &cfg.TGAPIID)
	}

	if !hasEnv("TG_API_HASH") {
		setStringFromEnv("API_HASH", &cfg.TGAPIHash)
	}

	if !hasEnv("TG_SESSION_STRING") {
		setStringFromEnv("USER_SESSION_STRING", &cfg.TGSessionString)
	}
}

func normalizeDelays(cfg *Config) {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}

	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay + maxDelayPadSeconds
	}
}

func hasEnv(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func setStringFromEnv(key string, target *string) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	val = strings.TrimSpace(val)
	if val == "" {
		return
	}

	*target = val
}

func setIntFromEnv(key string, target *int) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return
	}

	*target = parsed
}
