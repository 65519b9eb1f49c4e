package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	ExportDir          string   `mapstructure:"EXPORT_DIR"`
	StudyTimezone      string   `mapstructure:"STUDY_TIMEZONE"`
	FieldEncryptionKey string   `mapstructure:"FIELD_ENCRYPTION_KEY"`
	ExportWorkers      int      `mapstructure:"EXPORT_WORKERS"`
	ExportRetries      int      `mapstructure:"EXPORT_RETRIES"`
	StaleJobHours      int      `mapstructure:"STALE_JOB_HOURS"`
	PruneSchedule      string   `mapstructure:"PRUNE_SCHEDULE"`
	SMTPHost           string   `mapstructure:"SMTP_HOST"`
	SMTPPort           int      `mapstructure:"SMTP_PORT"`
	SMTPUser           string   `mapstructure:"SMTP_USER"`
	SMTPPassword       string   `mapstructure:"SMTP_PASSWORD"`
	EmailFrom          string   `mapstructure:"EMAIL_FROM"`
	NotifyEmails       []string `mapstructure:"NOTIFY_EMAILS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("EXPORT_DIR", "media/admin_exports")
	v.SetDefault("STUDY_TIMEZONE", "Africa/Gaborone")
	v.SetDefault("EXPORT_WORKERS", 4)
	v.SetDefault("EXPORT_RETRIES", 3)
	v.SetDefault("STALE_JOB_HOURS", 12)
	v.SetDefault("PRUNE_SCHEDULE", "@hourly")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("EMAIL_FROM", "flourish-export@localhost")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("EXPORT_DIR")
	v.BindEnv("STUDY_TIMEZONE")
	v.BindEnv("FIELD_ENCRYPTION_KEY")
	v.BindEnv("EXPORT_WORKERS")
	v.BindEnv("EXPORT_RETRIES")
	v.BindEnv("STALE_JOB_HOURS")
	v.BindEnv("PRUNE_SCHEDULE")
	v.BindEnv("SMTP_HOST")
	v.BindEnv("SMTP_PORT")
	v.BindEnv("SMTP_USER")
	v.BindEnv("SMTP_PASSWORD")
	v.BindEnv("EMAIL_FROM")
	v.BindEnv("NOTIFY_EMAILS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.NotifyEmails == nil {
		emails := v.GetString("NOTIFY_EMAILS")
		if emails != "" {
			cfg.NotifyEmails = strings.Split(emails, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves STUDY_TIMEZONE. All exported datetimes are converted into
// this zone before the date/time split.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.StudyTimezone)
	if err != nil {
		return nil, fmt.Errorf("STUDY_TIMEZONE %q: %w", c.StudyTimezone, err)
	}
	return loc, nil
}

// StaleJobAge is the age past which an incomplete export job is considered
// abandoned and eligible for pruning.
func (c *Config) StaleJobAge() time.Duration {
	return time.Duration(c.StaleJobHours) * time.Hour
}

// Validate checks that the configuration is safe to run. FIELD_ENCRYPTION_KEY
// is required outside development and must be a 64-character hex string
// (32 bytes when decoded) because sensitive fields are AES-256 encrypted on
// the way out.
func (c *Config) Validate() error {
	if !c.IsDev() && c.FieldEncryptionKey == "" {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY is required when ENV=%q", c.Env)
	}
	if c.FieldEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.FieldEncryptionKey)
		if err != nil {
			return fmt.Errorf("FIELD_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("FIELD_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ExportWorkers < 1 {
		return fmt.Errorf("EXPORT_WORKERS must be at least 1, got %d", c.ExportWorkers)
	}
	if c.ExportRetries < 1 {
		return fmt.Errorf("EXPORT_RETRIES must be at least 1, got %d", c.ExportRetries)
	}
	if c.ExportDir == "" {
		return fmt.Errorf("EXPORT_DIR is required")
	}
	return nil
}

// Key decodes FIELD_ENCRYPTION_KEY. Returns nil when unset (development).
func (c *Config) Key() []byte {
	if c.FieldEncryptionKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.FieldEncryptionKey)
	if err != nil {
		return nil
	}
	return key
}
