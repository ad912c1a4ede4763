package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const mib = 1024 * 1024

// Config struct for environment variables.
type Config struct {
	BotToken       string `envconfig:"BOT_TOKEN" required:"true"`
	BotDebug       bool   `envconfig:"BOT_DEBUG" default:"false"`
	BotAPIEndpoint string `envconfig:"BOT_API_ENDPOINT"`

	WorkDir           string        `envconfig:"WORK_DIR"`
	MaxDirectSize     int64         `envconfig:"MAX_DIRECT_SIZE" default:"47185920"`
	MaxSourceSize     int64         `envconfig:"MAX_SOURCE_SIZE" default:"0"`
	Providers         []string      `envconfig:"PROVIDERS" default:"gofile,fileio,zerox0"`
	MaxAttempts       uint          `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryDelay        time.Duration `envconfig:"RETRY_DELAY" default:"5s"`
	RetryMaxElapsed   time.Duration `envconfig:"RETRY_MAX_ELAPSED" default:"2h"`
	DownloadTimeout   time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	UploadTimeout     time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"15m"`
	MaxParallel       int64         `envconfig:"MAX_PARALLEL" default:"3"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	MaxSessions       int           `envconfig:"MAX_SESSIONS" default:"10000"`
	AskDeliveryChoice bool          `envconfig:"ASK_DELIVERY_CHOICE" default:"true"`
	InlineAsVideo     bool          `envconfig:"INLINE_AS_VIDEO" default:"false"`
	FilenameScripts   []string      `envconfig:"FILENAME_SCRIPTS" default:"Arabic"`

	PixeldrainAPIKey      string `envconfig:"PIXELDRAIN_API_KEY"`
	GDriveCredentialsFile string `envconfig:"GDRIVE_CREDENTIALS_FILE"`
	GDriveFolderID        string `envconfig:"GDRIVE_FOLDER_ID"`
	PutioToken            string `envconfig:"PUTIO_TOKEN"`
	PutioFolderID         int64  `envconfig:"PUTIO_FOLDER_ID" default:"0"`

	DBPath            string        `envconfig:"DB_PATH" default:"transfers.db"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	KeepWorkspaceFor  time.Duration `envconfig:"KEEP_WORKSPACE_FOR" default:"6h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile           string        `envconfig:"LOG_FILE"`
	LogFileMaxSizeMB  int           `envconfig:"LOG_FILE_MAX_SIZE_MB" default:"50"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"telegram-downloader"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		OTLPInsecure bool   `envconfig:"OTLP_INSECURE" default:"false"`
	}

	Port string `envconfig:"PORT" default:"8080"`

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadDotEnv exports the variables of the given env files (".env" when none
// are named) without overriding the real environment. Missing files are
// skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return nil
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.Web.BindAddress == "" {
		cfg.Web.BindAddress = "0.0.0.0:" + cfg.Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks bounds that envconfig tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.BotToken) == "" {
		errs = append(errs, errors.New("BOT_TOKEN must not be empty"))
	}

	if c.MaxDirectSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DIRECT_SIZE must be positive, got %d", c.MaxDirectSize))
	}

	if c.MaxSourceSize < 0 {
		errs = append(errs, fmt.Errorf("MAX_SOURCE_SIZE must not be negative, got %d", c.MaxSourceSize))
	}

	if c.MaxAttempts == 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be at least 1"))
	}

	if c.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel))
	}

	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL must be positive, got %s", c.CleanupInterval))
	}

	if len(c.ProviderNames()) == 0 {
		errs = append(errs, errors.New("PROVIDERS must name at least one upload provider"))
	}

	return errors.Join(errs...)
}

// ProviderNames returns the configured provider priority list, normalized.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))

	for _, p := range c.Providers {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			names = append(names, p)
		}
	}

	return names
}

// MaxDirectSizeMB is the inline threshold in MiB, used in user-facing messages.
func (c *Config) MaxDirectSizeMB() float64 {
	return float64(c.MaxDirectSize) / mib
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
