package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/photo_downloader/internal/photo"
	"github.com/kelseyhightower/envconfig"
)

const (
	SessionBaidu = "baidu"
	SessionPutio = "putio"

	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Config struct for environment variables.
type Config struct {
	SaveRoot     string `envconfig:"SAVE_ROOT" default:"./photograph"`
	MetadataDir  string `envconfig:"METADATA_DIR" default:"./json"`
	HistoryPath  string `envconfig:"HISTORY_PATH" default:"./download_history.json"`
	FailuresPath string `envconfig:"FAILURES_PATH" default:"./failed_downloads.json"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"json"`
	DBPath       string `envconfig:"DB_PATH" default:"downloads.db"`

	SessionBackend string `envconfig:"SESSION_BACKEND" default:"baidu"`

	Baidu struct {
		SettingsPath string `split_words:"true" default:"settings.json"`
		APIURL       string `envconfig:"API_URL" default:"https://photo.baidu.com"`
	}

	PutioToken    string `envconfig:"PUTIO_TOKEN"`
	PutioFolderID int64  `envconfig:"PUTIO_FOLDER_ID"`

	MaxWorkers    int           `envconfig:"MAX_WORKERS" default:"32"`
	MaxRetries    int           `envconfig:"MAX_RETRIES" default:"5"`
	MaxFileSize   int64         `envconfig:"MAX_FILE_SIZE" default:"104857600"`
	ChunkSize     int           `envconfig:"CHUNK_SIZE" default:"524288"`
	HTTPTimeout   time.Duration `envconfig:"HTTP_TIMEOUT" default:"10m"`
	HTTPRetries   int           `envconfig:"HTTP_RETRIES" default:"3"`
	HTTPBackoff   time.Duration `envconfig:"HTTP_RETRY_BACKOFF" default:"1s"`
	UserAgent     string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"`
	AdoptExisting bool          `envconfig:"ADOPT_EXISTING" default:"false"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled         bool          `envconfig:"METRICS_ENABLED" default:"false"`
		Address         string        `envconfig:"METRICS_ADDRESS" default:"0.0.0.0:9090"`
		OTLPEndpoint    string        `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &photo.ConfigError{Field: "environment", Reason: "error processing env", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that cannot possibly run.
func (c *Config) Validate() error {
	switch {
	case c.SaveRoot == "":
		return &photo.ConfigError{Field: "SAVE_ROOT", Reason: "must not be empty"}
	case c.MaxWorkers < 1:
		return &photo.ConfigError{Field: "MAX_WORKERS", Reason: fmt.Sprintf("must be at least 1, got %d", c.MaxWorkers)}
	case c.MaxRetries < 1:
		return &photo.ConfigError{Field: "MAX_RETRIES", Reason: fmt.Sprintf("must be at least 1, got %d", c.MaxRetries)}
	case c.HTTPRetries < 0:
		return &photo.ConfigError{Field: "HTTP_RETRIES", Reason: fmt.Sprintf("must not be negative, got %d", c.HTTPRetries)}
	case c.MaxFileSize < 1:
		return &photo.ConfigError{Field: "MAX_FILE_SIZE", Reason: "must be positive"}
	case c.ChunkSize < 1:
		return &photo.ConfigError{Field: "CHUNK_SIZE", Reason: "must be positive"}
	}

	switch strings.ToLower(c.StoreBackend) {
	case StoreJSON:
		if c.HistoryPath == "" || c.FailuresPath == "" {
			return &photo.ConfigError{Field: "HISTORY_PATH", Reason: "history and failures paths are required"}
		}
	case StoreSQLite:
		if c.DBPath == "" {
			return &photo.ConfigError{Field: "DB_PATH", Reason: "required for the sqlite store"}
		}
	default:
		return &photo.ConfigError{Field: "STORE_BACKEND", Reason: fmt.Sprintf("unknown store backend %q", c.StoreBackend)}
	}

	switch strings.ToLower(c.SessionBackend) {
	case SessionBaidu:
		if c.MetadataDir == "" {
			return &photo.ConfigError{Field: "METADATA_DIR", Reason: "required for the baidu session"}
		}
	case SessionPutio:
		if c.PutioToken == "" {
			return &photo.ConfigError{Field: "PUTIO_TOKEN", Reason: "required for the putio session"}
		}
	default:
		return &photo.ConfigError{Field: "SESSION_BACKEND", Reason: fmt.Sprintf("unknown session backend %q", c.SessionBackend)}
	}

	return nil
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
