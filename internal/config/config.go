package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// DefaultExcludePatterns skip files that are usually locked or transient
// while a server is running: temp files, JFR temp files, lock files and
// session locks.
var DefaultExcludePatterns = []string{
	`(?i)\.tmp$`,
	`(?i)\.jfr\.tmp$`,
	`(?i)tmp-client/`,
	`(?i)\.lck$`,
	`(?i)session\.lock$`,
}

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Uptime   UptimeConfig   `mapstructure:"uptime"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Watch    WatchConfig    `mapstructure:"watch"`
}

type AppConfig struct {
	Name          string `mapstructure:"name"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type BackupConfig struct {
	ExcludePatterns []string       `mapstructure:"exclude_patterns"`
	NotifyOnSuccess bool           `mapstructure:"notify_on_success"`
	Mirrors         []MirrorConfig `mapstructure:"mirrors"`
}

type MirrorConfig struct {
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Local
	Path string `mapstructure:"path"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type UptimeConfig struct {
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	NotifyTransitions bool          `mapstructure:"notify_transitions"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads the YAML file at path. A missing file is not an error when
// path is empty; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KEEPER")
	v.AutomaticEnv()

	v.SetDefault("app.name", "keeper")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.path", "data")
	v.SetDefault("backup.exclude_patterns", DefaultExcludePatterns)
	v.SetDefault("uptime.probe_timeout", 5*time.Second)
	v.SetDefault("uptime.history_limit", 1000)
	v.SetDefault("uptime.notify_transitions", true)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("watch.enabled", true)
	v.SetDefault("watch.debounce", 500*time.Millisecond)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be json or sqlite, got %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	for i, p := range c.Backup.ExcludePatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("backup.exclude_patterns[%d]: %w", i, err)
		}
	}

	for i, m := range c.Backup.Mirrors {
		if !m.Enabled {
			continue
		}
		switch m.Type {
		case "local":
			if m.Path == "" {
				return fmt.Errorf("backup.mirrors[%d]: path is required for local", i)
			}
		case "s3":
			if m.Bucket == "" || m.Region == "" {
				return fmt.Errorf("backup.mirrors[%d]: bucket and region are required for s3", i)
			}
		case "gdrive":
			if m.CredentialsFile == "" || m.FolderID == "" {
				return fmt.Errorf("backup.mirrors[%d]: credentials_file and folder_id are required for gdrive", i)
			}
		default:
			return fmt.Errorf("backup.mirrors[%d]: unknown type %q", i, m.Type)
		}
	}

	if c.Uptime.ProbeTimeout <= 0 {
		return fmt.Errorf("uptime.probe_timeout must be positive")
	}
	if c.Uptime.HistoryLimit < 1 {
		return fmt.Errorf("uptime.history_limit must be at least 1")
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram: bot_token and chat_id are required when enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when enabled")
	}

	return nil
}

func (c *Config) GetEnabledMirrors() []MirrorConfig {
	var enabled []MirrorConfig
	for _, m := range c.Backup.Mirrors {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	return enabled
}
