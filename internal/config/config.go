// Package config provides configuration loading for the Forge coordinator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the coordinator.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Tree     TreeConfig     `mapstructure:"tree"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Development  bool          `mapstructure:"development"`
	// ExternalURL is the public base URL of this instance, used when
	// rendering links in comments and chat messages.
	ExternalURL string `mapstructure:"external_url"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the postgres:// form used by the migration runner.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// TreeConfig holds the local package tree checkout configuration.
type TreeConfig struct {
	// Path to the local checkout of the package tree repository.
	Path string `mapstructure:"path"`
	// Optional local package repository path. When set, workers are told
	// to copy artifacts here instead of uploading to the remote repo.
	LocalRepoPath string `mapstructure:"local_repo_path"`
}

// GitHubConfig holds hosting-provider configuration.
type GitHubConfig struct {
	AccessToken   string `mapstructure:"access_token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	AppID         int64  `mapstructure:"app_id"`
	AppKeyPath    string `mapstructure:"app_key_path"`
	Owner         string `mapstructure:"owner"`
	Repo          string `mapstructure:"repo"`
	Organization  string `mapstructure:"organization"`
	BotLogin      string `mapstructure:"bot_login"`
}

// TelegramConfig holds the chat surface configuration.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// WorkerConfig holds worker-fleet authentication configuration.
type WorkerConfig struct {
	// Shared secret presented by workers on every mutating call.
	Secret string `mapstructure:"secret"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/forge")

	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// AutomaticEnv alone does not surface nested keys that are absent
	// from the config file, so bind the secrets explicitly.
	v.BindEnv("github.access_token", "FORGE_GITHUB_ACCESS_TOKEN")
	v.BindEnv("github.webhook_secret", "FORGE_GITHUB_WEBHOOK_SECRET")
	v.BindEnv("github.app_id", "FORGE_GITHUB_APP_ID")
	v.BindEnv("github.app_key_path", "FORGE_GITHUB_APP_KEY_PATH")
	v.BindEnv("telegram.token", "FORGE_TELEGRAM_TOKEN")
	v.BindEnv("worker.secret", "FORGE_WORKER_SECRET")
	v.BindEnv("database.password", "FORGE_DATABASE_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.development", false)
	v.SetDefault("server.external_url", "https://forge.aura-linux.org")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "forge")
	v.SetDefault("database.password", "forge")
	v.SetDefault("database.database", "forge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("github.owner", "aura-linux")
	v.SetDefault("github.repo", "packages")
	v.SetDefault("github.organization", "aura-linux")
	v.SetDefault("github.bot_login", "aura-forge-bot")

	v.SetDefault("tree.path", "/var/lib/forge/packages")
}
