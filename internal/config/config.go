// Package config loads daemon configuration from a TOML file, environment
// variables (NTFY_MCP_ prefix), and defaults, in that reverse order of
// precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full recognized configuration surface.
type Config struct {
	BaseURL  string `mapstructure:"base_url"`
	Topic    string `mapstructure:"topic"`
	Token    string `mapstructure:"token"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Since is the initial backlog cursor used on first subscribe and
	// after a topic switch: a duration ("30m"), "all", "latest", a unix
	// timestamp, or a message id.
	Since string `mapstructure:"since"`

	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	MinRehydrateInterval time.Duration `mapstructure:"min_rehydrate_interval"`
	RateLimitBackoff     time.Duration `mapstructure:"rate_limit_backoff"`

	LogInbound     bool `mapstructure:"log_inbound"`
	StartupCleanup bool `mapstructure:"startup_cleanup"`
	KillExisting   bool `mapstructure:"kill_existing"`

	DataDir   string `mapstructure:"data_dir"`
	CacheFile string `mapstructure:"cache_file"`

	Log     LogConfig     `mapstructure:"log"`
	History HistoryConfig `mapstructure:"history"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type HistoryConfig struct {
	// DSN enables the sqlite message archive, e.g.
	// "sqlite:///home/user/.ntfy-mcp/history.db". Empty disables it.
	DSN string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DefaultDataDir returns ~/.ntfy-mcp, falling back to the working directory
// when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ntfy-mcp"
	}
	return filepath.Join(home, ".ntfy-mcp")
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply; a missing explicit file is an error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Every recognized key needs a default: viper only resolves env
	// variables for keys it already knows about.
	v.SetDefault("base_url", "https://ntfy.sh")
	v.SetDefault("topic", "")
	v.SetDefault("token", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("since", "all")
	v.SetDefault("fetch_timeout", 10*time.Second)
	v.SetDefault("min_rehydrate_interval", 10*time.Second)
	v.SetDefault("rate_limit_backoff", 30*time.Second)
	v.SetDefault("startup_cleanup", true)
	v.SetDefault("kill_existing", false)
	v.SetDefault("log_inbound", false)
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("cache_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 0)
	v.SetDefault("log.max_backups", 0)
	v.SetDefault("log.max_age_days", 0)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.listen", "127.0.0.1:9464")

	v.SetEnvPrefix("NTFY_MCP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.applyDerived()
	return cfg, nil
}

// applyDerived fills in paths that default relative to the data directory.
func (c *Config) applyDerived() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.CacheFile == "" {
		c.CacheFile = filepath.Join(c.DataDir, "cache.json")
	}
}

// LockFile returns the lock file path inside the data directory.
func (c *Config) LockFile() string {
	return filepath.Join(c.DataDir, "ntfy-mcp.lock")
}

// JournalFile returns the process journal path inside the data directory.
func (c *Config) JournalFile() string {
	return filepath.Join(c.DataDir, "processes.json")
}
