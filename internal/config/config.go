package config

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"`
	DBPath         string        `yaml:"db_path"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	Retention      time.Duration `yaml:"retention"`
	ScriptTimeout  time.Duration `yaml:"script_timeout"`
	LogLevel       string        `yaml:"log_level"`
	PrettyLogs     bool          `yaml:"pretty_logs"`
	// OriginPatterns lists browser origins (host globs) allowed to open the
	// event feed. Empty means same-origin only.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Port:           3456,
		BaseURL:        "",
		DBPath:         "./webhook-tests.db",
		DefaultTimeout: 30 * time.Second,
		PollInterval:   200 * time.Millisecond,
		SweepInterval:  5 * time.Minute,
		Retention:      24 * time.Hour,
		ScriptTimeout:  5 * time.Second,
		LogLevel:       "info",
		PrettyLogs:     true,
	}
}

// ListenAddr is the address the callback server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PublicBaseURL is the externally reachable root of the callback server.
func (c Config) PublicBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// WebhookURL is the callback URL handed to the remote system for testID.
func (c Config) WebhookURL(testID string) string {
	return c.PublicBaseURL() + "/webhook/" + testID
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be positive, got %s", c.DefaultTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %s", c.Retention)
	}
	return nil
}
