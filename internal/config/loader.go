package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.config/hookwait/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hookwait", "config.yaml")
}

// Load reads the config file at path, then applies environment overrides.
// An empty path means DefaultPath, which may be missing; an explicit path
// must exist.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return cfg, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	env := &envReader{}
	cfg.Port = env.Int("WEBHOOK_PORT", cfg.Port)
	cfg.BaseURL = env.String("WEBHOOK_BASE_URL", cfg.BaseURL)
	cfg.DBPath = env.String("DB_PATH", cfg.DBPath)
	cfg.DefaultTimeout = env.Duration("HOOKWAIT_DEFAULT_TIMEOUT", cfg.DefaultTimeout)
	cfg.PollInterval = env.Duration("HOOKWAIT_POLL_INTERVAL", cfg.PollInterval)
	cfg.SweepInterval = env.Duration("HOOKWAIT_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.Retention = env.Duration("HOOKWAIT_RETENTION", cfg.Retention)
	cfg.ScriptTimeout = env.Duration("HOOKWAIT_SCRIPT_TIMEOUT", cfg.ScriptTimeout)
	cfg.LogLevel = env.String("HOOKWAIT_LOG_LEVEL", cfg.LogLevel)
	cfg.PrettyLogs = env.Bool("HOOKWAIT_PRETTY_LOGS", cfg.PrettyLogs)
	cfg.OriginPatterns = env.List("HOOKWAIT_ORIGIN_PATTERNS", cfg.OriginPatterns)
	return errors.Join(env.errs...)
}

// envReader reads typed environment variables, falling back when unset and
// collecting parse failures.
type envReader struct {
	errs []error
}

func (r *envReader) String(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// List splits a comma-separated value, dropping empty items.
func (r *envReader) List(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func (r *envReader) Int(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid value for %s: %w", key, err))
		return fallback
	}
	return parsed
}

func (r *envReader) Bool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid value for %s: %w", key, err))
		return fallback
	}
	return parsed
}

// Duration accepts Go duration strings or a bare number of seconds.
func (r *envReader) Duration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid value for %s: %w", key, err))
		return fallback
	}
	return parsed
}
