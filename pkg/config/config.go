package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/nakkulla/notebook-slack-ntfy/pkg/interceptor"
	"github.com/nakkulla/notebook-slack-ntfy/pkg/traceback"
)

const envPrefix = "NOTEBOOK_SLACK_"

// Config holds all configuration for notebook-slack-ntfy
type Config struct {
	// Slack settings
	WebhookURL   string `yaml:"webhook_url" env:"NOTEBOOK_SLACK_WEBHOOK_URL"`
	Title        string `yaml:"title" env:"NOTEBOOK_SLACK_TITLE"`
	NotebookLink string `yaml:"notebook_link" env:"NOTEBOOK_SLACK_NOTEBOOK_LINK"`

	// Hook behavior
	Variant         string `yaml:"variant" env:"NOTEBOOK_SLACK_VARIANT"`
	OnDeliveryError string `yaml:"on_delivery_error" env:"NOTEBOOK_SLACK_ON_DELIVERY_ERROR"`

	// Behavior flags
	Quiet           bool `yaml:"quiet" env:"NOTEBOOK_SLACK_QUIET"`
	DryRun          bool `yaml:"dry_run" env:"NOTEBOOK_SLACK_DRY_RUN"`
	ContinueOnError bool `yaml:"continue_on_error" env:"NOTEBOOK_SLACK_CONTINUE_ON_ERROR"`

	// Cell execution
	Shell     string `yaml:"shell" env:"NOTEBOOK_SLACK_SHELL"`
	PTY       bool   `yaml:"pty" env:"NOTEBOOK_SLACK_PTY"`
	TailLines int    `yaml:"tail_lines" env:"NOTEBOOK_SLACK_TAIL_LINES"`

	// Display
	Color         bool   `yaml:"color" env:"NOTEBOOK_SLACK_COLOR"`
	TracebackMode string `yaml:"traceback_mode" env:"NOTEBOOK_SLACK_TRACEBACK_MODE"`
	LogLevel      string `yaml:"log_level" env:"NOTEBOOK_SLACK_LOG_LEVEL"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title:           "Notebook error",
		Variant:         interceptor.VariantExceptionHandler.String(),
		OnDeliveryError: interceptor.PropagateDeliveryErrors.String(),
		Shell:           "/bin/sh",
		PTY:             true,
		TailLines:       20,
		TracebackMode:   traceback.ModeContext.String(),
		LogLevel:        "info",
	}
}

// Load loads configuration from file and environment. An empty path means
// NOTEBOOK_SLACK_CONFIG or the default location; a missing default file is
// not an error. The result is not validated: callers apply their own
// overrides and then call Validate.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path, explicit = getConfigPath()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	// Override with environment variables
	if err := loadFromEnv(cfg, os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to load from environment: %w", err)
	}

	return cfg, nil
}

// getConfigPath returns the config file path and whether it was set
// explicitly.
func getConfigPath() (string, bool) {
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		return path, true
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "notebook-slack-ntfy", "config.yaml"), false
	}

	// Fall back to home directory
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "notebook-slack-ntfy", "config.yaml"), false
	}

	return "", false
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, path string) error {
	// #nosec G304 - The config file path comes from trusted sources (flag, env var or standard locations)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// loadFromEnv overrides cfg with NOTEBOOK_SLACK_* variables
func loadFromEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"WEBHOOK_URL":       &cfg.WebhookURL,
		"TITLE":             &cfg.Title,
		"NOTEBOOK_LINK":     &cfg.NotebookLink,
		"VARIANT":           &cfg.Variant,
		"ON_DELIVERY_ERROR": &cfg.OnDeliveryError,
		"SHELL":             &cfg.Shell,
		"TRACEBACK_MODE":    &cfg.TracebackMode,
		"LOG_LEVEL":         &cfg.LogLevel,
	}
	for name, dst := range strs {
		if v := getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"QUIET":             &cfg.Quiet,
		"DRY_RUN":           &cfg.DryRun,
		"CONTINUE_ON_ERROR": &cfg.ContinueOnError,
		"PTY":               &cfg.PTY,
		"COLOR":             &cfg.Color,
	}
	for name, dst := range bools {
		v := getenv(envPrefix + name)
		if v == "" {
			continue
		}
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s value: %q (use true/false)", envPrefix, name, v)
		}
		*dst = b
	}

	if v := getenv(envPrefix + "TAIL_LINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sTAIL_LINES: %w", envPrefix, err)
		}
		cfg.TailLines = n
	}

	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}

// Validate checks the enumerated settings. The webhook URL and title are
// not checked here; a bad webhook surfaces as a delivery error.
func (c *Config) Validate() error {
	if _, err := interceptor.ParseVariant(c.Variant); err != nil {
		return err
	}
	if _, err := interceptor.ParseDeliveryPolicy(c.OnDeliveryError); err != nil {
		return err
	}
	if _, err := traceback.ParseMode(c.TracebackMode); err != nil {
		return err
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.TailLines < 0 {
		return fmt.Errorf("tail_lines must be non-negative")
	}
	return nil
}
