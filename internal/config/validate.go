package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateProxy(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/visitsync/config.toml"
		}
		return fmt.Errorf("api.base_url is required; edit %s (create with 'visitsync config init')", defaultPath)
	}
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("api.base_url must include a host")
	}
	return nil
}

func (c *Config) validateProxy() error {
	if !strings.Contains(c.Proxy.Bind, ":") {
		return fmt.Errorf("proxy.bind %q must be host:port", c.Proxy.Bind)
	}
	if !strings.HasPrefix(c.Proxy.ShellPath, "/") {
		return fmt.Errorf("proxy.shell_path %q must start with /", c.Proxy.ShellPath)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.MaxAttempts < 1 {
		return errors.New("sync.max_attempts must be at least 1")
	}
	if c.Sync.MaxBackoffSeconds < c.Sync.BaseBackoffSeconds {
		return errors.New("sync.max_backoff_seconds must not be below sync.base_backoff_seconds")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
