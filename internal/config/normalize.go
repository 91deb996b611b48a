package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeProxy()
	c.normalizeSync()
	c.normalizeCache()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.RequestTimeout <= 0 {
		c.API.RequestTimeout = defaultAPIRequestTimeout
	}
	c.API.HealthPath = strings.TrimSpace(c.API.HealthPath)
	if c.API.HealthPath == "" {
		c.API.HealthPath = defaultAPIHealthPath
	}
	if !strings.HasPrefix(c.API.HealthPath, "/") {
		c.API.HealthPath = "/" + c.API.HealthPath
	}
}

func (c *Config) normalizeProxy() {
	c.Proxy.Bind = strings.TrimSpace(c.Proxy.Bind)
	if c.Proxy.Bind == "" {
		c.Proxy.Bind = defaultProxyBind
	}
	c.Proxy.ShellPath = strings.TrimSpace(c.Proxy.ShellPath)
	if c.Proxy.ShellPath == "" {
		c.Proxy.ShellPath = defaultProxyShellPath
	}
	if len(c.Proxy.AssetPrefixes) == 0 {
		c.Proxy.AssetPrefixes = append([]string(nil), defaultProxyAssetPrefixes...)
	}
	c.Proxy.AssetPrefixes = trimNonEmpty(c.Proxy.AssetPrefixes)
}

func (c *Config) normalizeSync() {
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = defaultSyncMaxAttempts
	}
	if c.Sync.BaseBackoffSeconds <= 0 {
		c.Sync.BaseBackoffSeconds = defaultSyncBaseBackoff
	}
	if c.Sync.MaxBackoffSeconds <= 0 {
		c.Sync.MaxBackoffSeconds = defaultSyncMaxBackoff
	}
	if c.Sync.ItemTimeoutSeconds <= 0 {
		c.Sync.ItemTimeoutSeconds = defaultSyncItemTimeout
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = defaultSyncProbeInterval
	}
}

func (c *Config) normalizeCache() {
	if len(c.Cache.AllowPrefixes) == 0 {
		c.Cache.AllowPrefixes = append([]string(nil), defaultCacheAllowPrefixes...)
	}
	if len(c.Cache.DenySubstrings) == 0 {
		c.Cache.DenySubstrings = append([]string(nil), defaultCacheDenySubstrings...)
	}
	c.Cache.AllowPrefixes = trimNonEmpty(c.Cache.AllowPrefixes)
	c.Cache.DenySubstrings = trimNonEmpty(c.Cache.DenySubstrings)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func trimNonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
