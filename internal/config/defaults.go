package config

const (
	defaultDataDir            = "~/.local/share/visitsync/data"
	defaultLogDir             = "~/.local/share/visitsync/logs"
	defaultAPIBaseURL         = "http://127.0.0.1:5000"
	defaultAPIRequestTimeout  = 30
	defaultAPIHealthPath      = "/api/health"
	defaultProxyBind          = "127.0.0.1:7533"
	defaultProxyShellPath     = "/"
	defaultSyncMaxAttempts    = 5
	defaultSyncBaseBackoff    = 2
	defaultSyncMaxBackoff     = 300
	defaultSyncItemTimeout    = 30
	defaultSyncProbeInterval  = 15
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Cacheable endpoint prefixes and always-live substrings recognized by the
// read cache. Deny entries win over allow entries on overlap.
var (
	defaultCacheAllowPrefixes = []string{
		"/api/visits/",
		"/api/demo/config",
		"/api/members/",
		"/api/plan-packs",
		"/api/clinical-rules",
		"/api/assessments/",
		"/api/measures/",
	}
	defaultCacheDenySubstrings = []string{
		"/api/demo/reset",
		"/api/fhir/",
		"/api/audit-",
		"/api/ai-providers",
		// Tail segments, not full paths: transcription and extraction hang
		// off nested resources like /api/visits/123/transcribe.
		"/transcribe",
		"/extract",
	}
	defaultProxyAssetPrefixes = []string{
		"/assets/",
		"/static/",
	}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			BaseURL:        defaultAPIBaseURL,
			RequestTimeout: defaultAPIRequestTimeout,
			HealthPath:     defaultAPIHealthPath,
		},
		Proxy: Proxy{
			Bind:          defaultProxyBind,
			ShellPath:     defaultProxyShellPath,
			AssetPrefixes: append([]string(nil), defaultProxyAssetPrefixes...),
		},
		Sync: Sync{
			MaxAttempts:        defaultSyncMaxAttempts,
			BaseBackoffSeconds: defaultSyncBaseBackoff,
			MaxBackoffSeconds:  defaultSyncMaxBackoff,
			ItemTimeoutSeconds: defaultSyncItemTimeout,
			ProbeInterval:      defaultSyncProbeInterval,
		},
		Cache: Cache{
			Enabled:        true,
			AllowPrefixes:  append([]string(nil), defaultCacheAllowPrefixes...),
			DenySubstrings: append([]string(nil), defaultCacheDenySubstrings...),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
