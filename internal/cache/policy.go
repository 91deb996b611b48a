package cache

import (
	"net/http"
	"path"
	"strings"

	"visitsync/internal/config"
)

// assetExtensions are file extensions treated as static assets regardless of
// path prefix.
var assetExtensions = map[string]struct{}{
	".js":    {},
	".mjs":   {},
	".css":   {},
	".map":   {},
	".woff":  {},
	".woff2": {},
	".ttf":   {},
	".png":   {},
	".jpg":   {},
	".jpeg":  {},
	".gif":   {},
	".svg":   {},
	".ico":   {},
	".webp":  {},
}

// Policy decides which requests the offline cache may serve. Allow and deny
// entries are matched by substring containment against the request path, and
// a deny match always wins; staleness of the denied endpoints (demo reset,
// FHIR export, credential and transcription routes) is unsafe.
type Policy struct {
	allow         []string
	deny          []string
	assetPrefixes []string
}

// NewPolicy builds a policy from the cache and proxy configuration sections.
func NewPolicy(cacheCfg config.Cache, assetPrefixes []string) Policy {
	return Policy{
		allow:         append([]string(nil), cacheCfg.AllowPrefixes...),
		deny:          append([]string(nil), cacheCfg.DenySubstrings...),
		assetPrefixes: append([]string(nil), assetPrefixes...),
	}
}

// CacheableAPI reports whether a GET to the given path may be served from and
// refreshed into the cache.
func (p Policy) CacheableAPI(method, requestPath string) bool {
	if method != http.MethodGet {
		return false
	}
	for _, substr := range p.deny {
		if strings.Contains(requestPath, substr) {
			return false
		}
	}
	for _, substr := range p.allow {
		if strings.Contains(requestPath, substr) {
			return true
		}
	}
	return false
}

// Asset reports whether the path names a static asset eligible for
// stale-while-revalidate handling.
func (p Policy) Asset(requestPath string) bool {
	for _, prefix := range p.assetPrefixes {
		if strings.HasPrefix(requestPath, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(requestPath))
	_, ok := assetExtensions[ext]
	return ok
}

// Navigation reports whether the request is a full-page load that should
// fall back to the cached application shell when offline.
func Navigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}
