// Package cache provides the offline read path: a SQLite-backed response
// store, the allow and deny policy governing what may be cached, and the
// HTTP handler that serves API reads network-first, assets
// stale-while-revalidate, and navigations with an application-shell
// fallback.
package cache
