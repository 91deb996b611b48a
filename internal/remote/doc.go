// Package remote is the HTTP client used to replay queued mutations against
// the clinical visit API and to probe connectivity. It owns failure
// classification: the sync engine decides retry-or-fail purely from
// IsRetryable, never by inspecting responses itself.
package remote
