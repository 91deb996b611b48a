package ipc

import (
	"time"

	"visitsync/internal/queue"
	"visitsync/internal/syncer"
)

// QueueItem is the wire representation of a queued mutation. Bodies are
// omitted from listings and only included by Describe.
type QueueItem struct {
	ID           int64  `json:"id"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	Body         string `json:"body,omitempty"`
}

// FromMutation converts a queue mutation into its wire form.
func FromMutation(m *queue.Mutation) QueueItem {
	return QueueItem{
		ID:           m.ID,
		Method:       m.Method,
		URL:          m.URL,
		Status:       string(m.Status),
		RetryCount:   m.RetryCount,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and sync state.
type StatusResponse struct {
	Running      bool             `json:"running"`
	Online       bool             `json:"online"`
	Sync         syncer.SyncState `json:"sync"`
	ProxyAddr    string           `json:"proxy_addr"`
	QueueDBPath  string           `json:"queue_db_path"`
	CacheDBPath  string           `json:"cache_db_path,omitempty"`
	CacheEntries int              `json:"cache_entries"`
	LockPath     string           `json:"lock_path"`
	PID          int              `json:"pid"`
}

// SyncNowRequest asks the daemon for an immediate drain pass.
type SyncNowRequest struct{}

// SyncNowResponse acknowledges the trigger.
type SyncNowResponse struct {
	Triggered bool `json:"triggered"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries in replay order.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueDescribeRequest fetches a single mutation by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse contains a single mutation including its body.
type QueueDescribeResponse struct {
	Item QueueItem `json:"item"`
}

// QueueRetryRequest retries failed mutations. Empty list means all.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports number of retried mutations.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueDiscardRequest permanently removes a failed mutation.
type QueueDiscardRequest struct {
	ID int64 `json:"id"`
}

// QueueDiscardResponse acknowledges the removal.
type QueueDiscardResponse struct {
	Removed bool `json:"removed"`
}

// QueueClearRequest removes all mutations.
type QueueClearRequest struct{}

// QueueClearResponse reports number of removed mutations.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueHealthRequest fetches aggregate queue counts.
type QueueHealthRequest struct{}

// QueueHealthResponse reports aggregate queue counts.
type QueueHealthResponse struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Failed   int `json:"failed"`
}

// DatabaseHealthRequest fetches queue database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports queue database diagnostics.
type DatabaseHealthResponse struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalItems       int    `json:"total_items"`
	Error            string `json:"error,omitempty"`
}

// CacheClearRequest drops every cached response.
type CacheClearRequest struct{}

// CacheClearResponse reports number of removed cache entries.
type CacheClearResponse struct {
	Removed int64 `json:"removed"`
}
