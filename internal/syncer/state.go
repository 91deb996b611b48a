package syncer

import "time"

// Status is the coarse engine state surfaced to banners and the CLI.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
)

// SyncState is the derived, in-memory view of the queue published to
// subscribers. It is a snapshot; none of its fields are persisted.
type SyncState struct {
	Status       Status    `json:"status"`
	PendingCount int       `json:"pending_count"`
	FailedCount  int       `json:"failed_count"`
	CurrentItem  string    `json:"current_item,omitempty"`
	LastSyncAt   time.Time `json:"last_sync_at,omitzero"`
}
