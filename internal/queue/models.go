package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a queued mutation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusFailed   Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusInFlight,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Mutation represents a pending write persisted in SQLite.
//
// IDs are assigned by an AUTOINCREMENT primary key, so they increase
// monotonically and are never reused after removal. Replay order is ascending
// created_at with id as the tiebreaker.
type Mutation struct {
	ID           int64
	Method       string
	URL          string
	Body         []byte
	Status       Status
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Label returns the human-readable "METHOD url" form surfaced as the
// in-flight item in sync state.
func (m *Mutation) Label() string {
	return m.Method + " " + m.URL
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total    int
	Pending  int
	InFlight int
	Failed   int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}
