// Package queue persists mutations captured while offline in SQLite and
// exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, crash recovery (in_flight rows are reset to pending at startup),
// and the status transitions the sync engine performs during a drain pass.
// Replay order is ascending created_at with id as the tiebreaker, and ids are
// never reused so user discards stay unambiguous after list refreshes.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or fields, update schemaDDL and bump schemaVersion.
package queue
