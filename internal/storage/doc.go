// Package storage is the persistence layer behind the commitment engine and the
// lazy scheduler.
//
// It exposes one typed repository per entity (commitments, reminders, escalations,
// job schedules, audit) and three drivers:
//   - "memory": process-local maps (tests, dry runs)
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL via lib/pq
//
// All timestamps are persisted as unix milliseconds.
package storage
