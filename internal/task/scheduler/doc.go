// Package scheduler runs named jobs lazily.
//
// Nothing here owns a timer that correctness depends on. A job is due when the
// time since its persisted last run is at least its interval, and due jobs only
// run when something calls CheckAndRunDueJobs (startup, a health check, an inbound
// chat update, the CLI, or the optional Waker). The process may sleep for days
// between ticks; the first tick after waking catches up.
//
// Concurrent ticks are safe: a run is claimed with a conditional update of the
// job's last_run_at before the handler starts, so only one caller runs it.
package scheduler
