// Package queue persists edit jobs in SQLite and implements the job state
// machine shared between the HTTP gateway and the pipeline workers.
//
// Allowed transitions: queued -> started -> {finished, failed};
// {queued, deferred} -> canceled directly; started -> canceled only through
// the cooperative abort protocol (flags set by the gateway, observed by the
// worker at the next checkpoint). Stale started jobs are parked as deferred
// and reclaimed by the next free worker. Terminal records are reaped after a
// per-job retention window.
package queue
