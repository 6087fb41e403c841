// Package workflow runs the worker side of the daemon: a pool of workers
// claims queued jobs from the shared store, executes the edit pipeline for
// each under a heartbeat loop and an overall deadline, and persists the
// terminal state. A maintenance loop reclaims jobs whose worker died and
// reaps terminal records past their retention window.
package workflow
