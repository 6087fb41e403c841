// Package daemon wires the queue store, workflow manager, and HTTP gateway
// into a single supervised process and enforces single-instance execution
// through a lock file.
package daemon
