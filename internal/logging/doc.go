// Package logging builds slog loggers from daemon configuration and provides
// the standardized attribute helpers used across fivecut components.
package logging
