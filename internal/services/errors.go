package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthorized marks requests without a verifiable identity.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks ownership violations on user-scoped keys.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks absent objects or jobs.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed payloads.
	ErrValidation = errors.New("validation error")
	// ErrUnsatisfiableRange marks byte ranges that cannot be served.
	ErrUnsatisfiableRange = errors.New("unsatisfiable range")
	// ErrStorage marks object-storage backend failures.
	ErrStorage = errors.New("storage error")
	// ErrExternalTool marks a pipeline stage whose external tool failed or is
	// absent. Stage degradations are logged, never fatal on their own.
	ErrExternalTool = errors.New("external tool error")
	// ErrCanceled is the internal control signal for a cooperatively canceled
	// job. It is recorded as the canceled state, not surfaced as a failure.
	ErrCanceled = errors.New("canceled by user")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrStorage
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
