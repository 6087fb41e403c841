package testsupport

import (
	"path/filepath"
	"testing"

	"fivecut/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Auth.IssuerURL = "https://issuer.test"
	cfg.Auth.ClientID = "fivecut-test"
	cfg.Storage.Endpoint = "http://127.0.0.1:9000"
	cfg.Storage.AccessKey = "test-access"
	cfg.Storage.SecretKey = "test-secret"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithWorkers sets the worker count on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.Workers = n
	}
}

// WithAdminEmails sets the admin allow-list on the test config.
func WithAdminEmails(emails ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Auth.AdminEmails = emails
	}
}
