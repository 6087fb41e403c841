package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	return c.validateWorkflow()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/fivecut/config.toml"
		}
		return fmt.Errorf("storage.access_key and storage.secret_key are required. Set S3_ACCESS_KEY/S3_SECRET_KEY env vars or edit %s (create with 'fivecutd config init')", defaultPath)
	}
	if c.Storage.UploadsBucket == c.Storage.ExportsBucket {
		return errors.New("storage.uploads_bucket and storage.exports_bucket must differ")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if strings.TrimSpace(c.Auth.IssuerURL) == "" {
		return errors.New("auth.issuer_url must be set")
	}
	for _, email := range c.Auth.AdminEmails {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("auth.admin_emails entry %q is not an email address", email)
		}
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.JobTimeout <= 0 {
		return errors.New("workflow.job_timeout must be positive")
	}
	return nil
}
