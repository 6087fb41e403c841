package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	ScratchDir string `toml:"scratch_dir"`
	APIBind    string `toml:"api_bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Auth contains configuration for identity-token verification.
type Auth struct {
	IssuerURL   string   `toml:"issuer_url"`
	ClientID    string   `toml:"client_id"`
	AdminEmails []string `toml:"admin_emails"`
}

// Storage contains configuration for the S3-compatible object store.
type Storage struct {
	Endpoint      string `toml:"endpoint"`
	Region        string `toml:"region"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	UploadsBucket string `toml:"uploads_bucket"`
	ExportsBucket string `toml:"exports_bucket"`
}

// Workflow contains configuration for worker timing and retention.
// Durations are expressed in seconds.
type Workflow struct {
	Workers            int `toml:"workers"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
	JobTimeout         int `toml:"job_timeout"`
	ResultRetention    int `toml:"result_retention"`
	FailureRetention   int `toml:"failure_retention"`
	ReapInterval       int `toml:"reap_interval"`
}

// Tools contains paths and settings for the external pipeline tools.
type Tools struct {
	FFmpegBin  string `toml:"ffmpeg_bin"`
	FFprobeBin string `toml:"ffprobe_bin"`
	PythonBin  string `toml:"python_bin"`

	EnableDetect     bool    `toml:"enable_detect"`
	DetectScript     string  `toml:"detect_script"`
	DetectWeights    string  `toml:"detect_weights"`
	DetectImageSize  int     `toml:"detect_image_size"`
	DetectConfidence float64 `toml:"detect_confidence"`

	EnableEnhance bool   `toml:"enable_enhance"`
	EnhanceScript string `toml:"enhance_script"`

	HighlighterDir   string `toml:"highlighter_dir"`
	HighlighterModel string `toml:"highlighter_model"`

	SuperResDir   string  `toml:"superres_dir"`
	SuperResModel string  `toml:"superres_model"`
	SuperResScale float64 `toml:"superres_scale"`
	SuperResTiles int     `toml:"superres_tiles"`
	SuperResHalf  bool    `toml:"superres_half"`
}

// Config encapsulates all configuration values for the fivecut daemon.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Logging: log format and level
//   - Auth: OIDC issuer and admin allow-list
//   - Storage: S3-compatible endpoint and bucket names
//   - Workflow: worker polling intervals, timeouts, retention
//   - Tools: external pipeline tool locations and flags
type Config struct {
	Paths    Paths    `toml:"paths"`
	Logging  Logging  `toml:"logging"`
	Auth     Auth     `toml:"auth"`
	Storage  Storage  `toml:"storage"`
	Workflow Workflow `toml:"workflow"`
	Tools    Tools    `toml:"tools"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fivecut/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return value
// is the resolved path, the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err = os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(defaultString(c.Paths.DataDir, defaultDataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(defaultString(c.Paths.LogDir, defaultLogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.ScratchDir, err = expandPath(defaultString(c.Paths.ScratchDir, defaultScratchDir)); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}

	if c.Storage.AccessKey == "" {
		if value, ok := os.LookupEnv("S3_ACCESS_KEY"); ok {
			c.Storage.AccessKey = value
		}
	}
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("S3_SECRET_KEY"); ok {
			c.Storage.SecretKey = value
		}
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	if c.Storage.Region == "" {
		c.Storage.Region = defaultStorageRegion
	}
	if c.Storage.UploadsBucket == "" {
		c.Storage.UploadsBucket = defaultUploadsBucket
	}
	if c.Storage.ExportsBucket == "" {
		c.Storage.ExportsBucket = defaultExportsBucket
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	normalizeWorkflow(&c.Workflow)
	return c.normalizeTools()
}

func normalizeWorkflow(w *Workflow) {
	if w.Workers <= 0 {
		w.Workers = defaultWorkers
	}
	if w.QueuePollInterval <= 0 {
		w.QueuePollInterval = defaultQueuePollInterval
	}
	if w.ErrorRetryInterval <= 0 {
		w.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if w.HeartbeatInterval <= 0 {
		w.HeartbeatInterval = defaultHeartbeatInterval
	}
	if w.HeartbeatTimeout <= 0 {
		w.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if w.JobTimeout <= 0 {
		w.JobTimeout = defaultJobTimeout
	}
	if w.ResultRetention <= 0 {
		w.ResultRetention = defaultResultRetention
	}
	if w.FailureRetention <= 0 {
		w.FailureRetention = defaultFailureRetention
	}
	if w.ReapInterval <= 0 {
		w.ReapInterval = defaultReapInterval
	}
}

func (c *Config) normalizeTools() error {
	t := &c.Tools
	t.FFmpegBin = defaultString(t.FFmpegBin, defaultFFmpegBin)
	t.FFprobeBin = defaultString(t.FFprobeBin, defaultFFprobeBin)
	t.PythonBin = defaultString(t.PythonBin, defaultPythonBin)
	if t.DetectImageSize <= 0 {
		t.DetectImageSize = defaultDetectImageSize
	}
	if t.DetectConfidence <= 0 {
		t.DetectConfidence = defaultDetectConfidence
	}
	if t.SuperResModel == "" {
		t.SuperResModel = defaultSuperResModel
	}
	if t.SuperResScale <= 0 {
		t.SuperResScale = defaultSuperResScale
	}

	var err error
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"tools.detect_script", &t.DetectScript},
		{"tools.detect_weights", &t.DetectWeights},
		{"tools.enhance_script", &t.EnhanceScript},
		{"tools.highlighter_dir", &t.HighlighterDir},
		{"tools.highlighter_model", &t.HighlighterModel},
		{"tools.superres_dir", &t.SuperResDir},
	} {
		if *field.value == "" {
			continue
		}
		if *field.value, err = expandPath(*field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ScratchDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDatabasePath returns the SQLite database path for the job store.
func (c *Config) QueueDatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "jobs.db")
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Abs(trimmed)
}
