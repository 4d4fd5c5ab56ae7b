package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local state locations.
type Paths struct {
	StateDir string `toml:"state_dir"`
}

// Endpoint describes one search index cluster.
type Endpoint struct {
	URL string `toml:"url"`
}

// Search contains transport settings shared by every index query.
type Search struct {
	PageSize           int  `toml:"page_size"`
	RequestTimeout     int  `toml:"request_timeout"`
	MaxRetries         int  `toml:"max_retries"`
	InitialBackoffMS   int  `toml:"initial_backoff_ms"`
	MaxBackoffMS       int  `toml:"max_backoff_ms"`
	Concurrency        int  `toml:"concurrency"`
	MaxPages           int  `toml:"max_pages"`
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// Collections names the index patterns queried by a sweep. Configs may contain
// the {version} placeholder, replaced with the run context's ifg_version.
type Collections struct {
	Configs   string `toml:"configs"`
	Produced  string `toml:"produced"`
	Blacklist string `toml:"blacklist"`
	Jobs      string `toml:"jobs"`
}

// Jobs contains failed-job lookup settings.
type Jobs struct {
	JobType string `toml:"job_type"`
}

// Reconcile selects how duplicate keys and malformed records are handled.
type Reconcile struct {
	CollisionPolicy string `toml:"collision_policy"`
	MalformedPolicy string `toml:"malformed_policy"`
}

// Reconcile policy values.
const (
	CollisionKeepLast  = "keep_last"
	CollisionKeepFirst = "keep_first"
	CollisionReject    = "reject"
	MalformedSkip      = "skip"
	MalformedAbort     = "abort"
)

// Ledger contains configuration for the local candidate ledger.
type Ledger struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// RunContext points at the per-run context file.
type RunContext struct {
	Path string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Tracing contains OpenTelemetry export settings. An empty endpoint disables export.
type Tracing struct {
	Endpoint    string `toml:"endpoint"`
	Headers     string `toml:"headers"`
	ServiceName string `toml:"service_name"`
}

// Notifications contains ntfy settings. An empty topic disables notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for ifgsweep.
//
// Configuration sections by subsystem:
//   - Paths: lock file and ledger directory
//   - GRQ: index holding ifg-cfg, ifg, and ifg-blacklist collections
//   - Mozart: index holding job records
//   - Search: pagination, timeouts, retries, fan-out
//   - Collections: index patterns per record kind
//   - Jobs: expected job type for failure lookups
//   - Reconcile: key collision and malformed record policies
//   - Ledger: local record of blacklist candidates
//   - Context: run context file location
//   - Logging: log format and level
//   - Tracing: OTLP trace export
//   - Notifications: ntfy alerts for candidates and failed runs
type Config struct {
	Paths         Paths         `toml:"paths"`
	GRQ           Endpoint      `toml:"grq"`
	Mozart        Endpoint      `toml:"mozart"`
	Search        Search        `toml:"search"`
	Collections   Collections   `toml:"collections"`
	Jobs          Jobs          `toml:"jobs"`
	Reconcile     Reconcile     `toml:"reconcile"`
	Ledger        Ledger        `toml:"ledger"`
	Context       RunContext    `toml:"context"`
	Logging       Logging       `toml:"logging"`
	Tracing       Tracing       `toml:"tracing"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ifgsweep/config.toml")
}

// Load locates, parses, and validates a configuration file. A .env file in the
// working directory is applied to the process environment first without
// overriding variables that are already set.
func Load(path string) (*Config, string, bool, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, "", false, err
	}

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

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
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

	projectPath, err := filepath.Abs("ifgsweep.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state directory and the ledger's parent directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir}
	if c.Ledger.Enabled {
		dirs = append(dirs, filepath.Dir(c.Ledger.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the lock file guarding against concurrent sweeps.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "ifgsweep.lock")
}

// ConfigsPattern returns the ifg-cfg collection pattern for the given version.
func (c *Config) ConfigsPattern(version string) string {
	return strings.ReplaceAll(c.Collections.Configs, versionPlaceholder, strings.TrimSpace(version))
}

// RequestTimeout returns the per-request timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Search.RequestTimeout) * time.Second
}

// InitialBackoff returns the first retry delay.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Search.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Search.MaxBackoffMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
