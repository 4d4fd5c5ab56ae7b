package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEndpoints(); err != nil {
		return err
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	if err := c.validateCollections(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEndpoints() error {
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = "~/.config/ifgsweep/config.toml"
	}
	if c.GRQ.URL == "" {
		return fmt.Errorf("grq.url is required. Set %s env var or edit %s (create with 'ifgsweep config init')", grqURLEnv, defaultPath)
	}
	if err := validateBaseURL("grq.url", c.GRQ.URL); err != nil {
		return err
	}
	if c.Mozart.URL == "" {
		return fmt.Errorf("mozart.url is required. Set %s env var or edit %s", mozartURLEnv, defaultPath)
	}
	return validateBaseURL("mozart.url", c.Mozart.URL)
}

func validateBaseURL(field, value string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, value)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", field, value)
	}
	return nil
}

func (c *Config) validateSearch() error {
	if err := ensurePositiveMap(map[string]int{
		"search.page_size":          c.Search.PageSize,
		"search.request_timeout":    c.Search.RequestTimeout,
		"search.initial_backoff_ms": c.Search.InitialBackoffMS,
		"search.max_backoff_ms":     c.Search.MaxBackoffMS,
		"search.concurrency":        c.Search.Concurrency,
		"search.max_pages":          c.Search.MaxPages,
	}); err != nil {
		return err
	}
	if c.Search.MaxRetries < 0 {
		return errors.New("search.max_retries must be >= 0")
	}
	if c.Search.MaxBackoffMS < c.Search.InitialBackoffMS {
		return errors.New("search.max_backoff_ms must be >= search.initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateCollections() error {
	for field, pattern := range map[string]string{
		"collections.configs":   c.Collections.Configs,
		"collections.produced":  c.Collections.Produced,
		"collections.blacklist": c.Collections.Blacklist,
		"collections.jobs":      c.Collections.Jobs,
	} {
		if strings.ContainsAny(pattern, "/ ?#") {
			return fmt.Errorf("%s contains characters not allowed in an index pattern: %q", field, pattern)
		}
	}
	if c.Jobs.JobType == "" {
		return errors.New("jobs.job_type must be set")
	}
	return nil
}

func (c *Config) validateReconcile() error {
	switch c.Reconcile.CollisionPolicy {
	case CollisionKeepLast, CollisionKeepFirst, CollisionReject:
	default:
		return fmt.Errorf("reconcile.collision_policy must be one of %s, %s, %s (got %q)",
			CollisionKeepLast, CollisionKeepFirst, CollisionReject, c.Reconcile.CollisionPolicy)
	}
	switch c.Reconcile.MalformedPolicy {
	case MalformedSkip, MalformedAbort:
	default:
		return fmt.Errorf("reconcile.malformed_policy must be %s or %s (got %q)",
			MalformedSkip, MalformedAbort, c.Reconcile.MalformedPolicy)
	}
	return nil
}

func (c *Config) validateLedger() error {
	if c.Ledger.Enabled && strings.TrimSpace(c.Ledger.Path) == "" {
		return errors.New("ledger.path must be set when ledger.enabled is true")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	return validateBaseURL("notifications.ntfy_topic", c.Notifications.NtfyTopic)
}
