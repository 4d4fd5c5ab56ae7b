package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEndpoints()
	c.normalizeSearch()
	c.normalizeCollections()
	c.normalizeReconcile()
	if err := c.normalizeLedger(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.normalizeTracing()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Context.Path = strings.TrimSpace(c.Context.Path)
	if c.Context.Path == "" {
		c.Context.Path = defaultContextPath
	}
	return nil
}

func (c *Config) normalizeEndpoints() {
	c.GRQ.URL = strings.TrimSpace(c.GRQ.URL)
	if c.GRQ.URL == "" {
		if value, ok := os.LookupEnv(grqURLEnv); ok {
			c.GRQ.URL = strings.TrimSpace(value)
		}
	}
	c.GRQ.URL = strings.TrimRight(c.GRQ.URL, "/")

	c.Mozart.URL = strings.TrimSpace(c.Mozart.URL)
	if c.Mozart.URL == "" {
		if value, ok := os.LookupEnv(mozartURLEnv); ok {
			c.Mozart.URL = strings.TrimSpace(value)
		}
	}
	c.Mozart.URL = strings.TrimRight(c.Mozart.URL, "/")
}

func (c *Config) normalizeSearch() {
	if c.Search.PageSize == 0 {
		c.Search.PageSize = defaultPageSize
	}
	if c.Search.RequestTimeout == 0 {
		c.Search.RequestTimeout = defaultRequestTimeout
	}
	if c.Search.InitialBackoffMS == 0 {
		c.Search.InitialBackoffMS = defaultInitialBackoffMS
	}
	if c.Search.MaxBackoffMS == 0 {
		c.Search.MaxBackoffMS = defaultMaxBackoffMS
	}
	if c.Search.Concurrency == 0 {
		c.Search.Concurrency = defaultConcurrency
	}
	if c.Search.MaxPages == 0 {
		c.Search.MaxPages = defaultMaxPages
	}
}

func (c *Config) normalizeCollections() {
	c.Collections.Configs = strings.TrimSpace(c.Collections.Configs)
	if c.Collections.Configs == "" {
		c.Collections.Configs = defaultConfigsPattern
	}
	c.Collections.Produced = strings.TrimSpace(c.Collections.Produced)
	if c.Collections.Produced == "" {
		c.Collections.Produced = defaultProducedPattern
	}
	c.Collections.Blacklist = strings.TrimSpace(c.Collections.Blacklist)
	if c.Collections.Blacklist == "" {
		c.Collections.Blacklist = defaultBlacklistPattern
	}
	c.Collections.Jobs = strings.TrimSpace(c.Collections.Jobs)
	if c.Collections.Jobs == "" {
		c.Collections.Jobs = defaultJobsPattern
	}
	c.Jobs.JobType = strings.TrimSpace(c.Jobs.JobType)
	if c.Jobs.JobType == "" {
		c.Jobs.JobType = defaultJobType
	}
}

func (c *Config) normalizeReconcile() {
	c.Reconcile.CollisionPolicy = strings.ToLower(strings.TrimSpace(c.Reconcile.CollisionPolicy))
	c.Reconcile.CollisionPolicy = strings.ReplaceAll(c.Reconcile.CollisionPolicy, "-", "_")
	if c.Reconcile.CollisionPolicy == "" {
		c.Reconcile.CollisionPolicy = defaultCollisionPolicy
	}
	c.Reconcile.MalformedPolicy = strings.ToLower(strings.TrimSpace(c.Reconcile.MalformedPolicy))
	if c.Reconcile.MalformedPolicy == "" {
		c.Reconcile.MalformedPolicy = defaultMalformedPolicy
	}
}

func (c *Config) normalizeLedger() error {
	var err error
	if strings.TrimSpace(c.Ledger.Path) == "" {
		c.Ledger.Path = filepath.Join(c.Paths.StateDir, defaultLedgerFile)
	}
	if c.Ledger.Path, err = expandPath(c.Ledger.Path); err != nil {
		return fmt.Errorf("ledger.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.File) == "" {
		c.Logging.File = ""
		return nil
	}
	var err error
	if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	return nil
}

func (c *Config) normalizeTracing() {
	c.Tracing.Endpoint = strings.TrimSpace(c.Tracing.Endpoint)
	if c.Tracing.Endpoint == "" {
		if value, ok := os.LookupEnv(tracingEndpointEnv); ok {
			c.Tracing.Endpoint = strings.TrimSpace(value)
		}
	}
	c.Tracing.Endpoint = strings.TrimRight(c.Tracing.Endpoint, "/")
	c.Tracing.Headers = strings.TrimSpace(c.Tracing.Headers)
	if c.Tracing.Headers == "" {
		if value, ok := os.LookupEnv(tracingHeadersEnv); ok {
			c.Tracing.Headers = strings.TrimSpace(value)
		}
	}
	c.Tracing.ServiceName = strings.TrimSpace(c.Tracing.ServiceName)
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = defaultTracingServiceName
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout == 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}
