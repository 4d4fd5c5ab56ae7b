package testsupport

import (
	"path/filepath"
	"testing"

	"ifgsweep/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Both index endpoints point at an unroutable placeholder until overridden,
// retries use millisecond backoff, and logging stays at error level.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Ledger.Path = filepath.Join(base, "state", "ledger.db")
	cfgVal.Context.Path = filepath.Join(base, "_context.json")
	cfgVal.GRQ.URL = "http://127.0.0.1:1"
	cfgVal.Mozart.URL = "http://127.0.0.1:1"
	cfgVal.Search.InitialBackoffMS = 1
	cfgVal.Search.MaxBackoffMS = 5
	cfgVal.Search.RequestTimeout = 5
	cfgVal.Logging.Level = "error"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithIndex points both the GRQ and Mozart endpoints at the fake index.
func WithIndex(index *FakeIndex) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.GRQ.URL = index.URL()
		b.cfg.Mozart.URL = index.URL()
	}
}

// WithEndpoints sets the GRQ and Mozart URLs independently.
func WithEndpoints(grq, mozart string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.GRQ.URL = grq
		b.cfg.Mozart.URL = mozart
	}
}

// WithPageSize overrides the search page size.
func WithPageSize(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Search.PageSize = size
	}
}

// WithConcurrency overrides the number of parallel page fetches.
func WithConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Search.Concurrency = n
	}
}

// WithPolicies overrides the collision and malformed record policies.
func WithPolicies(collision, malformed string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Reconcile.CollisionPolicy = collision
		b.cfg.Reconcile.MalformedPolicy = malformed
	}
}

// WithLedgerDisabled turns off the candidate ledger.
func WithLedgerDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
