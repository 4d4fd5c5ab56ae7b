package config

const (
	defaultStateDir           = "~/.local/share/ifgsweep"
	defaultLedgerFile         = "ledger.db"
	defaultPageSize           = 1000
	defaultRequestTimeout     = 60
	defaultMaxRetries         = 3
	defaultInitialBackoffMS   = 1000
	defaultMaxBackoffMS       = 30000
	defaultConcurrency        = 1
	defaultMaxPages           = 100000
	defaultConfigsPattern     = "grq_{version}_ifg-cfg"
	defaultProducedPattern    = "grq_*_ifg"
	defaultBlacklistPattern   = "grq_*_ifg-blacklist"
	defaultJobsPattern        = "grq_*_ifg"
	defaultJobType            = "job:job-sciflo-s1-ifg:develop"
	defaultContextPath        = "_context.json"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultTracingServiceName = "ifgsweep"
	versionPlaceholder        = "{version}"
	defaultCollisionPolicy    = CollisionKeepLast
	defaultMalformedPolicy    = MalformedSkip
	defaultLedgerEnabled      = true
	defaultInsecureSkipVerify = false
	defaultNotifyTimeout      = 10
	grqURLEnv                 = "GRQ_ES_URL"
	mozartURLEnv              = "MOZART_ES_URL"
	tracingEndpointEnv        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	tracingHeadersEnv         = "OTEL_EXPORTER_OTLP_HEADERS"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
		},
		Search: Search{
			PageSize:           defaultPageSize,
			RequestTimeout:     defaultRequestTimeout,
			MaxRetries:         defaultMaxRetries,
			InitialBackoffMS:   defaultInitialBackoffMS,
			MaxBackoffMS:       defaultMaxBackoffMS,
			Concurrency:        defaultConcurrency,
			MaxPages:           defaultMaxPages,
			InsecureSkipVerify: defaultInsecureSkipVerify,
		},
		Collections: Collections{
			Configs:   defaultConfigsPattern,
			Produced:  defaultProducedPattern,
			Blacklist: defaultBlacklistPattern,
			Jobs:      defaultJobsPattern,
		},
		Jobs: Jobs{
			JobType: defaultJobType,
		},
		Reconcile: Reconcile{
			CollisionPolicy: defaultCollisionPolicy,
			MalformedPolicy: defaultMalformedPolicy,
		},
		Ledger: Ledger{
			Enabled: defaultLedgerEnabled,
		},
		Context: RunContext{
			Path: defaultContextPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Tracing: Tracing{
			ServiceName: defaultTracingServiceName,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
		},
	}
}
