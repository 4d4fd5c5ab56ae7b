package preflight

import (
	"context"

	"ifgsweep/internal/config"
	"ifgsweep/internal/search"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check for cfg. ifgVersion selects the
// configuration collection probed on GRQ; when empty the produced
// collection is probed instead.
func RunAll(ctx context.Context, cfg *config.Config, ifgVersion string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.Ledger.Enabled {
		results = append(results, CheckLedger("Ledger", cfg.Ledger.Path))
	}

	grqPattern := cfg.Collections.Produced
	if ifgVersion != "" {
		grqPattern = cfg.ConfigsPattern(ifgVersion)
	}
	results = append(results, CheckIndex(ctx, "GRQ", clientConfig(cfg, cfg.GRQ.URL), grqPattern))
	results = append(results, CheckIndex(ctx, "Mozart", clientConfig(cfg, cfg.Mozart.URL), cfg.Collections.Jobs))

	return results
}

// Failed reports whether any result did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

func clientConfig(cfg *config.Config, baseURL string) search.Config {
	return search.Config{
		BaseURL:            baseURL,
		Timeout:            cfg.RequestTimeout(),
		InsecureSkipVerify: cfg.Search.InsecureSkipVerify,
	}
}
