package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"ifgsweep/internal/ledger"
	"ifgsweep/internal/search"
)

const indexCheckTimeout = 10 * time.Second

// CheckIndex verifies that the cluster at cfg.BaseURL answers a size-zero
// search on pattern. It uses a single attempt.
func CheckIndex(ctx context.Context, name string, cfg search.Config, pattern string) Result {
	if cfg.BaseURL == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	client, err := search.New(cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url (%v)", err)}
	}

	checkCtx, cancel := context.WithTimeout(ctx, indexCheckTimeout)
	defer cancel()

	total, err := client.Count(checkCtx, pattern, search.MatchAll())
	if err != nil {
		return Result{Name: name, Detail: summarizeIndexError(err)}
	}
	if total < 0 {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (total not reported)", pattern)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (%d records)", pattern, total)}
}

// CheckLedger verifies that the ledger database opens and migrates.
func CheckLedger(name, path string) Result {
	store, err := ledger.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if err := store.Close(); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: close: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (open ok)", path)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeIndexError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (index unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (index unreachable)"
	}
	var statusErr *search.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("index answered %d", statusErr.Code)
	}
	return err.Error()
}
