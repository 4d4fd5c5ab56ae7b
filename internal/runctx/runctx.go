// Package runctx loads the per-run context file that selects the
// configuration collection version and the failure threshold.
package runctx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ifgsweep/internal/services"
)

// Context is the run context supplied to every sweep.
type Context struct {
	IFGVersion       string `json:"ifg_version" yaml:"ifg_version"`
	CountToBlacklist int    `json:"count_to_blacklist" yaml:"count_to_blacklist"`
}

// Load reads a run context from path. Files ending in .yaml or .yml are
// decoded as YAML; everything else is decoded as JSON. Any failure is
// marked services.ErrContextLoad.
func Load(path string) (Context, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Context{}, services.Wrap(services.ErrContextLoad, "context", "load", "path is empty", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Context{}, services.Wrap(services.ErrContextLoad, "context", "read", path, err)
	}
	rc, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Context{}, services.Wrap(services.ErrContextLoad, "context", "parse", path, err)
	}
	return rc, nil
}

// Parse decodes a run context from raw bytes. ext selects the format
// (".yaml"/".yml" for YAML, anything else for JSON).
func Parse(data []byte, ext string) (Context, error) {
	var rc Context
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rc); err != nil {
			return Context{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&rc); err != nil {
			return Context{}, fmt.Errorf("decode json: %w", err)
		}
	}
	rc.IFGVersion = strings.TrimSpace(rc.IFGVersion)
	if err := rc.Validate(); err != nil {
		return Context{}, err
	}
	return rc, nil
}

// Validate reports missing or out-of-range fields.
func (c Context) Validate() error {
	var problems []error
	if c.IFGVersion == "" {
		problems = append(problems, errors.New("ifg_version is required"))
	}
	if c.CountToBlacklist <= 0 {
		problems = append(problems, errors.New("count_to_blacklist must be positive"))
	}
	return errors.Join(problems...)
}

// WithOverrides returns a copy with non-zero overrides applied, then
// revalidates. The CLI uses this for --version and --threshold.
func (c Context) WithOverrides(version string, threshold int) (Context, error) {
	if v := strings.TrimSpace(version); v != "" {
		c.IFGVersion = v
	}
	if threshold != 0 {
		c.CountToBlacklist = threshold
	}
	if err := c.Validate(); err != nil {
		return Context{}, services.Wrap(services.ErrContextLoad, "context", "override", "", err)
	}
	return c, nil
}
