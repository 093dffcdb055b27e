// Package config loads collection definitions and engine settings from JSONC or YAML
// files.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/asaidimu/go-collections/core/persistence"
	"github.com/goccy/go-json"
	"github.com/tailscale/hujson"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
)

// Format of a config file.
type Format string

const (
	FormatJSON Format = "json" // JSON with comments and trailing commas
	FormatYAML Format = "yaml"
)

// Duration is a time.Duration written as "30s" or as a number of seconds.
type Duration time.Duration

// UnmarshalJSON accepts a Go duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalYAML accepts a Go duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func parseDuration(raw any) (Duration, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return Duration(parsed), nil
	case float64:
		return Duration(v * float64(time.Second)), nil
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	}
	return 0, fmt.Errorf("invalid duration %v", raw)
}

// File is the content of a config file.
type File struct {
	// CacheTTL overrides the query cache lifetime. Negative disables expiry.
	CacheTTL *Duration `json:"cacheTTL,omitempty" yaml:"cacheTTL,omitempty"`
	// HookTimeout overrides the hook time bound. Zero disables it.
	HookTimeout *Duration                      `json:"hookTimeout,omitempty" yaml:"hookTimeout,omitempty"`
	LogLevel    string                         `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	Collections []persistence.CollectionConfig `json:"collections" yaml:"collections"`
}

// Load reads a config file. The format follows the extension: .yaml and .yml are YAML,
// everything else is JSONC.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}

	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes config data in the given format and checks that every collection has
// an id. Everything else is validated when the collections are created.
func Parse(data []byte, format Format) (*File, error) {
	var f File
	switch format {
	case FormatJSON:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid JSONC: %w", errConfigInvalid, err)
		}
		if err := json.Unmarshal(standardized, &f); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON: %w", errConfigInvalid, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("%w: invalid YAML: %w", errConfigInvalid, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown format %q", errConfigInvalid, format)
	}

	seen := make(map[string]bool, len(f.Collections))
	for i, c := range f.Collections {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: collection %d has no id", errConfigInvalid, i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: collection %q is defined twice", errConfigInvalid, c.ID)
		}
		seen[c.ID] = true
	}
	return &f, nil
}

// Apply copies the engine settings of f into opts.
func (f *File) Apply(opts *persistence.Options) {
	if f.CacheTTL != nil {
		opts.CacheTTL = time.Duration(*f.CacheTTL)
	}
	if f.HookTimeout != nil {
		opts.HookTimeout = time.Duration(*f.HookTimeout)
	}
}

// Provision creates every collection of f in r, in file order. It stops at the first
// collection the registry rejects.
func (f *File) Provision(ctx context.Context, r *persistence.Registry, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, cfg := range f.Collections {
		if _, err := r.Create(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", cfg.ID, err)
		}
		logger.Debug("Provisioned collection", zap.String("collection", cfg.ID))
	}
	return nil
}
