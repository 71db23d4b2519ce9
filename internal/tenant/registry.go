// Package tenant provides the static project registry that maps a project key
// to its storage location and notification recipient.
package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrUnknownTenant is returned when a project key is not configured.
var ErrUnknownTenant = errors.New("unknown project")

// Config is the immutable per-project configuration.
type Config struct {
	Key       string `json:"-" yaml:"key"`
	SheetID   string `json:"sheetId" yaml:"sheet_id"`
	EmailTo   string `json:"emailTo" yaml:"email_to"`
	EmailFrom string `json:"emailFrom,omitempty" yaml:"email_from,omitempty"`
}

// Registry is a read-only project lookup table. It is populated once at
// startup and is safe for concurrent use without locking.
type Registry struct {
	tenants map[string]Config
}

// NewRegistry creates a registry from an already parsed project map.
func NewRegistry(tenants map[string]Config) *Registry {
	m := make(map[string]Config, len(tenants))
	for key, cfg := range tenants {
		cfg.Key = key
		m[key] = cfg
	}
	return &Registry{tenants: m}
}

// Resolve returns the configuration for key.
func (r *Registry) Resolve(key string) (Config, error) {
	if key == "" {
		return Config{}, fmt.Errorf("%w: missing project_key", ErrUnknownTenant)
	}
	cfg, ok := r.tenants[key]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownTenant, key)
	}
	return cfg, nil
}

// Len returns the number of configured projects.
func (r *Registry) Len() int {
	return len(r.tenants)
}

// Keys returns the configured project keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.tenants))
	for k := range r.tenants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseProjectConfig parses the PROJECT_CONFIG JSON object. Comments and
// trailing commas are tolerated.
func ParseProjectConfig(data []byte) (map[string]Config, error) {
	var m map[string]Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parse project config: %w", err)
	}
	return m, nil
}

type tenantsFile struct {
	Version int      `yaml:"version"`
	Tenants []Config `yaml:"tenants"`
}

// ParseTenantsFile parses a version 1 YAML tenants file.
func ParseTenantsFile(data []byte) (map[string]Config, error) {
	var tf tenantsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}
	if tf.Version != 1 {
		return nil, errors.New("tenants: unsupported version")
	}

	m := make(map[string]Config, len(tf.Tenants))
	for _, t := range tf.Tenants {
		if t.Key == "" {
			return nil, errors.New("tenants: entry without key")
		}
		if _, dup := m[t.Key]; dup {
			return nil, fmt.Errorf("tenants: duplicate key %q", t.Key)
		}
		m[t.Key] = t
	}
	return m, nil
}

// Load builds the registry from the inline project config, or from the
// tenants file when no inline config is set. Load never fails: a malformed
// source is logged and produces an empty registry, so every lookup reports
// ErrUnknownTenant instead of the process refusing to start.
func Load(projectConfig, tenantsPath string, logger *zap.Logger) *Registry {
	var (
		m      map[string]Config
		err    error
		source string
	)

	switch {
	case strings.TrimSpace(projectConfig) != "":
		source = "PROJECT_CONFIG"
		m, err = ParseProjectConfig([]byte(projectConfig))
	case tenantsPath != "":
		source = tenantsPath
		var data []byte
		data, err = os.ReadFile(tenantsPath)
		if err == nil {
			m, err = ParseTenantsFile(data)
		}
	default:
		logger.Warn("no project configuration provided, every project key will be rejected")
		return NewRegistry(nil)
	}

	if err != nil {
		logger.Error("invalid project configuration, continuing with an empty registry",
			zap.String("source", source),
			zap.Error(err),
		)
		return NewRegistry(nil)
	}

	valid := make(map[string]Config, len(m))
	for key, cfg := range m {
		if strings.TrimSpace(cfg.SheetID) == "" {
			logger.Warn("dropping project without storage location", zap.String("project_key", key))
			continue
		}
		valid[key] = cfg
	}

	reg := NewRegistry(valid)
	logger.Info("project registry loaded",
		zap.String("source", source),
		zap.Int("projects", reg.Len()),
		zap.Strings("project_keys", reg.Keys()),
	)
	return reg
}
