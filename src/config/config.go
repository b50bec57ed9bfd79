// Package config loads and validates the replyscreen gateway configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// validName matches alphanumeric, hyphens, and single underscores.
// Double underscores are reserved as the namespace separator.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Config is the top-level gateway configuration loaded from JSON.
type Config struct {
	Upstream  UpstreamConfig  `json:"upstream"`
	Backends  []BackendConfig `json:"backends"`
	Screening ScreeningConfig `json:"screening"`
}

// UpstreamConfig controls how assistant hosts connect to the gateway.
type UpstreamConfig struct {
	Transport string     `json:"transport"` // "stdio" or "http"
	HTTP      HTTPConfig `json:"http"`
}

// HTTPConfig holds HTTP listener settings.
type HTTPConfig struct {
	Addr string `json:"addr"` // e.g. ":8080"
	Path string `json:"path"` // e.g. "/mcp"
}

// BackendConfig defines a single backend MCP server whose tools produce
// model-generated text.
type BackendConfig struct {
	Name      string           `json:"name"`
	Transport string           `json:"transport"` // "stdio" or "http"
	Command   []string         `json:"command,omitempty"`
	URL       string           `json:"url,omitempty"`
	Screening *ScreeningConfig `json:"screening,omitempty"`
}

// ScreeningConfig controls corruption screening of backend replies.
// At the root level it provides global defaults; per-backend, non-nil
// fields override the global. RatioThreshold and MarkerToken left nil fall
// back to the detector's own defaults.
type ScreeningConfig struct {
	RatioThreshold      *float64 `json:"ratioThreshold,omitempty"`
	MarkerToken         *string  `json:"markerToken,omitempty"`
	DisableBuiltInRules *bool    `json:"disableBuiltInRules,omitempty"`
	EnableRatioCheck    *bool    `json:"enableRatioCheck,omitempty"`
	EnableNormalization *bool    `json:"enableNormalization,omitempty"`
	CustomRules         []string `json:"customRules,omitempty"`
}

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	DefaultHTTPAddr = ":8080"
	DefaultHTTPPath = "/mcp"
)

// Load reads and parses a JSON config file, applies defaults, and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Upstream.Transport == "" {
		cfg.Upstream.Transport = TransportStdio
	}
	if cfg.Upstream.HTTP.Addr == "" {
		cfg.Upstream.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Upstream.HTTP.Path == "" {
		cfg.Upstream.HTTP.Path = DefaultHTTPPath
	}

	if cfg.Screening.DisableBuiltInRules == nil {
		cfg.Screening.DisableBuiltInRules = boolPtr(false)
	}
	if cfg.Screening.EnableRatioCheck == nil {
		cfg.Screening.EnableRatioCheck = boolPtr(true)
	}
	if cfg.Screening.EnableNormalization == nil {
		cfg.Screening.EnableNormalization = boolPtr(true)
	}
}

func validate(cfg Config) error {
	if cfg.Upstream.Transport != TransportStdio && cfg.Upstream.Transport != TransportHTTP {
		return fmt.Errorf("upstream transport must be %q or %q, got %q",
			TransportStdio, TransportHTTP, cfg.Upstream.Transport)
	}

	if len(cfg.Backends) == 0 {
		return fmt.Errorf("at least one backend server is required")
	}

	names := make(map[string]struct{}, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if b.Name == "" {
			return fmt.Errorf("backends[%d]: name is required", i)
		}
		if !validName.MatchString(b.Name) {
			return fmt.Errorf("backends[%d]: name %q must match %s", i, b.Name, validName.String())
		}
		if strings.Contains(b.Name, "__") {
			return fmt.Errorf("backends[%d]: name %q must not contain \"__\" (reserved separator)", i, b.Name)
		}
		if _, exists := names[b.Name]; exists {
			return fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name)
		}
		names[b.Name] = struct{}{}

		if b.Transport != TransportStdio && b.Transport != TransportHTTP {
			return fmt.Errorf("backends[%d] (%s): transport must be %q or %q, got %q",
				i, b.Name, TransportStdio, TransportHTTP, b.Transport)
		}

		if b.Transport == TransportStdio && len(b.Command) == 0 {
			return fmt.Errorf("backends[%d] (%s): command is required for stdio transport", i, b.Name)
		}

		if b.Transport == TransportHTTP && b.URL == "" {
			return fmt.Errorf("backends[%d] (%s): url is required for http transport", i, b.Name)
		}
	}

	if err := validateScreening("screening", cfg.Screening); err != nil {
		return err
	}
	for i, b := range cfg.Backends {
		if b.Screening == nil {
			continue
		}
		prefix := fmt.Sprintf("backends[%d] (%s) screening", i, b.Name)
		if err := validateScreening(prefix, *b.Screening); err != nil {
			return err
		}
	}

	return nil
}

func validateScreening(prefix string, sc ScreeningConfig) error {
	if sc.RatioThreshold != nil {
		if *sc.RatioThreshold <= 0 || *sc.RatioThreshold > 1 {
			return fmt.Errorf("%s.ratioThreshold must be in (0, 1], got %v", prefix, *sc.RatioThreshold)
		}
	}
	if sc.MarkerToken != nil && *sc.MarkerToken == "" {
		return fmt.Errorf("%s.markerToken must not be empty when set", prefix)
	}
	for i, pattern := range sc.CustomRules {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%s.customRules[%d]: invalid regex %q: %w", prefix, i, pattern, err)
		}
	}
	return nil
}

// Merge returns a ScreeningConfig with per-backend overrides applied on
// top of global defaults. Fields that are nil in the override use the
// global value.
func Merge(global, override *ScreeningConfig) ScreeningConfig {
	if override == nil {
		return *global
	}

	merged := *global

	if override.RatioThreshold != nil {
		merged.RatioThreshold = override.RatioThreshold
	}
	if override.MarkerToken != nil {
		merged.MarkerToken = override.MarkerToken
	}
	if override.DisableBuiltInRules != nil {
		merged.DisableBuiltInRules = override.DisableBuiltInRules
	}
	if override.EnableRatioCheck != nil {
		merged.EnableRatioCheck = override.EnableRatioCheck
	}
	if override.EnableNormalization != nil {
		merged.EnableNormalization = override.EnableNormalization
	}
	if len(override.CustomRules) > 0 {
		merged.CustomRules = override.CustomRules
	}

	return merged
}

func boolPtr(b bool) *bool { return &b }
