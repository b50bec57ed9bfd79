package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	cfg := `{
		"upstream": {"transport": "stdio"},
		"backends": [
			{"name": "chat", "transport": "stdio", "command": ["model-server"]}
		]
	}`

	path := writeTemp(t, cfg)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Upstream.Transport != TransportStdio {
		t.Errorf("upstream transport = %q, want %q", got.Upstream.Transport, TransportStdio)
	}
	if len(got.Backends) != 1 {
		t.Fatalf("backend count = %d, want 1", len(got.Backends))
	}
	if got.Backends[0].Name != "chat" {
		t.Errorf("backends[0].name = %q, want %q", got.Backends[0].Name, "chat")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"]}
		]
	}`

	path := writeTemp(t, cfg)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Upstream.Transport != TransportStdio {
		t.Errorf("default upstream transport = %q, want %q", got.Upstream.Transport, TransportStdio)
	}
	if got.Upstream.HTTP.Addr != DefaultHTTPAddr {
		t.Errorf("default http addr = %q, want %q", got.Upstream.HTTP.Addr, DefaultHTTPAddr)
	}
	if got.Upstream.HTTP.Path != DefaultHTTPPath {
		t.Errorf("default http path = %q, want %q", got.Upstream.HTTP.Path, DefaultHTTPPath)
	}
	if *got.Screening.DisableBuiltInRules {
		t.Error("default disableBuiltInRules should be false")
	}
	if !*got.Screening.EnableRatioCheck {
		t.Error("default enableRatioCheck should be true")
	}
	if !*got.Screening.EnableNormalization {
		t.Error("default enableNormalization should be true")
	}
	// Threshold and marker stay nil so the detector supplies its own defaults.
	if got.Screening.RatioThreshold != nil {
		t.Errorf("ratioThreshold = %v, want nil", *got.Screening.RatioThreshold)
	}
	if got.Screening.MarkerToken != nil {
		t.Errorf("markerToken = %v, want nil", *got.Screening.MarkerToken)
	}
}

func TestLoad_HTTPUpstream(t *testing.T) {
	cfg := `{
		"upstream": {"transport": "http", "http": {"addr": ":9090", "path": "/api"}},
		"backends": [
			{"name": "a", "transport": "http", "url": "https://example.com/mcp"}
		]
	}`

	path := writeTemp(t, cfg)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Upstream.Transport != TransportHTTP {
		t.Errorf("transport = %q, want %q", got.Upstream.Transport, TransportHTTP)
	}
	if got.Upstream.HTTP.Addr != ":9090" {
		t.Errorf("addr = %q, want %q", got.Upstream.HTTP.Addr, ":9090")
	}
}

func TestLoad_ScreeningOverrides(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"],
			 "screening": {"ratioThreshold": 0.4, "markerToken": "ORAC"}}
		],
		"screening": {"ratioThreshold": 0.3}
	}`

	path := writeTemp(t, cfg)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if *got.Screening.RatioThreshold != 0.3 {
		t.Errorf("global ratioThreshold = %v, want 0.3", *got.Screening.RatioThreshold)
	}
	if *got.Backends[0].Screening.RatioThreshold != 0.4 {
		t.Errorf("backend ratioThreshold = %v, want 0.4", *got.Backends[0].Screening.RatioThreshold)
	}
	if *got.Backends[0].Screening.MarkerToken != "ORAC" {
		t.Errorf("backend markerToken = %q, want %q", *got.Backends[0].Screening.MarkerToken, "ORAC")
	}
}

func TestLoad_NoBackends(t *testing.T) {
	cfg := `{"backends": []}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for empty backends")
	}
}

func TestLoad_DuplicateNames(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"]},
			{"name": "a", "transport": "stdio", "command": ["y"]}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for duplicate names")
	}
}

func TestLoad_StdioMissingCommand(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio"}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for stdio without command")
	}
}

func TestLoad_HTTPMissingURL(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "http"}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for http without url")
	}
}

func TestLoad_InvalidTransport(t *testing.T) {
	cfg := `{
		"upstream": {"transport": "grpc"},
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"]}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid upstream transport")
	}
}

func TestLoad_InvalidCustomRule(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"]}
		],
		"screening": {
			"customRules": ["[invalid"]
		}
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestLoad_InvalidBackendCustomRule(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"],
			 "screening": {"customRules": ["(unclosed"]}}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid backend regex")
	}
}

func TestLoad_ThresholdOutOfRange(t *testing.T) {
	for _, v := range []string{"0", "-0.1", "1.5"} {
		cfg := `{
			"backends": [
				{"name": "a", "transport": "stdio", "command": ["x"]}
			],
			"screening": {"ratioThreshold": ` + v + `}
		}`
		path := writeTemp(t, cfg)
		if _, err := Load(path); err == nil {
			t.Errorf("expected error for ratioThreshold %s", v)
		}
	}
}

func TestLoad_EmptyMarkerToken(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a", "transport": "stdio", "command": ["x"]}
		],
		"screening": {"markerToken": ""}
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for empty marker token")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeTemp(t, `{not json}`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_NameContainsDoubleUnderscore(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "a__b", "transport": "stdio", "command": ["x"]}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for name containing __")
	}
}

func TestLoad_NameInvalidChars(t *testing.T) {
	cfg := `{
		"backends": [
			{"name": "has spaces", "transport": "stdio", "command": ["x"]}
		]
	}`
	path := writeTemp(t, cfg)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for name with invalid chars")
	}
}

func TestMerge_NilOverride(t *testing.T) {
	global := ScreeningConfig{
		RatioThreshold: floatPtr(0.3),
	}
	merged := Merge(&global, nil)
	if *merged.RatioThreshold != 0.3 {
		t.Errorf("ratioThreshold = %v, want 0.3", *merged.RatioThreshold)
	}
}

func TestMerge_OverrideFields(t *testing.T) {
	global := ScreeningConfig{
		RatioThreshold:      floatPtr(0.25),
		EnableRatioCheck:    boolPtr(true),
		EnableNormalization: boolPtr(true),
	}
	override := ScreeningConfig{
		RatioThreshold:      floatPtr(0.5),
		EnableNormalization: boolPtr(false),
	}

	merged := Merge(&global, &override)

	if *merged.RatioThreshold != 0.5 {
		t.Errorf("ratioThreshold = %v, want 0.5", *merged.RatioThreshold)
	}
	if !*merged.EnableRatioCheck {
		t.Error("enableRatioCheck should remain true from global")
	}
	if *merged.EnableNormalization {
		t.Error("enableNormalization should be false from override")
	}
}

func TestMerge_CustomRulesOverride(t *testing.T) {
	global := ScreeningConfig{
		CustomRules: []string{"global_rule"},
	}
	override := ScreeningConfig{
		CustomRules: []string{"override_rule"},
	}

	merged := Merge(&global, &override)

	if len(merged.CustomRules) != 1 || merged.CustomRules[0] != "override_rule" {
		t.Errorf("custom rules = %v, want [override_rule]", merged.CustomRules)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func floatPtr(f float64) *float64 { return &f }
