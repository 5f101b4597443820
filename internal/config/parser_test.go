package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evolution.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
evolution:
  name: minimal
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	e := cfg.Evolution
	if e.SecurityLevel != "standard" {
		t.Fatalf("expected default security level standard, got %q", e.SecurityLevel)
	}
	if cfg.GetCycleInterval() != 10*time.Second {
		t.Fatalf("expected default 10s interval, got %s", cfg.GetCycleInterval())
	}
	if e.Engine.MaxSuggestions != 10 || e.Engine.MinConfidence != 60 {
		t.Fatalf("engine defaults wrong: %+v", e.Engine)
	}
	if e.Engine.HistoryCapacity != 100 || e.Rollback.Capacity != 100 {
		t.Fatalf("capacity defaults wrong: history=%d rollback=%d", e.Engine.HistoryCapacity, e.Rollback.Capacity)
	}

	th := e.Engine.Thresholds
	if th.FragmentationRatio != 0.5 || th.AverageWaitMs != 100 || th.IOOperations != 1000 || th.CPUUtilization != 0.5 {
		t.Fatalf("threshold defaults wrong: %+v", th)
	}
}

func TestLoadConfig_ExplicitValuesKept(t *testing.T) {
	path := writeConfig(t, `
evolution:
  name: tuned
  cycle_interval: 30
  security_level: strict
  engine:
    max_suggestions: 4
    min_confidence: 75
    thresholds:
      fragmentation_ratio: 0.8
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	e := cfg.Evolution
	if cfg.GetCycleInterval() != 30*time.Second {
		t.Fatalf("expected 30s interval, got %s", cfg.GetCycleInterval())
	}
	if e.SecurityLevel != "strict" {
		t.Fatalf("expected strict, got %q", e.SecurityLevel)
	}
	if e.Engine.MaxSuggestions != 4 || e.Engine.MinConfidence != 75 {
		t.Fatalf("engine values wrong: %+v", e.Engine)
	}
	if e.Engine.Thresholds.FragmentationRatio != 0.8 {
		t.Fatalf("expected 0.8 fragmentation threshold, got %v", e.Engine.Thresholds.FragmentationRatio)
	}
	// Unset sibling thresholds still get their defaults.
	if e.Engine.Thresholds.AverageWaitMs != 100 {
		t.Fatalf("expected default wait threshold, got %v", e.Engine.Thresholds.AverageWaitMs)
	}
}

func TestLoadConfig_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("EVOCORE_TEST_LEVEL", "permissive")
	path := writeConfig(t, `
evolution:
  name: env-driven
  security_level: ${EVOCORE_TEST_LEVEL}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Evolution.SecurityLevel != "permissive" {
		t.Fatalf("expected expanded level, got %q", cfg.Evolution.SecurityLevel)
	}
}

func TestLoadConfig_UnsetEnvVarLeftVerbatim(t *testing.T) {
	path := writeConfig(t, `
evolution:
  name: env-missing
  description: ${EVOCORE_UNSET_VAR}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Evolution.Description != "${EVOCORE_UNSET_VAR}" {
		t.Fatalf("expected unresolved placeholder to stay, got %q", cfg.Evolution.Description)
	}
}

func TestLoadConfigWithContent_ReturnsOriginal(t *testing.T) {
	t.Setenv("EVOCORE_TEST_NAME", "expanded")
	content := `
evolution:
  name: ${EVOCORE_TEST_NAME}
`
	path := writeConfig(t, content)

	cfg, original, err := LoadConfigWithContent(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Evolution.Name != "expanded" {
		t.Fatalf("expected expanded name, got %q", cfg.Evolution.Name)
	}
	// The audit copy keeps the raw file, secrets unexpanded.
	if original != content {
		t.Fatalf("expected verbatim original content, got %q", original)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing name", `
evolution:
  description: nameless
`},
		{"unknown security level", `
evolution:
  name: bad
  security_level: reckless
`},
		{"confidence out of range", `
evolution:
  name: bad
  engine:
    min_confidence: 101
`},
		{"fragmentation threshold out of range", `
evolution:
  name: bad
  engine:
    thresholds:
      fragmentation_ratio: 1.5
`},
		{"telemetry enabled without database", `
evolution:
  name: bad
  telemetry:
    enabled: true
`},
		{"malformed yaml", "evolution: [\n"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeConfig(t, c.content)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected error for %s", c.name)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
