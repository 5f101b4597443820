package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"evocore/internal/logging"

	"gopkg.in/yaml.v3"
)

func LoadConfig(filepath string) (*EvolutionConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*EvolutionConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	var config EvolutionConfig
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return &config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *EvolutionConfig) {
	e := &config.Evolution

	if e.CycleInterval <= 0 {
		e.CycleInterval = 10
	}
	if e.SecurityLevel == "" {
		e.SecurityLevel = "standard"
	}
	if e.Engine.MaxSuggestions <= 0 {
		e.Engine.MaxSuggestions = 10
	}
	if e.Engine.MinConfidence == 0 {
		e.Engine.MinConfidence = 60
	}
	if e.Engine.HistoryCapacity <= 0 {
		e.Engine.HistoryCapacity = 100
	}
	if e.Rollback.Capacity <= 0 {
		e.Rollback.Capacity = 100
	}

	t := &e.Engine.Thresholds
	if t.FragmentationRatio == 0 {
		t.FragmentationRatio = 0.5
	}
	if t.AverageWaitMs == 0 {
		t.AverageWaitMs = 100
	}
	if t.IOOperations == 0 {
		t.IOOperations = 1000
	}
	if t.CPUUtilization == 0 {
		t.CPUUtilization = 0.5
	}
}

func validateConfig(config *EvolutionConfig) error {
	e := &config.Evolution

	if e.Name == "" {
		return fmt.Errorf("evolution name is required")
	}

	switch e.SecurityLevel {
	case "permissive", "standard", "strict", "paranoid":
	default:
		return fmt.Errorf("unknown security level %q", e.SecurityLevel)
	}

	if e.Engine.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be within [0, 100]")
	}

	t := e.Engine.Thresholds
	if t.FragmentationRatio < 0 || t.FragmentationRatio > 1 {
		return fmt.Errorf("fragmentation_ratio threshold must be within [0, 1]")
	}
	if t.CPUUtilization < 0 || t.CPUUtilization > 1 {
		return fmt.Errorf("cpu_utilization threshold must be within [0, 1]")
	}
	if t.AverageWaitMs < 0 {
		return fmt.Errorf("average_wait_ms threshold must not be negative")
	}

	if e.Telemetry.Enabled {
		db := e.Telemetry.DB
		if db.Host == "" || db.Name == "" || db.Org == "" || db.Password == "" {
			return fmt.Errorf("incomplete database configuration")
		}
	}

	return nil
}
