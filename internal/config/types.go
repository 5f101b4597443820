package config

import (
	"time"
)

type EvolutionConfig struct {
	Evolution EvolutionInfo `yaml:"evolution"`
}

type EvolutionInfo struct {
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description"`
	LogLevel      string          `yaml:"log_level"`
	CycleInterval int             `yaml:"cycle_interval"`
	SecurityLevel string          `yaml:"security_level"`
	Engine        EngineConfig    `yaml:"engine"`
	Rollback      RollbackConfig  `yaml:"rollback"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Audit         AuditConfig     `yaml:"audit"`
}

type EngineConfig struct {
	MaxSuggestions  int             `yaml:"max_suggestions"`
	MinConfidence   uint32          `yaml:"min_confidence"`
	HistoryCapacity int             `yaml:"history_capacity"`
	Thresholds      ThresholdConfig `yaml:"thresholds"`
}

type ThresholdConfig struct {
	FragmentationRatio float64 `yaml:"fragmentation_ratio"`
	AverageWaitMs      float64 `yaml:"average_wait_ms"`
	IOOperations       uint64  `yaml:"io_operations"`
	CPUUtilization     float64 `yaml:"cpu_utilization"`
}

type RollbackConfig struct {
	Capacity int `yaml:"capacity"`
}

type TelemetryConfig struct {
	Enabled bool           `yaml:"enabled"`
	DB      DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

type AuditConfig struct {
	SpoolDir string `yaml:"spool_dir"`
}

func (c *EvolutionConfig) GetCycleInterval() time.Duration {
	return time.Duration(c.Evolution.CycleInterval) * time.Second
}
