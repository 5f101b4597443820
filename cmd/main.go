package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"evocore/internal/config"
	"evocore/internal/database"
	"evocore/internal/engine"
	"evocore/internal/evolution"
	"evocore/internal/logging"
	"evocore/internal/metrics"
	"evocore/internal/models"
	"evocore/internal/rollback"
	"evocore/internal/security"
	"evocore/internal/target"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
	} else {
		// Try to load from the application directory
		if execPath, err := os.Executable(); err == nil {
			appDir := filepath.Dir(execPath)
			envFile = filepath.Join(appDir, ".env")
			if _, err := os.Stat(envFile); err == nil {
				if err := godotenv.Load(envFile); err != nil {
					logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
				} else {
					logger.WithField("file", envFile).Debug("Loaded environment variables")
				}
			}
		}
	}
}

func validateEnvironment() error {
	logger := logging.GetLogger()

	requiredVars := []string{
		"INFLUXDB_HOST",
		"INFLUXDB_TOKEN",
		"INFLUXDB_ORG",
		"INFLUXDB_BUCKET",
	}

	var missing []string
	for _, varName := range requiredVars {
		if os.Getenv(varName) == "" {
			missing = append(missing, varName)
		}
	}

	if len(missing) > 0 {
		logger.WithField("missing_vars", missing).Error("Missing required environment variables")
		return fmt.Errorf("missing required environment variables: %v. Please ensure your .env file contains these variables", missing)
	}

	logger.Debug("All required environment variables are present")
	return nil
}

// core bundles the wired components of one evolution run.
type core struct {
	cfg           *config.EvolutionConfig
	configContent string
	runID         string
	controller    *evolution.Controller
	dbClient      *database.InfluxDBClient
	startTime     time.Time
}

func buildCore(configFile string) (*core, error) {
	logger := logging.GetLogger()

	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		return nil, err
	}

	if cfg.Evolution.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.Evolution.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		if err := logging.SetEvolutionLogLevel(cfg.Evolution.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	level, err := security.ParseLevel(cfg.Evolution.SecurityLevel)
	if err != nil {
		return nil, err
	}

	var dbClient *database.InfluxDBClient
	var reporter evolution.Reporter
	if cfg.Evolution.Telemetry.Enabled {
		if err := validateEnvironment(); err != nil {
			return nil, err
		}
		dbClient, err = database.NewInfluxDBClient(cfg.Evolution.Telemetry.DB)
		if err != nil {
			return nil, err
		}
		reporter = dbClient
	}

	registry := models.NewRegistry()
	store := target.NewStore()
	secManager := security.NewManager(level)

	engineCfg := engine.Config{
		MaxSuggestions: cfg.Evolution.Engine.MaxSuggestions,
		MinConfidence:  cfg.Evolution.Engine.MinConfidence,
		Thresholds: engine.Thresholds{
			FragmentationRatio: cfg.Evolution.Engine.Thresholds.FragmentationRatio,
			AverageWaitMs:      cfg.Evolution.Engine.Thresholds.AverageWaitMs,
			IOOperations:       cfg.Evolution.Engine.Thresholds.IOOperations,
			CPUUtilization:     cfg.Evolution.Engine.Thresholds.CPUUtilization,
		},
	}

	eng := engine.New(
		engineCfg,
		metrics.NewHostMemoryProvider(),
		metrics.NewHostSchedulerProvider(),
		metrics.NewHostIOProvider(),
		store,
		registry,
	)

	history := engine.NewHistory(cfg.Evolution.Engine.HistoryCapacity)
	rbManager := rollback.NewManagerWithCapacity(store, cfg.Evolution.Rollback.Capacity)
	runID := uuid.NewString()

	controller := evolution.NewController(eng, secManager, rbManager, store, history, registry, reporter, runID)

	logger.WithFields(logrus.Fields{
		"name":           cfg.Evolution.Name,
		"run_id":         runID,
		"security_level": level.String(),
		"cycle_interval": cfg.GetCycleInterval().String(),
	}).Info("Evolution core initialized")

	return &core{
		cfg:           cfg,
		configContent: content,
		runID:         runID,
		controller:    controller,
		dbClient:      dbClient,
		startTime:     time.Now(),
	}, nil
}

func (c *core) shutdown() {
	logger := logging.GetLogger()

	artifact := database.BuildSpoolArtifact(
		c.runID,
		c.cfg.Evolution.Name,
		c.configContent,
		c.controller,
		c.startTime,
		time.Now(),
	)
	spoolDir := c.cfg.Evolution.Audit.SpoolDir
	if path, err := database.WriteSpoolArtifact(spoolDir, artifact); err != nil {
		logger.WithError(err).Warn("Failed to write audit artifact")
	} else {
		logger.WithField("path", path).Info("Audit artifact written")
	}

	if c.dbClient != nil {
		c.dbClient.Close()
	}
}

func runEvolution(configFile string) error {
	logger := logging.GetLogger()

	c, err := buildCore(configFile)
	if err != nil {
		return err
	}
	defer c.shutdown()

	// Enabling triggers the first cycle immediately.
	if err := c.controller.Enable(true); err != nil {
		return err
	}

	ticker := time.NewTicker(c.cfg.GetCycleInterval())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := c.controller.RunCycle(); err != nil {
				switch err {
				case evolution.ErrCycleInProgress:
					logger.Warn("Previous cycle still running, skipping tick")
				case evolution.ErrDisabled:
					logger.Info("Evolution disabled, stopping loop")
					return nil
				default:
					logger.WithError(err).Error("Optimization cycle failed")
				}
			}
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("Shutting down")
			c.controller.Enable(false)
			return nil
		}
	}
}

func runSingleCycle(configFile string) error {
	c, err := buildCore(configFile)
	if err != nil {
		return err
	}
	defer c.shutdown()

	return c.controller.Enable(true)
}

func validateConfigFile(configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"name":           cfg.Evolution.Name,
		"security_level": cfg.Evolution.SecurityLevel,
		"cycle_interval": cfg.GetCycleInterval().String(),
	}).Info("Configuration is valid")
	return nil
}

// Execute wires the cobra command tree and runs it.
func Execute() error {
	loadEnvironment()

	var configFile string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "evocore",
		Short: "Self-modifying runtime optimization core",
		Long:  "A closed-loop daemon that observes system performance, synthesizes behavioral patches, verifies them against a security policy, applies them, and learns from outcomes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				if err := logging.SetEvolutionLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the evolution loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvolution(configFile)
		},
	}

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single optimization cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingleCycle(configFile)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate an evolution configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfigFile(configFile)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to evolution configuration file")
	runCmd.MarkFlagRequired("config")

	cycleCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to evolution configuration file")
	cycleCmd.MarkFlagRequired("config")

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to evolution configuration file")
	validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd.Execute()
}
