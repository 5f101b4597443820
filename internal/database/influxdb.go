package database

import (
	"context"
	"fmt"
	"time"

	"evocore/internal/config"
	"evocore/internal/evolution"
	"evocore/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"
)

// InfluxDBClient exports per-cycle telemetry. It implements
// evolution.Reporter; a nil client disables reporting entirely.
type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

func NewInfluxDBClient(config config.DatabaseConfig) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}

	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPIBlocking(config.Org, config.Name)

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: writeAPI,
		bucket:   config.Name,
		org:      config.Org,
	}, nil
}

// ReportCycle writes one point per completed optimization cycle plus the
// current per-domain model accuracies.
func (idb *InfluxDBClient) ReportCycle(report evolution.CycleReport) error {
	ctx := context.Background()

	fields := map[string]interface{}{
		"suggestions":      report.Suggestions,
		"synthesized":      report.Synthesized,
		"admitted":         report.Admitted,
		"denied":           report.Denied,
		"applied":          report.Applied,
		"deferred":         report.Deferred,
		"duration_seconds": report.End.Sub(report.Start).Seconds(),
	}
	for domain, accuracy := range report.ModelAccuracy {
		fields["accuracy_"+domain] = accuracy
	}

	point := influxdb2.NewPoint("evolution_cycle",
		map[string]string{
			"run_id": report.RunID,
			"cycle":  fmt.Sprintf("%d", report.Cycle),
		},
		fields,
		report.End)

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write cycle point: %w", err)
	}

	return nil
}

func (idb *InfluxDBClient) Close() {
	if idb.client != nil {
		idb.client.Close()
	}
}
