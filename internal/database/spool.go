package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"evocore/internal/engine"
	"evocore/internal/evolution"
	"evocore/internal/rollback"
)

// SpoolArtifact is the audit export of one evolution run: controller state,
// optimization history, and the rollback log window. It is written on
// shutdown and on demand, and never read back; persistence across restarts
// is not a goal of the core.
type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID string `json:"run_id"`
	Name  string `json:"name"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Status      evolution.Status      `json:"status"`
	History     []engine.HistoryEntry `json:"history"`
	RollbackLog []rollback.Entry      `json:"rollback_log"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("EVOCORE_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	runID := artifact.RunID
	if runID == "" {
		runID = "norun"
	}
	name := fmt.Sprintf(
		"evolution_%s_%s.json.gz",
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		runID,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// BuildSpoolArtifact constructs the audit artifact from the controller's
// deep-copied views.
func BuildSpoolArtifact(runID, name, configContent string, ctrl *evolution.Controller, startTime, endTime time.Time) *SpoolArtifact {
	return &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Now(),
		RunID:         runID,
		Name:          name,
		StartTime:     startTime,
		EndTime:       endTime,
		ConfigContent: configContent,
		Status:        ctrl.Status(),
		History:       ctrl.History(),
		RollbackLog:   ctrl.RollbackLog(),
	}
}
