package database

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"evocore/internal/engine"
	"evocore/internal/evolution"
)

func TestWriteSpoolArtifact_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	artifact := &SpoolArtifact{
		Version:       1,
		CreatedAt:     time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
		RunID:         "run-123",
		Name:          "roundtrip",
		ConfigContent: "evolution:\n  name: roundtrip\n",
		Status:        evolution.Status{Enabled: true, State: "idle", OptimizationCount: 3},
		History: []engine.HistoryEntry{
			{SuggestionID: 1, PatchID: 1, ActualImprovement: 0.4},
		},
	}

	path, err := WriteSpoolArtifact(dir, artifact)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.HasSuffix(path, "evolution_20260823T120000Z_run-123.json.gz") {
		t.Fatalf("unexpected artifact path %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip open failed: %v", err)
	}
	var got SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if got.RunID != "run-123" || got.Name != "roundtrip" {
		t.Fatalf("identity fields lost: %+v", got)
	}
	if got.Status.OptimizationCount != 3 || got.Status.State != "idle" {
		t.Fatalf("status lost: %+v", got.Status)
	}
	if len(got.History) != 1 || got.History[0].ActualImprovement != 0.4 {
		t.Fatalf("history lost: %+v", got.History)
	}
	if got.ConfigContent != artifact.ConfigContent {
		t.Fatal("config content lost")
	}
}

func TestWriteSpoolArtifact_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	artifact := &SpoolArtifact{Version: 1, CreatedAt: time.Now(), RunID: "clean"}

	if _, err := WriteSpoolArtifact(dir, artifact); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one artifact file, got %d", len(entries))
	}
	if strings.Contains(entries[0].Name(), ".tmp.") {
		t.Fatalf("temp file leaked: %s", entries[0].Name())
	}
}

func TestWriteSpoolArtifact_NilRejected(t *testing.T) {
	if _, err := WriteSpoolArtifact(t.TempDir(), nil); err == nil {
		t.Fatal("expected error for nil artifact")
	}
}

func TestDefaultSpoolDir_EnvOverride(t *testing.T) {
	t.Setenv("EVOCORE_SPOOL_DIR", "/var/spool/evocore")
	if got := DefaultSpoolDir(); got != "/var/spool/evocore" {
		t.Fatalf("expected env override, got %q", got)
	}
	t.Setenv("EVOCORE_SPOOL_DIR", "")
	if got := DefaultSpoolDir(); got != "spool" {
		t.Fatalf("expected default dir, got %q", got)
	}
}
