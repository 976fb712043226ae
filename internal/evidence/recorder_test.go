package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func TestRecorder_Finalize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

	r := NewRecorder(dir, fixedClock{now}, zap.NewNop())
	require.NotEmpty(t, r.RunID())

	r.RecordEvent(StageAPIConsumption, true, map[string]any{"products_fetched": 20})
	r.RecordEvent(StageCloudUpload, false, map[string]any{"reason": "auth_failed"})

	backup := filepath.Join(dir, "Productos_2025-03-14.json")
	require.NoError(t, os.WriteFile(backup, []byte(`{"total_products":20}`), 0o600))
	r.RecordFile(OpJSONBackup, backup, true, nil)
	r.RecordFile(OpExcelReport, filepath.Join(dir, "missing.xlsx"), false, nil)

	stats := RunStats{ProductsProcessed: 20, StepsCompleted: 6, FilesGenerated: []string{backup}}
	path, err := r.Finalize(stats)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "evidencia_2025-03-14_10-30-00.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Version         string       `json:"evidence_version"`
		RunID           string       `json:"run_id"`
		StartedAt       time.Time    `json:"started_at"`
		FinishedAt      time.Time    `json:"finished_at"`
		DurationSeconds float64      `json:"duration_seconds"`
		Stats           RunStats     `json:"stats"`
		Events          []Event      `json:"events"`
		Files           []FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	require.Equal(t, "1.0", doc.Version)
	require.Equal(t, r.RunID(), doc.RunID)
	require.Equal(t, 20, doc.Stats.ProductsProcessed)
	require.Equal(t, 6, doc.Stats.StepsCompleted)
	// The document lists itself as the last generated file.
	require.Equal(t, []string{backup, path}, doc.Stats.FilesGenerated)
	require.Zero(t, doc.DurationSeconds)

	require.Len(t, doc.Events, 2)
	require.Equal(t, StageAPIConsumption, doc.Events[0].Stage)
	require.True(t, doc.Events[0].Success)
	require.Equal(t, "auth_failed", doc.Events[1].Metadata["reason"])

	require.Len(t, doc.Files, 2)
	require.True(t, doc.Files[0].Exists)
	require.NotNil(t, doc.Files[0].FileSize)
	require.Equal(t, int64(len(`{"total_products":20}`)), *doc.Files[0].FileSize)
	require.False(t, doc.Files[1].Exists)
	require.Nil(t, doc.Files[1].FileSize)
}

func TestRecorder_CollectsUnrecordedScreenshots(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Now()
	r := NewRecorder(dir, fixedClock{now}, zap.NewNop())

	recorded := filepath.Join(dir, "formulario_inicial.png")
	stray := filepath.Join(dir, "formulario_confirmacion.png")
	require.NoError(t, os.WriteFile(recorded, []byte("png"), 0o600))
	require.NoError(t, os.WriteFile(stray, []byte("png"), 0o600))

	r.RecordFile(OpScreenshot, recorded, true, nil)

	path, err := r.Finalize(RunStats{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		Files []FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	// The stray screenshot is swept in exactly once.
	require.Len(t, doc.Files, 2)
	paths := []string{doc.Files[0].Filepath, doc.Files[1].Filepath}
	require.Contains(t, paths, stray)
}

func TestRecorder_EmptyRunStillWritesDocument(t *testing.T) {
	t.Parallel()
	r := NewRecorder(t.TempDir(), fixedClock{time.Now()}, zap.NewNop())

	path, err := r.Finalize(RunStats{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	// Collections serialize as empty arrays, not null.
	require.Equal(t, []any{}, doc["events"])
	require.Equal(t, []any{}, doc["files"])
}
