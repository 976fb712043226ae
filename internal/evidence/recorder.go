// Package evidence collects a structured audit trail of a pipeline run and
// writes it out as a single JSON document.
package evidence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
)

const documentVersion = "1.0"

// Stage names used in evidence events.
const (
	StageAPIConsumption = "API_CONSUMPTION"
	StageDatabaseInsert = "DATABASE_INSERT"
	StageCloudUpload    = "CLOUD_UPLOAD"
	StageWebForm        = "WEB_FORM"
)

// File operation names used in file records.
const (
	OpJSONBackup  = "JSON_BACKUP"
	OpExcelReport = "EXCEL_REPORT"
	OpScreenshot  = "SCREENSHOT"
	OpEvidenceDoc = "EVIDENCE_DOC"
)

// Event records one pipeline stage outcome.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Stage     string         `json:"stage"`
	Success   bool           `json:"success"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// FileRecord records one file the run produced or observed.
type FileRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Filepath  string         `json:"filepath"`
	Exists    bool           `json:"exists"`
	FileSize  *int64         `json:"file_size"`
	Success   bool           `json:"success"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RunStats summarizes the run for the document header. FilesGenerated lists
// the paths of every artifact the run produced, in creation order.
type RunStats struct {
	ProductsProcessed int      `json:"products_processed"`
	StepsCompleted    int      `json:"steps_completed"`
	FilesGenerated    []string `json:"files_generated"`
}

type document struct {
	Version         string       `json:"evidence_version"`
	RunID           string       `json:"run_id"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
	DurationSeconds float64      `json:"duration_seconds"`
	Stats           RunStats     `json:"stats"`
	Events          []Event      `json:"events"`
	Files           []FileRecord `json:"files"`
}

// Recorder accumulates events and file records for one run. It is not safe
// for concurrent use; the pipeline records sequentially.
type Recorder struct {
	dir      string
	runID    string
	started  time.Time
	events   []Event
	files    []FileRecord
	recorded map[string]bool
	clock    clock.Clock
	logger   *zap.Logger
}

// NewRecorder starts a recorder for a run, assigning it a fresh run id.
func NewRecorder(dir string, clk clock.Clock, logger *zap.Logger) *Recorder {
	return &Recorder{
		dir:      dir,
		runID:    uuid.NewString(),
		started:  clk.Now(),
		recorded: make(map[string]bool),
		clock:    clk,
		logger:   logger,
	}
}

// RunID returns the identifier assigned to this run.
func (r *Recorder) RunID() string { return r.runID }

// RecordEvent appends a stage outcome.
func (r *Recorder) RecordEvent(stage string, success bool, metadata map[string]any) {
	r.events = append(r.events, Event{
		Timestamp: r.clock.Now(),
		Stage:     stage,
		Success:   success,
		Metadata:  metadata,
	})
	r.logger.Debug("evidence event recorded",
		zap.String("stage", stage),
		zap.Bool("success", success))
}

// RecordFile appends a file record, capturing existence and size at call
// time so the document reflects the state when the stage finished.
func (r *Recorder) RecordFile(operation, path string, success bool, extra map[string]any) {
	record := FileRecord{
		Timestamp: r.clock.Now(),
		Operation: operation,
		Filepath:  path,
		Success:   success,
		Extra:     extra,
	}
	if info, err := os.Stat(path); err == nil {
		record.Exists = true
		size := info.Size()
		record.FileSize = &size
	}
	r.files = append(r.files, record)
	r.recorded[filepath.Clean(path)] = true
}

// Finalize sweeps the evidence directory for screenshots nobody recorded,
// then writes the document as evidencia_<timestamp>.json and returns its path.
func (r *Recorder) Finalize(stats RunStats) (string, error) {
	r.collectScreenshots()

	now := r.clock.Now()
	path := filepath.Join(r.dir, fmt.Sprintf("evidencia_%s.json", now.Format("2006-01-02_15-04-05")))
	stats.FilesGenerated = append(stats.FilesGenerated, path)

	doc := document{
		Version:         documentVersion,
		RunID:           r.runID,
		StartedAt:       r.started,
		FinishedAt:      now,
		DurationSeconds: now.Sub(r.started).Seconds(),
		Stats:           stats,
		Events:          r.events,
		Files:           r.files,
	}
	if doc.Events == nil {
		doc.Events = []Event{}
	}
	if doc.Files == nil {
		doc.Files = []FileRecord{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal evidence document: %w", err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create evidence directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence document: %w", err)
	}

	r.logger.Info("evidence document written",
		zap.String("path", path),
		zap.Int("events", len(doc.Events)),
		zap.Int("files", len(doc.Files)))
	return path, nil
}

func (r *Recorder) collectScreenshots() {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.png"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if r.recorded[filepath.Clean(path)] {
			continue
		}
		r.RecordFile(OpScreenshot, path, true, nil)
	}
}
