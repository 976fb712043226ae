package webform

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSubmittedToday(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Date(2025, 3, 14, 18, 0, 0, 0, time.Local)

	s := NewSubmitter(config.FormConfig{}, dir, t.TempDir(), fixedClock{now}, zap.NewNop())

	// No screenshot at all.
	require.False(t, s.SubmittedToday())

	// Screenshot from earlier the same day.
	shot := filepath.Join(dir, confirmationShot)
	touch(t, shot, now.Add(-6*time.Hour))
	require.True(t, s.SubmittedToday())

	// Same file, but the clock moved to the next day.
	next := NewSubmitter(config.FormConfig{}, dir, t.TempDir(),
		fixedClock{now.Add(24 * time.Hour)}, zap.NewNop())
	require.False(t, next.SubmittedToday())
}

func TestSubmit_SkipsDuplicateWithoutBrowser(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	now := time.Now()
	touch(t, filepath.Join(dir, confirmationShot), now)

	cfg := config.FormConfig{Enabled: true, URL: "http://localhost:1", TimeoutSeconds: 1}
	s := NewSubmitter(cfg, dir, t.TempDir(), fixedClock{now}, zap.NewNop())

	outcome, err := s.Submit(context.Background())
	require.NoError(t, err)
	require.False(t, outcome.Submitted)
	require.Equal(t, ModeSkippedDup, outcome.Mode)
	require.Empty(t, outcome.Screenshots)
}

func TestAttachmentPath(t *testing.T) {
	t.Parallel()
	evidenceDir := t.TempDir()
	reportsDir := t.TempDir()
	now := time.Now()

	older := filepath.Join(reportsDir, "Reporte_2025-03-13.xlsx")
	newer := filepath.Join(reportsDir, "Reporte_2025-03-14.xlsx")
	touch(t, older, now.Add(-24*time.Hour))
	touch(t, newer, now)
	touch(t, filepath.Join(evidenceDir, "formulario_revision.png"), now)

	report := NewSubmitter(config.FormConfig{AttachSource: "report"},
		evidenceDir, reportsDir, fixedClock{now}, zap.NewNop())
	path, err := report.attachmentPath()
	require.NoError(t, err)
	require.Equal(t, newer, path)

	shot := NewSubmitter(config.FormConfig{AttachSource: "screenshot"},
		evidenceDir, reportsDir, fixedClock{now}, zap.NewNop())
	path, err = shot.attachmentPath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(evidenceDir, "formulario_revision.png"), path)
}

func TestResolveAttachment(t *testing.T) {
	t.Parallel()
	reportsDir := t.TempDir()
	now := time.Now()
	report := filepath.Join(reportsDir, "Reporte_2025-03-14.xlsx")
	touch(t, report, now)

	// The attach source is honored whether or not the upload is required.
	optional := NewSubmitter(config.FormConfig{AttachSource: "report"},
		t.TempDir(), reportsDir, fixedClock{now}, zap.NewNop())
	path, err := optional.resolveAttachment()
	require.NoError(t, err)
	require.Equal(t, report, path)

	// Nothing to attach: tolerated when optional, fatal when required.
	empty := NewSubmitter(config.FormConfig{AttachSource: "report"},
		t.TempDir(), t.TempDir(), fixedClock{now}, zap.NewNop())
	path, err = empty.resolveAttachment()
	require.NoError(t, err)
	require.Empty(t, path)

	required := NewSubmitter(config.FormConfig{AttachSource: "report", RequireFileUpload: true},
		t.TempDir(), t.TempDir(), fixedClock{now}, zap.NewNop())
	_, err = required.resolveAttachment()
	require.Error(t, err)
}

func TestAttachmentPath_NoCandidates(t *testing.T) {
	t.Parallel()
	s := NewSubmitter(config.FormConfig{AttachSource: "report"},
		t.TempDir(), t.TempDir(), fixedClock{time.Now()}, zap.NewNop())
	_, err := s.attachmentPath()
	require.Error(t, err)
}

func TestSubmitterRetry_NeverReplaysAmbiguousSubmit(t *testing.T) {
	t.Parallel()
	s := NewSubmitter(config.FormConfig{}, t.TempDir(), t.TempDir(),
		fixedClock{time.Now()}, zap.NewNop())

	require.False(t, s.policy.Retryable(ErrNoConfirmation))
	require.True(t, s.policy.Retryable(context.DeadlineExceeded))
}
