package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
	"github.com/figueredoestupinan2025/rpa-productos/internal/evidence"
	"github.com/figueredoestupinan2025/rpa-productos/internal/store"
	"github.com/figueredoestupinan2025/rpa-productos/internal/webform"
)

type fakeCatalog struct {
	products []catalog.Product
	backup   string
	err      error
	calls    int
}

func (f *fakeCatalog) FetchProducts(context.Context) ([]catalog.Product, string, error) {
	f.calls++
	return f.products, f.backup, f.err
}

type fakeStore struct {
	inserted  []catalog.Product
	insertErr error
}

func (f *fakeStore) InsertProducts(_ context.Context, products []catalog.Product) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.inserted = append(f.inserted, products...)
	return len(products), nil
}

func (f *fakeStore) Products(context.Context) ([]catalog.Product, error) {
	return f.inserted, nil
}

func (f *fakeStore) Stats(context.Context) (store.Statistics, error) {
	return store.Statistics{TotalProducts: len(f.inserted)}, nil
}

type fakeReporter struct {
	path  string
	err   error
	calls int
}

func (f *fakeReporter) Generate([]catalog.Product, store.Statistics) (string, error) {
	f.calls++
	return f.path, f.err
}

type fakeUploader struct {
	authOK    bool
	authCalls int
	backups   []string
	reports   []string
	evidences []string
}

func (f *fakeUploader) Authenticate(context.Context) bool {
	f.authCalls++
	return f.authOK
}

func (f *fakeUploader) UploadBackup(_ context.Context, path string) bool {
	f.backups = append(f.backups, path)
	return true
}

func (f *fakeUploader) UploadReport(_ context.Context, path string) bool {
	f.reports = append(f.reports, path)
	return true
}

func (f *fakeUploader) UploadEvidence(_ context.Context, path string) bool {
	f.evidences = append(f.evidences, path)
	return true
}

type fakeForm struct {
	submittedToday bool
	outcome        webform.Outcome
	err            error
	submitCalls    int
}

func (f *fakeForm) SubmittedToday() bool { return f.submittedToday }

func (f *fakeForm) Submit(context.Context) (webform.Outcome, error) {
	f.submitCalls++
	return f.outcome, f.err
}

type fixture struct {
	cfg      *config.Config
	api      *fakeCatalog
	store    *fakeStore
	reporter *fakeReporter
	uploader *fakeUploader
	form     *fakeForm
	pipeline *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		API: config.APIConfig{BaseURL: "http://test-api"},
		Dirs: config.DirsConfig{
			Evidence: t.TempDir(),
			Reports:  t.TempDir(),
		},
	}
	f := &fixture{
		cfg: cfg,
		api: &fakeCatalog{
			products: []catalog.Product{
				{ID: 1, Title: "Mochila", Price: 10, Category: "bags"},
				{ID: 2, Title: "Camiseta", Price: 20, Category: "ropa"},
			},
			backup: filepath.Join(t.TempDir(), "Productos_2025-03-14.json"),
		},
		store:    &fakeStore{},
		reporter: &fakeReporter{path: filepath.Join(t.TempDir(), "Reporte_2025-03-14.xlsx")},
		uploader: &fakeUploader{authOK: true},
		form:     &fakeForm{outcome: webform.Outcome{Submitted: true, Mode: webform.ModeSubmitted}},
	}
	f.pipeline = New(cfg, f.api, f.store, f.reporter, f.uploader, f.form, clock.System{}, zap.NewNop())
	return f
}

// readEvidence loads the single evidence document the run produced.
func readEvidence(t *testing.T, dir string) (events []evidence.Event, files []evidence.FileRecord) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "evidencia_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var doc struct {
		Events []evidence.Event      `json:"events"`
		Files  []evidence.FileRecord `json:"files"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.Events, doc.Files
}

func readStats(t *testing.T, dir string) evidence.RunStats {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "evidencia_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var doc struct {
		Stats evidence.RunStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc.Stats
}

func eventFor(t *testing.T, events []evidence.Event, stage string) evidence.Event {
	t.Helper()
	for _, ev := range events {
		if ev.Stage == stage {
			return ev
		}
	}
	t.Fatalf("no event for stage %s", stage)
	return evidence.Event{}
}

func allSteps(t *testing.T) []int {
	t.Helper()
	steps, err := ParseSteps("")
	require.NoError(t, err)
	return steps
}

func TestParseSteps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "", want: []int{1, 2, 3, 4, 5, 6}},
		{in: "all", want: []int{1, 2, 3, 4, 5, 6}},
		{in: "1,2,3", want: []int{1, 2, 3}},
		{in: "123", want: []int{1, 2, 3}},
		{in: "3,1,1", want: []int{1, 3}},
		{in: "1 3 5", want: []int{1, 3, 5}},
		{in: "2;4", want: []int{2, 4}},
		{in: "0", wantErr: true},
		{in: "7", wantErr: true},
		{in: "1,a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSteps(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRun_AllStages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	require.Equal(t, 1, f.api.calls)
	require.Len(t, f.store.inserted, 2)
	require.Equal(t, 1, f.reporter.calls)

	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	require.True(t, eventFor(t, events, evidence.StageAPIConsumption).Success)
	insert := eventFor(t, events, evidence.StageDatabaseInsert)
	require.True(t, insert.Success)
	require.EqualValues(t, 2, insert.Metadata["inserted"])

	// The stats list the generated artifacts by path, ending with the
	// evidence document itself.
	stats := readStats(t, f.cfg.Dirs.Evidence)
	require.Equal(t, 2, stats.ProductsProcessed)
	require.Len(t, stats.FilesGenerated, 3)
	require.Equal(t, f.api.backup, stats.FilesGenerated[0])
	require.Equal(t, f.reporter.path, stats.FilesGenerated[1])
	require.Contains(t, stats.FilesGenerated[2], "evidencia_")
}

func TestRun_CloudDisabledIsRecordedAndSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	require.Zero(t, f.uploader.authCalls)
	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	ev := eventFor(t, events, evidence.StageCloudUpload)
	require.True(t, ev.Success)
	require.Equal(t, "disabled", ev.Metadata["reason"])
}

func TestRun_CloudEnabledUploadsArtifacts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Cloud = config.CloudConfig{
		Enabled: true, ClientID: "id", ClientSecret: "secret", TenantID: "tenant",
	}

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	require.Equal(t, 1, f.uploader.authCalls)
	require.Equal(t, []string{f.api.backup}, f.uploader.backups)
	require.Equal(t, []string{f.reporter.path}, f.uploader.reports)
	require.Len(t, f.uploader.evidences, 1)
}

func TestRun_CloudAuthFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Cloud = config.CloudConfig{
		Enabled: true, ClientID: "id", ClientSecret: "secret", TenantID: "tenant",
	}
	f.uploader.authOK = false

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	require.Empty(t, f.uploader.backups)
	require.Empty(t, f.uploader.evidences)
	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	ev := eventFor(t, events, evidence.StageCloudUpload)
	require.False(t, ev.Success)
	require.Equal(t, "auth_failed", ev.Metadata["reason"])
}

func TestRun_CloudNotConfigured(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Cloud = config.CloudConfig{Enabled: true}

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	require.Zero(t, f.uploader.authCalls)
	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	require.Equal(t, "not_configured", eventFor(t, events, evidence.StageCloudUpload).Metadata["reason"])
}

func TestRun_FormSkippedWhenAlreadySubmitted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Form = config.FormConfig{Enabled: true, URL: "http://localhost:8780"}
	f.form.submittedToday = true

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	require.Zero(t, f.form.submitCalls)
	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	ev := eventFor(t, events, evidence.StageWebForm)
	require.True(t, ev.Success)
	require.Equal(t, webform.ModeSkippedDup, ev.Metadata["mode"])
}

func TestRun_FormFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Form = config.FormConfig{Enabled: true, URL: "http://localhost:8780"}
	f.form.outcome = webform.Outcome{Mode: webform.ModeNoConfirmation}
	f.form.err = webform.ErrNoConfirmation

	require.NoError(t, f.pipeline.Run(context.Background(), allSteps(t)))

	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	ev := eventFor(t, events, evidence.StageWebForm)
	require.False(t, ev.Success)
	require.Equal(t, webform.ModeNoConfirmation, ev.Metadata["mode"])
}

func TestRun_FetchFailureAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.api.err = errors.New("api unreachable")

	err := f.pipeline.Run(context.Background(), allSteps(t))
	require.Error(t, err)

	// Later stages never ran, but the evidence document still exists.
	require.Zero(t, f.reporter.calls)
	events, _ := readEvidence(t, f.cfg.Dirs.Evidence)
	require.False(t, eventFor(t, events, evidence.StageAPIConsumption).Success)
}

func TestRun_InsertFailureAborts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.insertErr = errors.New("disk full")

	err := f.pipeline.Run(context.Background(), allSteps(t))
	require.Error(t, err)
	require.Zero(t, f.reporter.calls)
}

func TestRun_InsertAloneSynthesizesFetch(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.pipeline.Run(context.Background(), []int{StepDatabase}))

	require.Equal(t, 1, f.api.calls)
	require.Len(t, f.store.inserted, 2)
}

func TestRun_UploadAloneFindsNewestReportOnDisk(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Cloud = config.CloudConfig{
		Enabled: true, ClientID: "id", ClientSecret: "secret", TenantID: "tenant",
	}

	older := filepath.Join(f.cfg.Dirs.Reports, "Reporte_2025-03-13.xlsx")
	newer := filepath.Join(f.cfg.Dirs.Reports, "Reporte_2025-03-14.xlsx")
	require.NoError(t, os.WriteFile(older, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(newer, []byte("x"), 0o600))

	require.NoError(t, f.pipeline.Run(context.Background(), []int{StepCloud}))

	require.Equal(t, []string{newer}, f.uploader.reports)
	require.Empty(t, f.uploader.backups) // no backup produced this run
	require.Zero(t, f.reporter.calls)    // existing report, nothing regenerated
}

func TestRun_UploadAloneRegeneratesMissingReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Cloud = config.CloudConfig{
		Enabled: true, ClientID: "id", ClientSecret: "secret", TenantID: "tenant",
	}

	// Empty reports dir: the upload stage must produce the report itself.
	require.NoError(t, f.pipeline.Run(context.Background(), []int{StepCloud}))

	require.Equal(t, 1, f.reporter.calls)
	require.Equal(t, []string{f.reporter.path}, f.uploader.reports)
}

func TestRun_FormAloneRegeneratesMissingReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Form = config.FormConfig{Enabled: true, URL: "http://localhost:8780", AttachSource: "report"}

	require.NoError(t, f.pipeline.Run(context.Background(), []int{StepForm}))

	require.Equal(t, 1, f.reporter.calls)
	require.Equal(t, 1, f.form.submitCalls)
}

func TestRun_FormWithScreenshotSourceSkipsReportSynthesis(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cfg.Form = config.FormConfig{Enabled: true, URL: "http://localhost:8780", AttachSource: "screenshot"}

	require.NoError(t, f.pipeline.Run(context.Background(), []int{StepForm}))

	require.Zero(t, f.reporter.calls)
	require.Equal(t, 1, f.form.submitCalls)
}

func TestRun_CancelledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.pipeline.Run(ctx, allSteps(t))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.api.calls)
}
