// Package pipeline orchestrates the six processing stages of a run: catalog
// fetch, database persistence, spreadsheet report, cloud upload, web form
// submission and evidence generation.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
	"github.com/figueredoestupinan2025/rpa-productos/internal/evidence"
	"github.com/figueredoestupinan2025/rpa-productos/internal/store"
	"github.com/figueredoestupinan2025/rpa-productos/internal/webform"
)

// Stage numbers as exposed on the command line.
const (
	StepAPI = iota + 1
	StepDatabase
	StepReport
	StepCloud
	StepForm
	StepEvidence
	maxStep = StepEvidence
)

// CatalogClient fetches the remote product catalog.
type CatalogClient interface {
	FetchProducts(ctx context.Context) ([]catalog.Product, string, error)
}

// ProductStore persists and reads back products.
type ProductStore interface {
	InsertProducts(ctx context.Context, products []catalog.Product) (int, error)
	Products(ctx context.Context) ([]catalog.Product, error)
	Stats(ctx context.Context) (store.Statistics, error)
}

// ReportGenerator renders the spreadsheet report.
type ReportGenerator interface {
	Generate(products []catalog.Product, stats store.Statistics) (string, error)
}

// Uploader sends artifacts to cloud storage. All methods report success as a
// bool because the upload stage never aborts the run.
type Uploader interface {
	Authenticate(ctx context.Context) bool
	UploadBackup(ctx context.Context, path string) bool
	UploadReport(ctx context.Context, path string) bool
	UploadEvidence(ctx context.Context, path string) bool
}

// FormSubmitter automates the web form.
type FormSubmitter interface {
	SubmittedToday() bool
	Submit(ctx context.Context) (webform.Outcome, error)
}

// Pipeline wires the stage implementations together.
type Pipeline struct {
	cfg      *config.Config
	api      CatalogClient
	store    ProductStore
	reporter ReportGenerator
	uploader Uploader
	form     FormSubmitter
	clock    clock.Clock
	logger   *zap.Logger
}

// New builds a Pipeline from its stage implementations.
func New(cfg *config.Config, api CatalogClient, st ProductStore, reporter ReportGenerator,
	uploader Uploader, form FormSubmitter, clk clock.Clock, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		api:      api,
		store:    st,
		reporter: reporter,
		uploader: uploader,
		form:     form,
		clock:    clk,
		logger:   logger,
	}
}

// ParseSteps parses a step selection such as "1,2,3", "123" or "1 2 3" into
// a sorted, deduplicated list. Empty input or "all" selects every stage.
func ParseSteps(raw string) ([]int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		steps := make([]int, maxStep)
		for i := range steps {
			steps[i] = i + 1
		}
		return steps, nil
	}

	seen := make(map[int]bool)
	tokens := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	for _, token := range tokens {
		// A bare digit run like "135" selects each digit as a step.
		for _, r := range token {
			n, err := strconv.Atoi(string(r))
			if err != nil {
				return nil, fmt.Errorf("invalid step %q", token)
			}
			if n < 1 || n > maxStep {
				return nil, fmt.Errorf("step %d out of range 1-%d", n, maxStep)
			}
			seen[n] = true
		}
	}

	steps := make([]int, 0, len(seen))
	for n := range seen {
		steps = append(steps, n)
	}
	sort.Ints(steps)
	return steps, nil
}

// runState carries artifacts between stages within one run.
type runState struct {
	products   []catalog.Product
	backupPath string
	reportPath string
	inserted   int
	stats      evidence.RunStats
	authedOnce bool
	authOK     bool
}

// Run executes the selected stages in order. A failure in stages 1-3 aborts
// the run; failures in stages 4-5 are recorded and the run continues. The
// evidence document is written in every case.
func (p *Pipeline) Run(ctx context.Context, steps []int) error {
	recorder := evidence.NewRecorder(p.cfg.Dirs.Evidence, p.clock, p.logger)
	p.logger.Info("pipeline starting",
		zap.String("run_id", recorder.RunID()),
		zap.Ints("steps", steps))

	state := &runState{}
	var runErr error

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		var err error
		switch step {
		case StepAPI:
			err = p.runFetch(ctx, state, recorder)
		case StepDatabase:
			err = p.runInsert(ctx, state, recorder)
		case StepReport:
			err = p.runReport(ctx, state, recorder)
		case StepCloud:
			p.runUpload(ctx, state, recorder)
		case StepForm:
			p.runForm(ctx, state, recorder)
		case StepEvidence:
			// Handled by the finalize below so it also runs on abort.
		}
		if err != nil {
			runErr = fmt.Errorf("step %d: %w", step, err)
			break
		}
		state.stats.StepsCompleted++
	}

	evidencePath, err := recorder.Finalize(state.stats)
	if err != nil {
		p.logger.Error("evidence generation failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	} else if state.authOK {
		if p.uploader.UploadEvidence(ctx, evidencePath) {
			p.logger.Info("evidence uploaded", zap.String("path", evidencePath))
		}
	}

	if runErr != nil {
		p.logger.Error("pipeline finished with errors", zap.Error(runErr))
		return runErr
	}
	p.logger.Info("pipeline finished",
		zap.Int("products", state.stats.ProductsProcessed),
		zap.Int("steps_completed", state.stats.StepsCompleted),
		zap.Strings("files_generated", state.stats.FilesGenerated))
	return nil
}

func (p *Pipeline) runFetch(ctx context.Context, state *runState, rec *evidence.Recorder) error {
	products, backupPath, err := p.api.FetchProducts(ctx)
	if err != nil {
		rec.RecordEvent(evidence.StageAPIConsumption, false, map[string]any{"error": err.Error()})
		return err
	}

	state.products = products
	state.backupPath = backupPath
	state.stats.ProductsProcessed = len(products)
	state.stats.FilesGenerated = append(state.stats.FilesGenerated, backupPath)

	rec.RecordEvent(evidence.StageAPIConsumption, true, map[string]any{
		"products_fetched": len(products),
		"source":           p.cfg.API.BaseURL,
	})
	rec.RecordFile(evidence.OpJSONBackup, backupPath, true, nil)
	return nil
}

func (p *Pipeline) runInsert(ctx context.Context, state *runState, rec *evidence.Recorder) error {
	if state.products == nil {
		p.logger.Info("no products in memory, fetching before insert")
		if err := p.runFetch(ctx, state, rec); err != nil {
			return err
		}
	}

	inserted, err := p.store.InsertProducts(ctx, state.products)
	if err != nil {
		rec.RecordEvent(evidence.StageDatabaseInsert, false, map[string]any{"error": err.Error()})
		return err
	}

	state.inserted = inserted
	rec.RecordEvent(evidence.StageDatabaseInsert, true, map[string]any{
		"received": len(state.products),
		"inserted": inserted,
		"skipped":  len(state.products) - inserted,
	})
	return nil
}

func (p *Pipeline) runReport(ctx context.Context, state *runState, rec *evidence.Recorder) error {
	products, err := p.store.Products(ctx)
	if err != nil {
		return err
	}
	stats, err := p.store.Stats(ctx)
	if err != nil {
		return err
	}

	path, err := p.reporter.Generate(products, stats)
	if err != nil {
		rec.RecordFile(evidence.OpExcelReport, path, false, map[string]any{"error": err.Error()})
		return err
	}

	state.reportPath = path
	state.stats.FilesGenerated = append(state.stats.FilesGenerated, path)
	rec.RecordFile(evidence.OpExcelReport, path, true, map[string]any{
		"products": len(products),
	})
	return nil
}

func (p *Pipeline) runUpload(ctx context.Context, state *runState, rec *evidence.Recorder) {
	if !p.cfg.Cloud.Enabled {
		p.logger.Info("cloud upload disabled, skipping")
		rec.RecordEvent(evidence.StageCloudUpload, true, map[string]any{"reason": "disabled"})
		return
	}
	if !p.cfg.Cloud.IsConfigured() {
		p.logger.Warn("cloud upload enabled but credentials incomplete, skipping")
		rec.RecordEvent(evidence.StageCloudUpload, true, map[string]any{"reason": "not_configured"})
		return
	}
	if !p.authenticate(ctx, state) {
		rec.RecordEvent(evidence.StageCloudUpload, false, map[string]any{"reason": "auth_failed"})
		return
	}

	uploaded := 0
	attempted := 0
	if state.backupPath != "" {
		attempted++
		if p.uploader.UploadBackup(ctx, state.backupPath) {
			uploaded++
		}
	}
	if path := p.ensureReport(ctx, state, rec); path != "" {
		attempted++
		if p.uploader.UploadReport(ctx, path) {
			uploaded++
		}
	}

	rec.RecordEvent(evidence.StageCloudUpload, attempted == 0 || uploaded > 0, map[string]any{
		"attempted": attempted,
		"uploaded":  uploaded,
	})
}

// ensureReport resolves the report for the optional stages: the one this run
// produced, else the newest on disk, else a freshly generated one so that
// running stage 4 or 5 alone still has a report to work with.
func (p *Pipeline) ensureReport(ctx context.Context, state *runState, rec *evidence.Recorder) string {
	if path := p.resolveReportPath(state); path != "" {
		return path
	}
	p.logger.Info("no report available, generating one")
	if err := p.runReport(ctx, state, rec); err != nil {
		p.logger.Error("report generation failed", zap.Error(err))
		return ""
	}
	return state.reportPath
}

// resolveReportPath falls back to the newest report on disk.
func (p *Pipeline) resolveReportPath(state *runState) string {
	if state.reportPath != "" {
		return state.reportPath
	}
	matches, err := filepath.Glob(filepath.Join(p.cfg.Dirs.Reports, "Reporte_*.xlsx"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

func (p *Pipeline) authenticate(ctx context.Context, state *runState) bool {
	if !state.authedOnce {
		state.authedOnce = true
		state.authOK = p.uploader.Authenticate(ctx)
	}
	return state.authOK
}

func (p *Pipeline) runForm(ctx context.Context, state *runState, rec *evidence.Recorder) {
	if !p.cfg.Form.Enabled {
		p.logger.Info("web form disabled, skipping")
		rec.RecordEvent(evidence.StageWebForm, true, map[string]any{"reason": "disabled"})
		return
	}
	if !p.cfg.Form.IsConfigured() {
		p.logger.Warn("web form enabled but no URL configured, skipping")
		rec.RecordEvent(evidence.StageWebForm, true, map[string]any{"reason": "not_configured"})
		return
	}
	if p.form.SubmittedToday() {
		p.logger.Info("form already submitted today")
		rec.RecordEvent(evidence.StageWebForm, true, map[string]any{"mode": webform.ModeSkippedDup})
		return
	}

	// The submitter attaches the newest report from disk; make sure one
	// exists when the form stage runs without the report stage.
	if p.cfg.Form.AttachSource != "screenshot" {
		p.ensureReport(ctx, state, rec)
	}

	outcome, err := p.form.Submit(ctx)
	metadata := map[string]any{
		"mode":        outcome.Mode,
		"screenshots": len(outcome.Screenshots),
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	rec.RecordEvent(evidence.StageWebForm, err == nil, metadata)

	for _, shot := range outcome.Screenshots {
		rec.RecordFile(evidence.OpScreenshot, shot, true, nil)
		state.stats.FilesGenerated = append(state.stats.FilesGenerated, shot)
	}
	if err != nil {
		p.logger.Error("form submission failed", zap.Error(err))
	}
}
