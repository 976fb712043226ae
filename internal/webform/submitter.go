// Package webform drives a headless Chrome session that fills and submits a
// feedback form, capturing a screenshot at every milestone as evidence.
package webform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/config"
	"github.com/figueredoestupinan2025/rpa-productos/internal/retry"
)

// ErrNoConfirmation marks a submission whose click succeeded but whose page
// never showed a confirmation phrase. The form may or may not have received
// the data, so the caller must treat the outcome as a failure.
var ErrNoConfirmation = errors.New("no confirmation text after submit")

// confirmationShot is the screenshot whose presence for today's date marks
// the form as already submitted.
const confirmationShot = "formulario_confirmacion.png"

// Outcome describes how a submission attempt ended.
type Outcome struct {
	Submitted   bool
	Mode        string
	Screenshots []string
}

// Outcome modes.
const (
	ModeSubmitted      = "submitted"
	ModeManualReview   = "manual_review"
	ModeSkippedDup     = "skipped_duplicate"
	ModeNoConfirmation = "no_confirmation"
)

// Submitter automates the form in a dedicated browser per attempt.
type Submitter struct {
	cfg         config.FormConfig
	evidenceDir string
	reportsDir  string
	policy      retry.Policy
	clock       clock.Clock
	logger      *zap.Logger
}

// NewSubmitter builds a Submitter writing screenshots under evidenceDir and
// reading report attachments from reportsDir.
func NewSubmitter(cfg config.FormConfig, evidenceDir, reportsDir string, clk clock.Clock, logger *zap.Logger) *Submitter {
	return &Submitter{
		cfg:         cfg,
		evidenceDir: evidenceDir,
		reportsDir:  reportsDir,
		policy: retry.NewPolicy(3, 2*time.Second, 15*time.Second, func(err error) bool {
			// A click that produced no confirmation must not be replayed:
			// the form may already hold the data.
			return !errors.Is(err, ErrNoConfirmation)
		}),
		clock:  clk,
		logger: logger,
	}
}

// SubmittedToday reports whether a confirmation screenshot was already
// captured today, meaning the form was submitted by an earlier run.
func (s *Submitter) SubmittedToday() bool {
	info, err := os.Stat(filepath.Join(s.evidenceDir, confirmationShot))
	if err != nil {
		return false
	}
	y1, m1, d1 := info.ModTime().Date()
	y2, m2, d2 := s.clock.Now().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Submit runs the full form flow: navigate, fill, optionally attach a file,
// click submit and verify the confirmation text. Transient browser failures
// are retried with a fresh session.
func (s *Submitter) Submit(ctx context.Context) (Outcome, error) {
	if s.SubmittedToday() {
		s.logger.Info("form already submitted today, skipping")
		return Outcome{Mode: ModeSkippedDup}, nil
	}

	var outcome Outcome
	err := s.policy.Do(ctx, s.logger, "form submit", func() error {
		var attemptErr error
		outcome, attemptErr = s.attempt(ctx)
		return attemptErr
	})
	return outcome, err
}

func (s *Submitter) attempt(ctx context.Context) (Outcome, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(1280, 1024),
	)
	if s.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, s.cfg.Timeout())
	defer timeoutCancel()

	// Some forms pop a dialog on submit; accept it so the flow never hangs.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true))
		}
	})

	outcome := Outcome{}
	s.logger.Info("opening form",
		zap.String("url", s.cfg.URL),
		zap.Bool("headless", s.cfg.Headless))

	if err := chromedp.Run(tabCtx,
		chromedp.Navigate(s.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	); err != nil {
		return outcome, fmt.Errorf("navigate to form: %w", err)
	}
	s.capture(tabCtx, "formulario_inicial.png", &outcome)

	if s.cfg.ManualLoginWaitSeconds > 0 {
		s.logger.Info("waiting for manual login",
			zap.Int("seconds", s.cfg.ManualLoginWaitSeconds))
		if err := chromedp.Run(tabCtx,
			chromedp.Sleep(time.Duration(s.cfg.ManualLoginWaitSeconds)*time.Second),
		); err != nil {
			return outcome, fmt.Errorf("manual login wait: %w", err)
		}
		s.capture(tabCtx, "formulario_login.png", &outcome)
	}

	var filled int
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(fillFieldsScript(s.cfg.CollaboratorName, s.cfg.Comments), &filled),
	); err != nil {
		return outcome, fmt.Errorf("fill form fields: %w", err)
	}
	if filled == 0 {
		return outcome, errors.New("no fillable text fields found")
	}
	s.logger.Info("form fields filled", zap.Int("fields", filled))

	if err := s.attachFile(tabCtx); err != nil {
		return outcome, err
	}
	s.capture(tabCtx, "formulario_revision.png", &outcome)

	if !s.cfg.AutoSubmit {
		s.logger.Info("manual review mode, leaving form unsubmitted",
			zap.Int("review_seconds", s.cfg.ManualReviewSeconds))
		if s.cfg.ManualReviewSeconds > 0 {
			chromedp.Run(tabCtx,
				chromedp.Sleep(time.Duration(s.cfg.ManualReviewSeconds)*time.Second))
		}
		outcome.Mode = ModeManualReview
		return outcome, nil
	}

	var clicked bool
	if err := chromedp.Run(tabCtx,
		chromedp.Evaluate(clickSubmitScript(), &clicked),
	); err != nil {
		return outcome, fmt.Errorf("click submit: %w", err)
	}
	if !clicked {
		return outcome, errors.New("no submit control found")
	}

	var bodyText string
	if err := chromedp.Run(tabCtx,
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(bodyTextScript, &bodyText),
	); err != nil {
		return outcome, fmt.Errorf("read confirmation page: %w", err)
	}

	if !confirmationFound(bodyText) {
		s.capture(tabCtx, "formulario_error.png", &outcome)
		outcome.Mode = ModeNoConfirmation
		return outcome, ErrNoConfirmation
	}

	s.capture(tabCtx, confirmationShot, &outcome)
	s.logger.Info("form submitted and confirmed")
	outcome.Submitted = true
	outcome.Mode = ModeSubmitted
	return outcome, nil
}

// attachFile always tries to attach the configured artifact. A form without
// a file input, or a run without anything to attach, is fatal only when the
// upload is required by config.
func (s *Submitter) attachFile(ctx context.Context) error {
	var hasInput bool
	if err := chromedp.Run(ctx, chromedp.Evaluate(hasFileInputScript, &hasInput)); err != nil {
		return fmt.Errorf("check file input: %w", err)
	}
	if !hasInput {
		if s.cfg.RequireFileUpload {
			return errors.New("form has no file input")
		}
		s.logger.Warn("form has no file input, skipping attachment")
		return nil
	}

	path, err := s.resolveAttachment()
	if err != nil || path == "" {
		return err
	}
	if err := chromedp.Run(ctx,
		chromedp.SetUploadFiles(`input[type="file"]`, []string{path}, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("attach %s: %w", filepath.Base(path), err)
	}
	s.logger.Info("file attached", zap.String("path", path))
	return nil
}

// resolveAttachment locates the artifact to attach. When nothing is
// available it errors if the upload is required, otherwise reports an empty
// path so the submission continues without one.
func (s *Submitter) resolveAttachment() (string, error) {
	path, err := s.attachmentPath()
	if err == nil {
		return path, nil
	}
	if s.cfg.RequireFileUpload {
		return "", fmt.Errorf("required attachment unavailable: %w", err)
	}
	s.logger.Warn("no attachment available", zap.Error(err))
	return "", nil
}

// attachmentPath resolves what to attach: the newest spreadsheet report, or
// the newest screenshot already captured this run.
func (s *Submitter) attachmentPath() (string, error) {
	switch s.cfg.AttachSource {
	case "screenshot":
		return latestMatch(s.evidenceDir, "formulario_*.png")
	default:
		return latestMatch(s.reportsDir, "Reporte_*.xlsx")
	}
}

func latestMatch(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no files matching %s under %s", pattern, dir)
	}
	sort.Slice(matches, func(i, j int) bool {
		li, _ := os.Stat(matches[i])
		lj, _ := os.Stat(matches[j])
		if li == nil || lj == nil {
			return strings.Compare(matches[i], matches[j]) < 0
		}
		return li.ModTime().Before(lj.ModTime())
	})
	return matches[len(matches)-1], nil
}

// capture saves a full-window screenshot, logging but not failing on error:
// a missing screenshot never blocks the submission itself.
func (s *Submitter) capture(ctx context.Context, name string, outcome *Outcome) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		s.logger.Warn("screenshot failed", zap.String("name", name), zap.Error(err))
		return
	}
	path := filepath.Join(s.evidenceDir, name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		s.logger.Warn("write screenshot", zap.String("path", path), zap.Error(err))
		return
	}
	outcome.Screenshots = append(outcome.Screenshots, path)
	s.logger.Debug("screenshot captured", zap.String("path", path))
}
