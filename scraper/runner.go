package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"wb_scraper/config"
	"wb_scraper/models"
	"wb_scraper/progress"
)

// SessionStore persists one run as a replace-all snapshot.
type SessionStore interface {
	BeginSession(ctx context.Context, planned int) (int64, error)
	SaveResult(ctx context.Context, identifier string, records []models.ScrapeRecord, sessionID int64) error
	FinalizeSession(ctx context.Context, sessionID int64, successful, failed int, notes string) error
}

// Outcome is the settled result of one identifier's task.
type Outcome struct {
	Identifier string
	Records    []models.ScrapeRecord
	Err        error
}

type RunOptions struct {
	Headless bool
}

type Runner struct {
	cfg      *config.Config
	store    SessionStore
	launcher Launcher
	progress *progress.Reporter
	log      logrus.FieldLogger

	authTimings AuthTimings
	newRunID    func() string
}

func NewRunner(cfg *config.Config, store SessionStore, launcher Launcher, reporter *progress.Reporter, log logrus.FieldLogger) *Runner {
	return &Runner{
		cfg:         cfg,
		store:       store,
		launcher:    launcher,
		progress:    reporter,
		log:         log,
		authTimings: DefaultAuthTimings(),
		newRunID:    uuid.NewString,
	}
}

// Partition splits ids into contiguous batches of at most width items.
func Partition(ids []string, width int) [][]string {
	if width < 1 {
		width = 1
	}
	batches := make([][]string, 0, (len(ids)+width-1)/width)
	for start := 0; start < len(ids); start += width {
		end := min(start+width, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Run scrapes ids in batches and records them as a fresh session. The
// returned summary is non-nil whenever a session was started.
func (r *Runner) Run(ctx context.Context, ids []string, opts RunOptions) (*models.RunSummary, error) {
	if len(ids) == 0 {
		r.progress.Idle("No subscriptions found")
		return nil, ErrNoIdentifiers
	}

	runID := r.newRunID()
	log := r.log.WithField("run_id", runID)
	total := len(ids)

	// Writes after cancellation still need to land so the snapshot stays
	// consistent.
	storeCtx := context.WithoutCancel(ctx)

	sessionID, err := r.store.BeginSession(storeCtx, total)
	if err != nil {
		r.progress.Fail(fmt.Sprintf("Error: %v", err))
		return nil, fmt.Errorf("begin session: %w", err)
	}
	log = log.WithField("session_id", sessionID)

	mode := "fast parallel"
	if !opts.Headless {
		mode = "visible (manual login)"
	}
	r.progress.Start(runID, total, fmt.Sprintf("Starting %s mode...", mode))
	log.WithFields(logrus.Fields{"subscriptions": total, "mode": mode}).Info("Scraping session started")

	summary := &models.RunSummary{RunID: runID, SessionID: sessionID, Total: total}

	browser, err := r.launcher.Launch(ctx, LaunchOptions{
		Headless:        opts.Headless,
		BlockResources:  opts.Headless,
		PageLoadTimeout: r.cfg.Browser.PageLoadTimeout,
		ElementTimeout:  r.cfg.Browser.ElementTimeout,
		UserAgent:       r.cfg.Browser.UserAgent,
	})
	if err != nil {
		return r.abort(storeCtx, summary, err, log)
	}
	defer func() {
		if err := browser.Close(); err != nil {
			log.WithError(err).Warn("Failed to close browser")
		}
	}()

	auth := NewAuthenticator(r.cfg.Dashboard, r.authTimings, log)
	consent := NewConsentResolver(r.cfg.Dashboard.Consent, log)
	extractor := NewExtractor(r.cfg.Dashboard, r.cfg.Browser, auth, consent, log)

	needsAuth := opts.Headless
	if !opts.Headless {
		r.awaitManualLogin(browser, total, log)
	}

	width := r.cfg.Browser.BatchSize
	done := 0
	var runErr error

	for i, batch := range Partition(ids, width) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		blog := log.WithField("batch", i+1)
		r.progress.Batch(done, total, fmt.Sprintf("Batch %d", i+1),
			fmt.Sprintf("Processing batch of %d subscriptions...", len(batch)))

		carriesAuth := needsAuth && i == 0
		outcomes := r.runBatch(browser, extractor, batch, carriesAuth, width, blog)

		for j, o := range outcomes {
			if o.Err != nil {
				r.recordFailure(summary, o.Identifier, o.Err, blog)
				// Without a signed-in session no later search can be trusted.
				if carriesAuth && j == 0 {
					runErr = authFailure(o.Err)
				}
			} else if err := r.store.SaveResult(storeCtx, o.Identifier, o.Records, sessionID); err != nil {
				r.recordFailure(summary, o.Identifier, fmt.Errorf("save results: %w", err), blog)
			} else {
				summary.Successful++
				summary.Results += len(o.Records)
				blog.WithFields(logrus.Fields{"identifier": o.Identifier, "results": len(o.Records)}).Info("Saved results")
			}

			done++
			r.progress.Advance(done, total, o.Identifier,
				fmt.Sprintf("Completed %s - %d results", o.Identifier, len(o.Records)))
		}

		if runErr != nil {
			break
		}
	}

	summary.Notes = sessionNotes(summary, runErr)
	if err := r.store.FinalizeSession(storeCtx, sessionID, summary.Successful, summary.Failed, summary.Notes); err != nil {
		log.WithError(err).Error("Failed to finalize session")
	}

	if runErr != nil {
		log.WithError(runErr).Error("Scraping session stopped")
		r.progress.Fail(fmt.Sprintf("Error: %v", runErr))
		return summary, runErr
	}

	r.progress.Finish(total, fmt.Sprintf("Fast scraping completed! %d successful, %d failed", summary.Successful, summary.Failed))
	log.WithFields(logrus.Fields{
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"results":    summary.Results,
	}).Info("Scraping session completed")

	return summary, nil
}

// runBatch runs one task per identifier and waits for all of them. Tasks
// never return errors to the group, so one failure cannot cancel siblings.
func (r *Runner) runBatch(browser Browser, ex *Extractor, batch []string, authFirst bool, width int, log logrus.FieldLogger) []Outcome {
	outcomes := make([]Outcome, len(batch))
	gate := newAuthGate(authFirst)

	var g errgroup.Group
	g.SetLimit(max(width, 1))

	for i, id := range batch {
		carriesAuth := authFirst && i == 0
		g.Go(func() error {
			outcomes[i] = r.runTask(browser, ex, id, carriesAuth, gate, log)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (r *Runner) runTask(browser Browser, ex *Extractor, id string, carriesAuth bool, gate *authGate, log logrus.FieldLogger) (out Outcome) {
	out.Identifier = id
	tlog := log.WithField("identifier", id)

	defer func() {
		if p := recover(); p != nil {
			tlog.WithField("panic", p).Error("Scrape task panicked")
			out = Outcome{Identifier: id, Err: fmt.Errorf("task panicked: %v", p)}
		}
		if carriesAuth {
			gate.release(out.Err)
		}
	}()

	if !carriesAuth {
		if err := gate.wait(); err != nil {
			out.Err = fmt.Errorf("%w: first subscription could not sign in", ErrAuthFailed)
			return out
		}
	}

	tab, err := browser.NewTab()
	if err != nil {
		out.Err = fmt.Errorf("open tab: %w", err)
		return out
	}
	defer func() {
		if err := tab.Close(); err != nil {
			tlog.WithError(err).Debug("Failed to close tab")
		}
	}()

	out.Records, out.Err = ex.Extract(id, tab, carriesAuth)
	return out
}

// awaitManualLogin opens the dashboard in a visible tab and gives a person
// time to sign in before the batches start.
func (r *Runner) awaitManualLogin(browser Browser, total int, log logrus.FieldLogger) {
	wait := r.cfg.Browser.ManualLoginWait
	r.progress.Advance(0, total, "",
		fmt.Sprintf("Browser opened - Please login manually, then scraping will start in %s...", wait))

	tab, err := browser.NewTab()
	if err != nil {
		log.WithError(err).Warn("Failed to open login tab")
		return
	}
	defer tab.Close()

	if err := tab.Goto(r.cfg.Dashboard.URL); err != nil {
		log.WithError(err).Warn("Failed to open dashboard for manual login")
	}
	log.WithField("wait", wait).Info("Waiting for manual login")
	tab.Pause(wait)
}

func (r *Runner) recordFailure(summary *models.RunSummary, id string, err error, log logrus.FieldLogger) {
	summary.Failed++
	summary.Failures = append(summary.Failures, models.Failure{Identifier: id, Reason: err.Error()})
	log.WithError(err).WithField("identifier", id).Error("Failed to process subscription")
}

// abort finalizes a session that could not run at all.
func (r *Runner) abort(ctx context.Context, summary *models.RunSummary, cause error, log logrus.FieldLogger) (*models.RunSummary, error) {
	summary.Notes = fmt.Sprintf("Error: %v", cause)
	log.WithError(cause).Error("Scraping session failed")

	if err := r.store.FinalizeSession(ctx, summary.SessionID, 0, 0, summary.Notes); err != nil {
		log.WithError(err).Error("Failed to finalize session")
	}
	r.progress.Fail(summary.Notes)
	return summary, cause
}

func sessionNotes(s *models.RunSummary, runErr error) string {
	var b strings.Builder
	switch {
	case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
		fmt.Fprintf(&b, "Scraping cancelled. %d successful, %d failed", s.Successful, s.Failed)
	case runErr != nil:
		fmt.Fprintf(&b, "Error: %v. %d successful, %d failed", runErr, s.Successful, s.Failed)
	default:
		fmt.Fprintf(&b, "Fast scraping completed. %d successful, %d failed", s.Successful, s.Failed)
	}

	if len(s.Failures) > 0 {
		b.WriteString(". Failures: ")
		for i, f := range s.Failures {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s (%s)", f.Identifier, f.Reason)
		}
	}
	return b.String()
}

// authFailure marks any error of the authenticating task as an
// authentication failure.
func authFailure(err error) error {
	if errors.Is(err, ErrAuthFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

// authGate holds back the siblings of the authenticating task until the
// shared browser context is signed in. Any error from that task closes the
// gate for good.
type authGate struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newAuthGate(active bool) *authGate {
	g := &authGate{done: make(chan struct{})}
	if !active {
		close(g.done)
	}
	return g
}

func (g *authGate) release(err error) {
	g.once.Do(func() {
		if err != nil {
			g.err = authFailure(err)
		}
		close(g.done)
	})
}

func (g *authGate) wait() error {
	<-g.done
	return g.err
}
