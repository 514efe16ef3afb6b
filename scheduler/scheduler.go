package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"wb_scraper/config"
	"wb_scraper/models"
	"wb_scraper/scraper"
)

var ErrRunInProgress = errors.New("scraping already in progress")

type Runner interface {
	Run(ctx context.Context, ids []string, opts scraper.RunOptions) (*models.RunSummary, error)
}

// Scheduler owns the single-run guard. Every run, whether manual, API or
// cron triggered, goes through it.
type Scheduler struct {
	cfg    *config.Config
	runner Runner
	load   func() ([]string, error)
	log    logrus.FieldLogger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func New(cfg *config.Config, runner Runner, log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		load: func() ([]string, error) {
			return scraper.LoadIdentifiers(cfg.SubscriptionFile)
		},
		log:    log,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow reads the subscription file and runs to completion.
func (s *Scheduler) RunNow(ctx context.Context, opts scraper.RunOptions) (*models.RunSummary, error) {
	if !s.acquire() {
		return nil, ErrRunInProgress
	}
	defer s.release()
	return s.run(ctx, opts)
}

// TryStart launches a run in the background and returns immediately.
func (s *Scheduler) TryStart(opts scraper.RunOptions) error {
	if !s.acquire() {
		return ErrRunInProgress
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		if _, err := s.run(s.ctx, opts); err != nil {
			s.log.WithError(err).Error("Background run failed")
		}
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, opts scraper.RunOptions) (*models.RunSummary, error) {
	ids, err := s.load()
	if err != nil {
		s.log.WithError(err).WithField("file", s.cfg.SubscriptionFile).Warn("Could not read subscriptions")
		ids = nil
	} else {
		s.log.Infof("Read %d subscription IDs", len(ids))
	}
	return s.runner.Run(ctx, ids, opts)
}

// Start registers the cron schedule, if one is configured.
func (s *Scheduler) Start() error {
	if s.cfg.Scheduler.Cron == "" {
		s.log.Info("No schedule configured, runs start only on request")
		return nil
	}

	s.log.Infof("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
	_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
		summary, err := s.RunNow(s.ctx, scraper.RunOptions{Headless: true})
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.log.Info("Scheduled run skipped, a run is already active")
		case err != nil:
			s.log.WithError(err).Error("Scheduled run error")
		default:
			s.log.WithField("run_id", summary.RunID).Info("Scheduled run complete")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, cancels any active run and waits for it to
// finalize its session.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
