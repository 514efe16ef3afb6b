package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"wb_scraper/config"
	"wb_scraper/export"
	"wb_scraper/logging"
	"wb_scraper/progress"
	"wb_scraper/scheduler"
	"wb_scraper/scraper"
	"wb_scraper/storage"
)

// app is everything a command needs, opened in dependency order.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	logFile  io.Closer
	store    storage.Store
	reporter *progress.Reporter
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logFile, err := logging.Setup(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.DatabaseURL != "" {
		log.Infof("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
	} else {
		log.Infof("SQLite database: %s", cfg.DBPath)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		logFile:  logFile,
		store:    store,
		reporter: progress.New(cfg.Location),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Closing store")
	}
	a.logFile.Close()
}

func (a *app) scheduler() *scheduler.Scheduler {
	runner := scraper.NewRunner(a.cfg, a.store, scraper.NewPlaywrightLauncher(a.log), a.reporter, a.log)
	return scheduler.New(a.cfg, runner, a.log)
}

// exporter uploads to S3 only when a bucket is configured.
func (a *app) exporter(ctx context.Context) (*export.Exporter, error) {
	e := export.NewExporter(a.store, a.cfg.Export.Dir, a.cfg.Location, a.log)
	if !a.cfg.Export.S3.Enabled() {
		return e, nil
	}

	uploader, err := storage.NewS3Uploader(ctx, a.cfg.Export.S3)
	if err != nil {
		return nil, fmt.Errorf("create s3 uploader: %w", err)
	}
	a.log.Infof("Exports will be copied to s3://%s", a.cfg.Export.S3.Bucket)
	return e.WithUploader(uploader, storage.ExportKey), nil
}

// maskConnectionString hides the password between "user:" and "@".
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx, atIdx := -1, -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}
	if colonIdx == -1 || atIdx == -1 || colonIdx > atIdx {
		return connStr
	}
	return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
}
