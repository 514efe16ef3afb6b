package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wb_scraper/handlers"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the JSON API and the cron schedule until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		exporter, err := a.exporter(ctx)
		if err != nil {
			return err
		}

		sched := a.scheduler()
		if err := sched.Start(); err != nil {
			return err
		}

		server := handlers.NewServer(a.store, exporter, sched, a.reporter, a.cfg.SubscriptionFile, a.log)
		srv := &http.Server{
			Addr:              a.cfg.HTTPAddr,
			Handler:           server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.log.Infof("API listening on %s", a.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			a.log.Info("Shutting down...")
		case err := <-errCh:
			if err != nil {
				sched.Stop()
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("HTTP shutdown")
		}
		sched.Stop()
		a.log.Info("Goodbye!")
		return nil
	},
}
