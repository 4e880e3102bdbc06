package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"leadpilot/config"
	"leadpilot/monitoring"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var inMemory bool

	root := &cobra.Command{
		Use:          "leadpilot",
		Short:        "Cold outreach sequencing server",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&inMemory, "in-memory", false, "use the in-process store instead of postgres")

	// withServices loads config, builds the service graph and flushes the
	// monitor once fn returns.
	withServices := func(fn func(ctx context.Context, s *services) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if inMemory {
				os.Setenv("IN_MEMORY", "true")
			}
			if err := config.LoadConfig(); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg := config.AppConfig

			monitor, err := monitoring.New(monitoring.Config{
				Level:       cfg.LogLevel,
				Format:      cfg.LogFormat,
				SentryDSN:   cfg.SentryDSN,
				Environment: cfg.Environment,
				Release:     cfg.Release,
			})
			if err != nil {
				return err
			}
			defer monitor.Flush(2 * time.Second)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := newServices(ctx, cfg, monitor)
			if err != nil {
				monitor.LogError("startup", err, nil)
				return err
			}
			defer s.close()
			return fn(ctx, s)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and background workers",
			RunE:  withServices(serve),
		},
		&cobra.Command{
			Use:   "process-sequences",
			Short: "Run one batch pass over eligible leads",
			RunE: withServices(func(ctx context.Context, s *services) error {
				result := s.sequenceWorker().RunOnce(ctx)
				s.monitor.Logger.WithFields(logrus.Fields{
					"processed": result.Processed,
					"succeeded": result.Succeeded,
					"failed":    result.Failed,
					"completed": result.Completed,
					"skipped":   result.Skipped,
					"deferred":  result.Deferred,
				}).Info("Batch pass finished")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "dispatch",
			Short: "Send queued emails over SMTP once",
			RunE: withServices(func(ctx context.Context, s *services) error {
				w := s.dispatchWorker()
				if w == nil {
					return errDisabled("SMTP dispatch", "SMTP_HOST and SMTP_FROM_EMAIL")
				}
				result, err := w.RunOnce(ctx)
				if err != nil {
					return err
				}
				s.monitor.Logger.WithFields(logrus.Fields{
					"sent":      result.Sent,
					"failed":    result.Failed,
					"cancelled": result.Cancelled,
				}).Info("Dispatch finished")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "poll-replies",
			Short: "Read the reply inbox once",
			RunE: withServices(func(ctx context.Context, s *services) error {
				p := s.replyPoller()
				if p == nil {
					return errDisabled("reply inbox", "IMAP_HOST and IMAP_USERNAME")
				}
				result := p.RunOnce(ctx)
				s.monitor.Logger.WithFields(logrus.Fields{
					"fetched":   result.Fetched,
					"matched":   result.Matched,
					"unmatched": result.Unmatched,
					"failed":    result.Failed,
				}).Info("Reply poll finished")
				return nil
			}),
		},
	)
	return root
}

// serve runs the API and every configured worker until a signal arrives.
func serve(ctx context.Context, s *services) error {
	app := s.httpApp()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.monitor.Logger.Infof("Server starting on port %s", s.cfg.ServerPort)
		if err := app.Listen(":" + s.cfg.ServerPort); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.monitor.Logger.Info("Shutting down server")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		s.sequenceWorker().Start(ctx)
		return nil
	})
	if w := s.dispatchWorker(); w != nil {
		g.Go(func() error {
			w.Start(ctx)
			return nil
		})
	}
	if p := s.replyPoller(); p != nil {
		g.Go(func() error {
			p.Start(ctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
