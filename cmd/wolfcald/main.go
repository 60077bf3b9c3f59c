package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vanadium23/wolfcal-sub000/internal/api"
	"github.com/vanadium23/wolfcal-sub000/internal/backoff"
	"github.com/vanadium23/wolfcal-sub000/internal/config"
	"github.com/vanadium23/wolfcal-sub000/internal/logger"
	"github.com/vanadium23/wolfcal-sub000/internal/remote"
	"github.com/vanadium23/wolfcal-sub000/internal/store"
	"github.com/vanadium23/wolfcal-sub000/internal/syncer"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "wolfcald",
	Short: "Local-first calendar sync daemon",
	Long: `wolfcald keeps a local SQLite mirror of remote calendars inside a
sliding window around today, queues edits made while offline and
surfaces conflicts for manual resolution.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync scheduler and the local HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()
		return app.serve(cmd.Context())
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync [accountID...]",
	Short: "Run one sync pass for the given accounts (default: all configured)",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		accounts := args
		if len(accounts) == 0 {
			accounts = app.cfg.AccountIDs()
		}
		if len(accounts) == 0 {
			return errors.New("no accounts configured and none given on the command line")
		}

		ctx := cmd.Context()
		for _, id := range accounts {
			res, err := app.orch.SyncAccount(ctx, id)
			if err != nil {
				return fmt.Errorf("sync failed for account %s: %w", id, err)
			}
			for _, cal := range res.Calendars {
				fmt.Printf("%s/%s: +%d ~%d -%d conflicts=%d pruned=%d\n",
					id, cal.CalendarID, cal.Added, cal.Updated,
					cal.Deleted, cal.Conflicts, cal.PrunedEvents)
			}
			for _, f := range res.Failures {
				fmt.Fprintf(os.Stderr, "%s/%s: failed: %s\n", id, f.CalendarID, f.Error)
			}
		}
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Push queued offline changes to the remote service",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.proc.Drain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("applied=%d failed=%d skipped=%d\n", res.Applied, res.Failed, res.Skipped)
		return nil
	},
}

type app struct {
	cfg   *config.Config
	store *store.SQLiteStore
	orch  *syncer.Orchestrator
	proc  *syncer.Processor
	ed    *syncer.Editor
}

func buildApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	var tokens remote.TokenProvider
	if cfg.Remote.RefreshURL != "" {
		tokens = remote.NewCachingTokenProvider(cfg.Remote.Token,
			remote.HTTPRefreshFunc(cfg.Remote.RefreshURL, cfg.Remote.RefreshToken, nil))
	} else {
		tokens = remote.StaticTokenProvider(cfg.Remote.Token)
	}
	client := remote.NewHTTPClient(cfg.Remote.BaseURL, tokens, nil, logger.Log)

	exec := backoff.New(backoff.DefaultConfig())
	proc := syncer.NewProcessor(st, client, exec, logger.Log)
	orch := syncer.NewOrchestrator(st, client, exec, logger.Log)
	ed := syncer.NewEditor(st, client, exec, proc, logger.Log)

	return &app{cfg: cfg, store: st, orch: orch, proc: proc, ed: ed}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Log.Warn("failed to close store", zap.Error(err))
	}
	logger.Sync()
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sched *syncer.Scheduler
	if a.cfg.Scheduler.Enabled {
		sched = syncer.NewScheduler(a.cfg.Scheduler.Interval, a.cfg.AccountIDs(), a.orch, a.proc, logger.Log)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	handler := api.NewHandler(a.store, a.orch, a.proc, a.ed, logger.Log)
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "wolfcal.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd, syncCmd, drainCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
