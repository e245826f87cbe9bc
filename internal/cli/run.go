package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/me/rolesched/internal/config"
	"github.com/me/rolesched/internal/executor"
	"github.com/me/rolesched/internal/logging"
	"github.com/me/rolesched/internal/roles"
	"github.com/me/rolesched/internal/sampler"
	"github.com/me/rolesched/internal/scheduler"
	"github.com/me/rolesched/internal/server"
	"github.com/me/rolesched/internal/tracker"
)

func newRunCmd() *cobra.Command {
	dc := config.DefaultDaemonConfig()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		Long: `Start every role in priority order under resource limits, keep
monitoring host load, and serve the status and submission API until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc.LogLevel = flagLogLevel
			dc.LogFormat = flagLogFormat

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, dc)
		},
	}

	f := cmd.Flags()
	f.StringVar(&dc.Addr, "addr", dc.Addr, "Listen address for the API")
	f.StringVar(&dc.BaseDir, "base-dir", dc.BaseDir, "Project root scanned by the roles")
	f.StringVar(&dc.ConfigPath, "config", dc.ConfigPath, "Scheduler config file (default <base-dir>/"+config.DefaultConfigFile+")")
	f.StringVar(&dc.TrackerDB, "tracker-db", dc.TrackerDB, `File tracker database (default ~/.rolesched/tracker.db, "off" to disable)`)
	f.StringVar(&dc.Interpreter, "interpreter", dc.Interpreter, "Interpreter used to run task scripts")
	f.StringVar(&dc.DiskPath, "disk-path", dc.DiskPath, "Filesystem sampled for disk usage")
	f.StringVar(&dc.LogFile, "log-file", dc.LogFile, "Also append logs to this file")

	return cmd
}

// runDaemon wires the daemon together and blocks until ctx is cancelled.
func runDaemon(ctx context.Context, dc config.DaemonConfig) error {
	log, closer, err := logging.New(logging.Options{
		Level:  logging.ParseLevel(dc.LogLevel),
		Format: dc.LogFormat,
		File:   dc.LogFile,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	cfgPath := dc.ResolveConfigPath()
	cfg := config.Load(cfgPath, log)

	var (
		tr      tracker.Tracker = tracker.Noop{}
		srvOpts []server.Option
	)
	dbPath, err := dc.ResolveTrackerDB()
	if err != nil {
		return fmt.Errorf("resolve tracker database: %w", err)
	}
	if dbPath != "" {
		st, err := tracker.NewSQLiteTracker(dbPath, log)
		if err != nil {
			return fmt.Errorf("open tracker: %w", err)
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate tracker: %w", err)
		}
		log.Info("file tracker ready", "path", dbPath)
		tr = st
		srvOpts = append(srvOpts, server.WithInspector(st))
	} else {
		log.Info("file tracker disabled")
	}

	runner := executor.NewLocalRunner(dc.Interpreter, log)
	ctrl := scheduler.New(cfg, scheduler.Options{
		Sampler: sampler.New(ctx, dc.DiskPath, log),
		Tracker: tr,
		RoleDeps: roles.Deps{
			BaseDir: dc.BaseDir,
			Runner:  runner,
			Checker: runner,
			Logger:  log,
		},
	}, log)

	go func() {
		if err := config.Watch(ctx, cfgPath, log, ctrl.UpdateConfig); err != nil {
			log.Warn("configuration watch stopped", "error", err)
		}
	}()
	go ctrl.StartAll(ctx)

	srvOpts = append(srvOpts, server.WithMetrics(ctrl.Registry()), server.WithDashboard())
	srv := server.New(ctrl, log, srvOpts...)
	serveErr := srv.ListenAndServe(ctx, dc.Addr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	log.Info("shutting down")
	ctrl.StopAll()
	log.Info("all roles stopped")

	if serveErr != nil {
		return fmt.Errorf("serve: %w", serveErr)
	}
	return nil
}
