// Package cli builds the driftd command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"driftnote/internal/app"
	"driftnote/internal/config"
	"driftnote/internal/storage"
	logx "driftnote/pkg/logx"
	"driftnote/pkg/systemd"
)

// Version is set at build time with -ldflags "-X driftnote/internal/cli.Version=...".
var Version = "dev"

const defaultConfigPath = "configs/driftd.yaml"

// stopTimeout bounds graceful shutdown after a signal.
const stopTimeout = 15 * time.Second

type rootOpts struct {
	configPath string
}

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	o := &rootOpts{}
	root := &cobra.Command{
		Use:   "driftd",
		Short: "driftd rewrites journal entries while nobody is looking",
		Long: `driftd runs the deferred mutation scheduler: every entry that is created,
edited or closed gets one pending rewrite, fired after a quiet period unless the
entry is opened again first.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", defaultConfigPath, "config file path (.yaml, .yml or .json)")

	root.AddCommand(
		buildRunCommand(o),
		buildValidateCommand(o),
		buildEntriesCommand(o),
		buildPrefsCommand(o),
		buildVersionCommand(),
	)
	return root
}

func buildRunCommand(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the drift daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDaemon(ctx, o.configPath)
		},
	}
}

func runDaemon(ctx context.Context, cfgPath string) error {
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	log := a.Logger()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("start: %w", err)
	}
	if _, err := systemd.Ready(); err != nil {
		log.Warn("systemd notify failed", logx.Err(err))
	}
	_, _ = systemd.Status(fmt.Sprintf("drifting entries after %s of inactivity", a.Scheduler().Delay()))

	wctx, stopWatchdog := context.WithCancel(ctx)
	go systemd.Watchdog(wctx, log)

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	if ctx.Err() != nil {
		log.Info("signal received; shutting down")
	} else {
		log.Error("app stopped unexpectedly", logx.Err(a.Err()))
	}
	stopWatchdog()
	_, _ = systemd.Stopping()

	sctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(sctx)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}

func buildValidateCommand(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(o.configPath).Load()
			if err != nil {
				return err
			}
			d, _ := cfg.Durations()
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s\n", o.configPath)
			fmt.Fprintf(cmd.OutOrStdout(), "  drift.delay=%s storage.driver=%s oracle.provider=%s sweep.enabled=%t metrics.enabled=%t\n",
				orDefault(d.DriftDelay.String(), "0s", "60s (default)"),
				orDefault(cfg.Storage.Driver, "", "memory"),
				orDefault(cfg.Oracle.Provider, "", "gemini"),
				cfg.Sweep.Enabled, cfg.Metrics.Enabled)
			return nil
		},
	}
}

func buildVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

// openStore opens the configured backend for one-shot management commands.
func openStore(cfgPath string) (storage.Store, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, err := app.MapStorage(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, logx.NewWriter(os.Stderr, "warn"))
}

func orDefault(v, zero, def string) string {
	if v == zero {
		return def
	}
	return v
}
