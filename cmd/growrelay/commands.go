package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/growrelay/internal/config"
	"github.com/njoerd114/growrelay/internal/hatch"
	"github.com/njoerd114/growrelay/internal/setup"
	"github.com/njoerd114/growrelay/internal/state"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
}

// --- daemon ------------------------------------------------------------------

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync on a schedule, serving HTTP when http.addr is set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx, flagConfig, flagVerbose)
		if err != nil {
			return err
		}
		defer a.close()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.engine.Run(gctx) })
		if addr := a.cfg.HTTP.Addr; addr != "" {
			g.Go(func() error { return a.server().Run(gctx, addr) })
		}

		a.log.Info("daemon starting", "interval", a.cfg.Sync.Interval, "http", a.cfg.HTTP.Addr)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("daemon: %w", err)
		}
		a.log.Info("shutdown complete")
		return nil
	},
}

// --- sync-once ---------------------------------------------------------------

var syncOnceCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Run a single sync cycle and print its summary as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx, flagConfig, flagVerbose)
		if err != nil {
			return err
		}
		defer a.close()

		sum, err := a.engine.RunOnce(ctx)
		if err != nil {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), sum); err != nil {
			return err
		}
		if sum.Err() != nil {
			return fmt.Errorf("sync finished with %d error(s)", len(sum.Errors))
		}
		return nil
	},
}

// --- serve -------------------------------------------------------------------

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve GET /health and POST /sync without a schedule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx, flagConfig, flagVerbose)
		if err != nil {
			return err
		}
		defer a.close()

		addr := flagAddr
		if addr == "" {
			addr = a.cfg.HTTP.Addr
		}
		if addr == "" {
			addr = ":8080"
		}
		if err := a.server().Run(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default http.addr or :8080)")
}

// --- status ------------------------------------------------------------------

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service, config and state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := cmd.OutOrStdout()
		ctx := cmd.Context()
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

		fmt.Fprintln(w, "GrowRelay Status")
		fmt.Fprintln(w, "────────────────")

		if setup.IsServiceActive() {
			fmt.Fprintln(w, "  Service:   running (systemd --user)")
		} else {
			fmt.Fprintln(w, "  Service:   not running")
		}

		cfg, err := config.Load(flagConfig)
		switch {
		case err == nil:
			fmt.Fprintf(w, "  Config:    %s ✓\n", flagConfig)
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(w, "  Config:    not found (%s), using environment\n", flagConfig)
			cfg, err = config.FromEnv()
		}
		if err != nil {
			fmt.Fprintf(w, "  Config:    %s (invalid: %v)\n", flagConfig, err)
			return nil
		}
		fmt.Fprintf(w, "  Account:   %s\n", orNone(cfg.Hatch.Email))
		fmt.Fprintf(w, "  Creds:     %s\n", yesNo(cfg.CredentialsConfigured()))
		if cfg.Sync.Schedule != "" {
			fmt.Fprintf(w, "  Schedule:  %s\n", cfg.Sync.Schedule)
		} else {
			fmt.Fprintf(w, "  Interval:  %s\n", cfg.Sync.Interval)
		}

		path, err := statePath(cfg.State)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			fmt.Fprintf(w, "  State:     not found (%s)\n", path)
			return nil
		}

		var keys, ids int
		if cfg.State.Backend == config.BackendJSON {
			st := state.NewFileStore(path, quiet).Load(ctx)
			keys, ids = len(st.Keys()), st.Len()
		} else {
			store, err := state.Open(path, quiet)
			if err != nil {
				return err
			}
			defer store.Close()
			if keys, ids, err = store.Stats(ctx); err != nil {
				return err
			}
		}
		fmt.Fprintf(w, "  State:     %s (%s)\n", path, cfg.State.Backend)
		fmt.Fprintf(w, "  Synced:    %d record(s) across %d subject/kind key(s)\n", ids, keys)
		return nil
	},
}

// --- setup -------------------------------------------------------------------

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive first-run wizard",
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		slog.SetDefault(logger)

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), hatch.NewClient("", nil, logger), logger)
		wiz.ConfigPath = flagConfig
		return wiz.Run(ctx)
	},
}

// --- uninstall ---------------------------------------------------------------

var flagPurge bool

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop the service and remove installed files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := cmd.OutOrStdout()
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}

		fmt.Fprintln(w, "Uninstalling GrowRelay...")

		step := func(label string, err error) {
			if err != nil {
				fmt.Fprintf(w, "  ⚠ %v\n", err)
				return
			}
			fmt.Fprintf(w, "  ✓ %s\n", label)
		}
		step("Service stopped", setup.DisableService(homeDir))
		step("Unit removed", setup.RemoveUnit(homeDir))
		step("Binary removed", removeIfExists(setup.BinaryInstallPath(homeDir)))

		if flagPurge {
			step("Config and state purged", setup.PurgeUserData(homeDir))
		} else {
			fmt.Fprintln(w, "")
			fmt.Fprintln(w, "  Config and state preserved.")
			fmt.Fprintln(w, "  Run with --purge to also remove them:")
			fmt.Fprintln(w, "    growrelay uninstall --purge")
		}

		fmt.Fprintln(w, "")
		fmt.Fprintln(w, "✓ GrowRelay uninstalled.")
		return nil
	},
}

func init() {
	uninstallCmd.Flags().BoolVar(&flagPurge, "purge", false, "also remove config and state")
}

// --- helpers -----------------------------------------------------------------

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "configured"
	}
	return "missing"
}
