package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/njoerd114/growrelay/internal/cache"
	"github.com/njoerd114/growrelay/internal/config"
	"github.com/njoerd114/growrelay/internal/gcal"
	"github.com/njoerd114/growrelay/internal/hatch"
	"github.com/njoerd114/growrelay/internal/server"
	"github.com/njoerd114/growrelay/internal/state"
	syncp "github.com/njoerd114/growrelay/internal/sync"
	"github.com/njoerd114/growrelay/internal/telemetry"
)

// app holds every wired component for one process.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	engine  *syncp.Engine
	records *cache.Records

	closers []func() error
}

// loadConfig reads the config file, or falls back to environment variables
// alone when the file does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return config.FromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", path, err)
	}
	return cfg, nil
}

// newApp loads the configuration and wires logger, telemetry, state store,
// cache, Hatch client, calendar connector, syncer and engine.
func newApp(ctx context.Context, cfgPath string, verbose bool) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	// --- Logger --------------------------------------------------------------

	logger, logCloser := telemetry.NewLogger(telemetry.LogConfig{
		Verbose:    verbose,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}, os.Stderr)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, log: logger}
	a.closers = append(a.closers, logCloser.Close)

	logger.Info("config loaded",
		"path", cfgPath,
		"interval", cfg.Sync.Interval,
		"schedule", cfg.Sync.Schedule,
		"state_backend", cfg.State.Backend,
		"credentials_configured", cfg.CredentialsConfigured(),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		tel, err := telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger = telemetry.BridgeLogs(logger, tel.Logs)
			slog.SetDefault(logger)
			a.log = logger
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func() error {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return tel.Shutdown(flushCtx)
			})
		}
	}

	// --- State store ---------------------------------------------------------

	store, storePath, closeStore, err := openStore(cfg.State, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	logger.Info("state store opened", "backend", cfg.State.Backend, "path", storePath)

	// --- Cache ---------------------------------------------------------------

	var c cache.Cache = cache.NewMemory()
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.OpTimeout, logger)
		if err != nil {
			logger.Warn("redis cache unavailable, using in-process cache", "error", err)
		} else {
			c = rc
			a.closers = append(a.closers, rc.Close)
		}
	}
	a.records = cache.NewRecords(c, cfg.Cache.LoginTTL, cfg.Cache.DataTTL, logger)

	// --- Sync engine ---------------------------------------------------------

	connector := gcal.NewConnector(cfg.Google.ServiceAccountFile, cfg.Google.CalendarSuffix, logger)
	syncer := syncp.NewSyncer(syncp.Options{
		Fetcher: hatch.NewClient(cfg.Hatch.BaseURL, nil, logger),
		Calendar: syncp.ConnectorFunc(func(ctx context.Context) (syncp.Calendar, error) {
			g, err := connector.Connect(ctx)
			if err != nil {
				return nil, err
			}
			return g, nil
		}),
		Store:           store,
		Cache:           a.records,
		Credentials:     cfg.Credentials(),
		CredentialsFile: cfg.Google.ServiceAccountFile,
		ShareEmail:      cfg.Google.ShareEmail,
		CallTimeout:     cfg.Sync.CallTimeout,
		Logger:          logger,
	})

	a.engine, err = syncp.NewEngine(syncer, syncp.Schedule{
		Interval:     cfg.Sync.Interval,
		Cron:         cfg.Sync.Schedule,
		CycleTimeout: cfg.Sync.CycleTimeout,
	}, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating sync engine: %w", err)
	}
	return a, nil
}

func (a *app) server() *server.Server {
	return server.New(server.Options{
		Trigger:               a.engine,
		Cache:                 a.records,
		CredentialsConfigured: a.cfg.CredentialsConfigured(),
		Logger:                a.log,
	})
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("shutdown", "error", err)
		}
	}
}

// openStore opens the configured state backend and returns it with its path
// and a close function.
func openStore(cfg config.StateConfig, logger *slog.Logger) (syncp.StateStore, string, func() error, error) {
	path, err := statePath(cfg)
	if err != nil {
		return nil, "", nil, err
	}

	if cfg.Backend == config.BackendJSON {
		return state.NewFileStore(path, logger), path, func() error { return nil }, nil
	}

	store, err := state.Open(path, logger)
	if err != nil {
		return nil, "", nil, fmt.Errorf("opening state DB at %q: %w", path, err)
	}
	return store, path, store.Close, nil
}

func statePath(cfg config.StateConfig) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	var (
		path string
		err  error
	)
	if cfg.Backend == config.BackendJSON {
		path, err = state.DefaultFilePath()
	} else {
		path, err = state.DefaultDBPath()
	}
	if err != nil {
		return "", fmt.Errorf("resolving state path: %w", err)
	}
	return path, nil
}
