package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/njoerd114/growrelay/internal/config"
	"github.com/njoerd114/growrelay/internal/state"
)

func TestLoadConfig_FallsBackToEnv(t *testing.T) {
	t.Setenv(config.EnvHatchEmail, "env@example.com")
	t.Setenv(config.EnvHatchPassword, "pw")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Hatch.Email != "env@example.com" {
		t.Errorf("Email = %q, want env value", cfg.Hatch.Email)
	}
}

func TestStatePath(t *testing.T) {
	got, err := statePath(config.StateConfig{Backend: config.BackendJSON, Path: "/tmp/x.json"})
	if err != nil || got != "/tmp/x.json" {
		t.Errorf("explicit path = %q, %v", got, err)
	}

	got, err = statePath(config.StateConfig{Backend: config.BackendJSON})
	if err != nil || filepath.Base(got) != "state.json" {
		t.Errorf("json default = %q, %v", got, err)
	}

	got, err = statePath(config.StateConfig{Backend: config.BackendSQLite})
	if err != nil || filepath.Base(got) != "state.db" {
		t.Errorf("sqlite default = %q, %v", got, err)
	}
}

func TestOpenStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	store, _, closeFn, err := openStore(config.StateConfig{Backend: config.BackendJSON, Path: filepath.Join(dir, "s.json")}, logger)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if _, ok := store.(*state.FileStore); !ok {
		t.Errorf("json backend = %T, want *state.FileStore", store)
	}
	_ = closeFn()

	store, path, closeFn, err := openStore(config.StateConfig{Backend: config.BackendSQLite, Path: filepath.Join(dir, "s.db")}, logger)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer closeFn()
	if _, ok := store.(*state.Store); !ok {
		t.Errorf("sqlite backend = %T, want *state.Store", store)
	}
	if path != filepath.Join(dir, "s.db") {
		t.Errorf("path = %q", path)
	}
	if st := store.Load(context.Background()); st.Len() != 0 {
		t.Errorf("fresh store has %d ids", st.Len())
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "growrelay ") {
		t.Errorf("output = %q", out.String())
	}
}
