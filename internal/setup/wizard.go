package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/njoerd114/growrelay/internal/config"
	"github.com/njoerd114/growrelay/internal/model"
)

const verifyTimeout = 30 * time.Second

// Wizard guides the user through first-run configuration and installation.
type Wizard struct {
	prompt *Prompter
	auth   Authenticator
	logger *slog.Logger
	w      io.Writer

	// ConfigPath defaults to config.DefaultPath.
	ConfigPath string
	// HomeDir defaults to the user's home directory.
	HomeDir string
}

// NewWizard creates a Wizard wired to the given I/O, Hatch authenticator and
// logger.
func NewWizard(r io.Reader, w io.Writer, auth Authenticator, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		auth:   auth,
		logger: logger,
		w:      w,
	}
}

// Run executes the interactive setup wizard. It walks the user through the
// Hatch login, the Google service account, sync settings, config file
// creation, and an optional systemd service install.
func (wiz *Wizard) Run(ctx context.Context) error {
	if err := wiz.resolvePaths(); err != nil {
		return err
	}

	fmt.Fprintf(wiz.w, "\nWelcome to GrowRelay Setup!\n")
	fmt.Fprintf(wiz.w, "This wizard copies Hatch Grow records into Google Calendar.\n\n")

	if _, statErr := os.Stat(wiz.ConfigPath); statErr == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", wiz.ConfigPath)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "\n  Keeping existing config.\n")
			return wiz.offerServiceInstall()
		}
		fmt.Fprintf(wiz.w, "\n")
	}

	// Step 1: Hatch account.
	fmt.Fprintf(wiz.w, "Step 1/4: Hatch Account\n")

	creds := model.Credentials{
		Email:    wiz.prompt.String("Hatch e-mail", ""),
		Password: wiz.prompt.Secret("Hatch password (input is visible)"),
	}

	fmt.Fprintf(wiz.w, "  Signing in to Hatch...")
	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	subjects, err := VerifyHatch(vctx, wiz.auth, creds)
	cancel()
	if err != nil {
		fmt.Fprintf(wiz.w, " ✗\n")
		return fmt.Errorf("cannot sign in to Hatch: %w\n\n  Check the e-mail and password, then try again", err)
	}
	fmt.Fprintf(wiz.w, " ✓\n")
	fmt.Fprintf(wiz.w, "  Found %d baby profile(s):\n", len(subjects))
	for _, s := range subjects {
		fmt.Fprintf(wiz.w, "    • %s (id %s)\n", s.DisplayName(), s.ID)
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 2: Google Calendar.
	fmt.Fprintf(wiz.w, "Step 2/4: Google Calendar\n")

	saPath := wiz.prompt.String("Service account key file",
		filepath.Join(filepath.Dir(wiz.ConfigPath), "service_account.json"))
	saEmail, err := ServiceAccountEmail(saPath)
	if err != nil {
		return fmt.Errorf("checking service account: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Service account %s\n", saEmail)

	shareEmail := wiz.prompt.String("Share calendars with", creds.Email)
	fmt.Fprintf(wiz.w, "\n")

	// Step 3: Sync settings.
	fmt.Fprintf(wiz.w, "Step 3/4: Sync Settings\n")

	intervalStr := wiz.prompt.String("How often to sync? (1m to 24h)", config.DefaultInterval.String())
	interval, parseErr := time.ParseDuration(intervalStr)
	if parseErr != nil || interval < time.Minute || interval > 24*time.Hour {
		interval = config.DefaultInterval
		fmt.Fprintf(wiz.w, "  (invalid interval, using default %s)\n", interval)
	}

	backends := []string{config.BackendSQLite, config.BackendJSON}
	idx, err := wiz.prompt.Select("Where to keep sync state", []string{
		"SQLite database (recommended)",
		"JSON file",
	})
	if err != nil {
		return fmt.Errorf("selecting state backend: %w", err)
	}

	var httpAddr string
	if wiz.prompt.Confirm("Enable the HTTP endpoint (/health, /sync)?", false) {
		httpAddr = wiz.prompt.String("Listen address", ":8080")
	}
	fmt.Fprintf(wiz.w, "\n")

	// Step 4: Write config.
	fmt.Fprintf(wiz.w, "Step 4/4: Save Configuration\n")

	cfg := &config.Config{
		Hatch: config.HatchConfig{Email: creds.Email, Password: creds.Password},
		Google: config.GoogleConfig{
			ServiceAccountFile: saPath,
			ShareEmail:         shareEmail,
		},
		Sync:  config.SyncConfig{Interval: interval},
		State: config.StateConfig{Backend: backends[idx]},
		HTTP:  config.HTTPConfig{Addr: httpAddr},
	}
	if err := cfg.Write(wiz.ConfigPath); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Config written to %s\n\n", wiz.ConfigPath)

	return wiz.offerServiceInstall()
}

func (wiz *Wizard) resolvePaths() error {
	if wiz.ConfigPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolving config path: %w", err)
		}
		wiz.ConfigPath = p
	}
	if wiz.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		wiz.HomeDir = home
	}
	return nil
}

// offerServiceInstall asks the user whether to install a systemd user service.
func (wiz *Wizard) offerServiceInstall() error {
	if !wiz.prompt.Confirm("Install as a systemd user service (starts on login)?", true) {
		fmt.Fprintf(wiz.w, "\n  Skipping service install.\n")
		fmt.Fprintf(wiz.w, "  You can run manually with: growrelay daemon\n")
		fmt.Fprintf(wiz.w, "  Or install later with:     growrelay setup\n\n")
		return nil
	}

	fmt.Fprintf(wiz.w, "\n")

	binPath := BinaryInstallPath(wiz.HomeDir)
	fmt.Fprintf(wiz.w, "  Installing binary to %s...\n", binPath)
	if err := InstallBinary(wiz.HomeDir); err != nil {
		return fmt.Errorf("installing binary: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Binary installed\n")

	if err := WriteUnit(wiz.HomeDir, binPath, wiz.ConfigPath); err != nil {
		return fmt.Errorf("writing unit: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ systemd unit written to %s\n", UnitPath(wiz.HomeDir))

	if err := EnableService(); err != nil {
		return fmt.Errorf("enabling service: %w", err)
	}
	fmt.Fprintf(wiz.w, "  ✓ Service enabled and running\n")

	fmt.Fprintf(wiz.w, "\nSetup complete! GrowRelay is syncing in the background.\n")
	fmt.Fprintf(wiz.w, "  Config:  %s\n", wiz.ConfigPath)
	fmt.Fprintf(wiz.w, "  Logs:    journalctl --user -u %s\n", UnitName)
	fmt.Fprintf(wiz.w, "  Status:  growrelay status\n")
	fmt.Fprintf(wiz.w, "  Remove:  growrelay uninstall\n\n")

	wiz.logger.Debug("service installed", "unit", UnitPath(wiz.HomeDir))
	return nil
}
