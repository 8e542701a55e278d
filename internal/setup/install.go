package setup

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed growrelay.service.tmpl
var unitTemplateStr string

const (
	// BinaryName is the name of the installed binary.
	BinaryName = "growrelay"

	// UnitName is the systemd user unit name.
	UnitName = BinaryName + ".service"
)

// runCommand runs an external command and returns its combined output.
// Tests replace it.
var runCommand = func(name string, args ...string) ([]byte, error) {
	//nolint:gosec // fixed command names, arguments built from our own paths
	return exec.Command(name, args...).CombinedOutput()
}

// unitData holds template values for the systemd unit.
type unitData struct {
	BinaryPath string
	ConfigPath string
}

// BinaryInstallPath returns ~/.local/bin/growrelay.
func BinaryInstallPath(homeDir string) string {
	return filepath.Join(homeDir, ".local", "bin", BinaryName)
}

// UnitPath returns the systemd user unit destination path.
func UnitPath(homeDir string) string {
	return filepath.Join(homeDir, ".config", "systemd", "user", UnitName)
}

// InstallBinary copies the currently running binary to ~/.local/bin.
func InstallBinary(homeDir string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving current executable path: %w", err)
	}

	// Resolve symlinks so we copy the actual binary.
	self, err = filepath.EvalSymlinks(self)
	if err != nil {
		return fmt.Errorf("resolving executable symlinks: %w", err)
	}

	dest := BinaryInstallPath(homeDir)
	if self == dest {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	return copyFile(self, dest, 0o755)
}

// WriteUnit renders the systemd user unit from the embedded template and
// writes it to ~/.config/systemd/user/.
func WriteUnit(homeDir, binaryPath, configPath string) error {
	tmpl, err := template.New("unit").Parse(unitTemplateStr)
	if err != nil {
		return fmt.Errorf("parsing unit template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unitData{BinaryPath: binaryPath, ConfigPath: configPath}); err != nil {
		return fmt.Errorf("executing unit template: %w", err)
	}

	dest := UnitPath(homeDir)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating systemd user directory: %w", err)
	}
	if err := os.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing unit to %s: %w", dest, err)
	}
	return nil
}

// EnableService reloads systemd and starts the unit now and on login.
func EnableService() error {
	if err := systemctl("daemon-reload"); err != nil {
		return err
	}
	return systemctl("enable", "--now", UnitName)
}

// DisableService stops the unit and disables it. A missing unit is not an error.
func DisableService(homeDir string) error {
	if _, err := os.Stat(UnitPath(homeDir)); os.IsNotExist(err) {
		return nil // nothing to stop
	}
	return systemctl("disable", "--now", UnitName)
}

// RemoveUnit deletes the unit file.
func RemoveUnit(homeDir string) error {
	path := UnitPath(homeDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unit %s: %w", path, err)
	}
	return nil
}

// IsServiceActive reports whether the unit is currently running.
func IsServiceActive() bool {
	_, err := runCommand("systemctl", "--user", "is-active", "--quiet", UnitName)
	return err == nil
}

// PurgeUserData removes the config directory and the state directory.
func PurgeUserData(homeDir string) error {
	dirs := []string{
		filepath.Join(homeDir, ".config", BinaryName),
		filepath.Join(homeDir, ".local", "share", BinaryName),
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing %s: %w", dir, err)
		}
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func systemctl(args ...string) error {
	args = append([]string{"--user"}, args...)
	if output, err := runCommand("systemctl", args...); err != nil {
		return fmt.Errorf("systemctl %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return nil
}

// copyFile copies src to dst with the given permissions.
func copyFile(src, dst string, perm os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
