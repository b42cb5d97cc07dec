package setup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/NowakAdmin/BalanzaAgent/internal/autostart"
	"github.com/NowakAdmin/BalanzaAgent/internal/config"
)

const binaryName = "BalanzaAgent.exe"

// InstalledPath is where the agent lives once installed.
func InstalledPath() string {
	return filepath.Join(config.Dir(), binaryName)
}

// IsFirstRun reports whether the binary runs from somewhere other than
// InstalledPath. Always false outside Windows.
func IsFirstRun() bool {
	if runtime.GOOS != "windows" {
		return false
	}

	currentExe, err := os.Executable()
	if err != nil {
		return false
	}

	return !samePath(currentExe, InstalledPath())
}

// MoveToAppData copies the running binary to InstalledPath and points
// autostart at the copy.
func MoveToAppData() error {
	if runtime.GOOS != "windows" {
		return errors.New("la instalación solo está disponible en Windows")
	}

	currentExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("executable path: %w", err)
	}

	if err := copyBinary(currentExe, InstalledPath()); err != nil {
		return err
	}

	// best effort; the tray lets the user enable it later
	_ = autostart.Enable(autostart.AppName, InstalledPath())

	return nil
}

// copyBinary writes src next to dst and renames it into place, so a
// half-written binary never sits at dst.
func copyBinary(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open running binary: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	tmp := dst + ".new"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	_, copyErr := io.Copy(out, in)
	if err := errors.Join(copyErr, out.Close()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy binary: %w", err)
	}

	return os.Rename(tmp, dst)
}

// VerifyAutostart repoints an existing autostart entry at InstalledPath.
// A missing entry is left alone.
func VerifyAutostart() error {
	if runtime.GOOS != "windows" {
		return nil
	}

	current, err := autostart.Path(autostart.AppName)
	if err != nil {
		return nil
	}

	if samePath(current, InstalledPath()) {
		return nil
	}

	return autostart.Enable(autostart.AppName, InstalledPath())
}

func samePath(a, b string) bool {
	absA, _ := filepath.Abs(a)
	absB, _ := filepath.Abs(b)
	return strings.EqualFold(filepath.Clean(absA), filepath.Clean(absB))
}

// RestartApp starts binaryPath (or the current executable) and exits.
func RestartApp(binaryPath string) {
	if binaryPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return
		}
		binaryPath = exe
	}

	cmd := exec.Command(binaryPath)
	_ = cmd.Start()
	os.Exit(0)
}
