//go:build windows

package update

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// StartSelfUpdate replaces the running binary once it exits and starts
// the new one.
func StartSelfUpdate(newBinaryPath string) error {
	if strings.TrimSpace(newBinaryPath) == "" {
		return errors.New("falta la ruta del nuevo ejecutable")
	}

	targetPath, err := os.Executable()
	if err != nil {
		return err
	}

	tmpScript, err := os.CreateTemp(os.TempDir(), "balanza-agent-update-*.cmd")
	if err != nil {
		return err
	}
	scriptPath := tmpScript.Name()
	_ = tmpScript.Close()

	script := fmt.Sprintf("@echo off\r\nset \"TARGET=%s\"\r\nset \"NEW=%s\"\r\n:loop\r\nping 127.0.0.1 -n 2 > nul\r\ndel \"%%TARGET%%\" >nul 2>nul\r\nif exist \"%%TARGET%%\" goto loop\r\nmove /Y \"%%NEW%%\" \"%%TARGET%%\" >nul\r\nstart \"\" \"%%TARGET%%\"\r\ndel \"%%~f0\"\r\n", targetPath, newBinaryPath)

	if err := os.WriteFile(scriptPath, []byte(script), 0o700); err != nil {
		return err
	}

	cmd := exec.Command("cmd.exe", "/D", "/C", scriptPath)
	cmd.Dir = filepath.Dir(targetPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}

	return cmd.Start()
}
