package autostart

import (
	"errors"
	"fmt"
	"strings"
)

// AppName is the Run-key value name.
const AppName = "BalanzaAgent"

var (
	ErrNotRegistered = errors.New("autostart: entry not registered")
	ErrUnsupported   = errors.New("autostart: not supported on this platform")
)

// Command builds the command line stored in the Run key.
func Command(executablePath string, args ...string) string {
	command := fmt.Sprintf("\"%s\"", executablePath)
	if len(args) > 0 {
		command += " " + strings.Join(args, " ")
	}
	return command
}

// ExecutablePath extracts the binary from a stored command line.
func ExecutablePath(command string) string {
	command = strings.TrimSpace(command)
	if strings.HasPrefix(command, "\"") {
		if end := strings.Index(command[1:], "\""); end >= 0 {
			return command[1 : end+1]
		}
		return strings.Trim(command, "\"")
	}
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i]
	}
	return command
}
