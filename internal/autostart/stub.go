//go:build !windows

package autostart

// Autostart is a Windows Run-key feature; elsewhere nothing is ever
// registered and changes are refused.

func IsEnabled(string) (bool, error) {
	return false, nil
}

func Path(string) (string, error) {
	return "", ErrNotRegistered
}

func Enable(string, string, ...string) error {
	return ErrUnsupported
}

func Disable(string) error {
	return nil
}
