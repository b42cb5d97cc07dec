//go:build windows

package autostart

import (
	"errors"
	"strings"

	"golang.org/x/sys/windows/registry"
)

const runKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

// withRunKey opens the current user's Run key with access and hands it to fn.
func withRunKey(access uint32, create bool, fn func(k registry.Key) error) error {
	var (
		k   registry.Key
		err error
	)
	if create {
		k, _, err = registry.CreateKey(registry.CURRENT_USER, runKeyPath, access)
	} else {
		k, err = registry.OpenKey(registry.CURRENT_USER, runKeyPath, access)
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = k.Close()
	}()

	return fn(k)
}

// command returns the stored command line for appName, or ErrNotRegistered.
func command(appName string) (string, error) {
	var value string
	err := withRunKey(registry.QUERY_VALUE, false, func(k registry.Key) error {
		v, _, err := k.GetStringValue(appName)
		if errors.Is(err, registry.ErrNotExist) {
			return ErrNotRegistered
		}
		value = strings.TrimSpace(v)
		return err
	})
	if err == nil && value == "" {
		err = ErrNotRegistered
	}
	return value, err
}

func IsEnabled(appName string) (bool, error) {
	_, err := command(appName)
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	return err == nil, err
}

func Path(appName string) (string, error) {
	cmd, err := command(appName)
	if err != nil {
		return "", err
	}
	return ExecutablePath(cmd), nil
}

func Enable(appName string, executablePath string, args ...string) error {
	return withRunKey(registry.SET_VALUE, true, func(k registry.Key) error {
		return k.SetStringValue(appName, Command(executablePath, args...))
	})
}

func Disable(appName string) error {
	return withRunKey(registry.SET_VALUE, false, func(k registry.Key) error {
		if err := k.DeleteValue(appName); err != nil && !errors.Is(err, registry.ErrNotExist) {
			return err
		}
		return nil
	})
}
