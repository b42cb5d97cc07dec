//go:build !windows

package update

import "errors"

func StartSelfUpdate(string) error {
	return errors.New("la autoactualización solo está soportada en Windows")
}
