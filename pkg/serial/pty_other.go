//go:build !linux

package serial

import "errors"

// OpenPTY is only available on Linux.
func OpenPTY() (*Port, string, error) {
	return nil, "", errors.New("serial: pseudo-terminals are only supported on linux")
}
