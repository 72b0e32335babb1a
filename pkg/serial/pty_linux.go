//go:build linux

package serial

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// OpenPTY creates a pseudo-terminal pair in raw mode. The returned port is
// the controlling side; the peer path can be opened with Open like any
// serial device.
func OpenPTY() (*Port, string, error) {
	fd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, "", fmt.Errorf("serial: open ptmx: %w", err)
	}
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("serial: unlock pty: %w", err)
	}
	n, err := unix.IoctlGetUint32(fd, unix.TIOCGPTN)
	if err != nil {
		unix.Close(fd)
		return nil, "", fmt.Errorf("serial: pty number: %w", err)
	}
	if t, err := unix.IoctlGetTermios(fd, ioctlGetTermios); err == nil {
		makeRaw(t)
		_ = unix.IoctlSetTermios(fd, ioctlSetTermios, t)
	}
	p := &Port{
		fd:     fd,
		device: "/dev/ptmx",
		config: Config{ReadTimeout: time.Second},
	}
	return p, fmt.Sprintf("/dev/pts/%d", n), nil
}
