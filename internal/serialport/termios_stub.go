//go:build !linux

package serialport

import (
	"fmt"
	"os"
)

const termiosSupported = false

func openTermios(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("termios backend not supported on this platform")
}
