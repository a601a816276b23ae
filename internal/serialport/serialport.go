// Package serialport opens the USB CDC serial link to the sensor board.
//
// Two backends are available: "termios" configures the tty directly through
// golang.org/x/sys/unix (Linux only), and "portable" goes through
// go.bug.st/serial. "auto" picks termios where it exists.
package serialport

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	BackendAuto     = "auto"
	BackendTermios  = "termios"
	BackendPortable = "portable"
)

const (
	DefaultDevice = "/dev/ttyACM0"
	DefaultBaud   = 115200
)

// SupportedBauds lists the rates both backends accept.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400}

func BaudSupported(baud int) bool {
	for _, b := range SupportedBauds {
		if b == baud {
			return true
		}
	}
	return false
}

// ResolveBackend maps a configured backend name to the one Open will use.
func ResolveBackend(backend string) (string, error) {
	switch b := strings.ToLower(strings.TrimSpace(backend)); b {
	case "", BackendAuto:
		if termiosSupported {
			return BackendTermios, nil
		}
		return BackendPortable, nil
	case BackendTermios:
		if !termiosSupported {
			return "", fmt.Errorf("serial backend %q not supported on this platform", b)
		}
		return b, nil
	case BackendPortable:
		return b, nil
	default:
		return "", fmt.Errorf("unknown serial backend %q", backend)
	}
}

// Open opens path at baud with the input buffer flushed.
func Open(path string, baud int, backend string) (io.ReadWriteCloser, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("serial device path is empty")
	}
	if !BaudSupported(baud) {
		return nil, fmt.Errorf("unsupported baud %d", baud)
	}
	b, err := ResolveBackend(backend)
	if err != nil {
		return nil, err
	}
	if b == BackendTermios {
		return openTermios(path, baud)
	}
	return openPortable(path, baud)
}

// AutoDetect returns the first present /dev/ttyACM* or /dev/ttyUSB* device,
// or "" when none exist.
func AutoDetect() string {
	return autoDetectIn(func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
}

func autoDetectIn(exists func(string) bool) string {
	for _, prefix := range []string{"/dev/ttyACM", "/dev/ttyUSB"} {
		for i := 0; i < 10; i++ {
			p := fmt.Sprintf("%s%d", prefix, i)
			if exists(p) {
				return p
			}
		}
	}
	return ""
}
