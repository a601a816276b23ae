//go:build !linux || (!arm && !arm64)

package alarm

import "fmt"

// The overload output needs a GPIO character device on a Linux board.
func openGPIO(pin int) (output, error) {
	return nil, fmt.Errorf("alarm: gpio unsupported on this platform")
}

var openGPIOFn = openGPIO
