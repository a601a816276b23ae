//go:build linux && (arm || arm64)

package alarm

import (
	"fmt"
	"log"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "fingerviz-alarm"

// openGPIO requests BCM pin as an output on whichever gpiochip exposes the
// line named "GPIO<pin>". The line starts low.
func openGPIO(pin int) (output, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("alarm: invalid gpio pin %d", pin)
	}
	name := fmt.Sprintf("GPIO%d", pin)

	chip, offset, err := gpiocdev.FindLine(name)
	if err != nil {
		return nil, fmt.Errorf("alarm: gpio line %q not found: %w", name, err)
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("alarm: request %s %s:%d: %w", name, chip, offset, err)
	}
	log.Printf("alarm gpio %s on %s:%d", name, chip, offset)
	return &gpiodLine{line: line}, nil
}

var openGPIOFn = openGPIO

type gpiodLine struct {
	line *gpiocdev.Line
}

func (g *gpiodLine) Set(on bool) error {
	if g.line == nil {
		return fmt.Errorf("alarm: gpio line closed")
	}
	if on {
		return g.line.SetValue(1)
	}
	return g.line.SetValue(0)
}

// Close drives the line low before releasing it.
func (g *gpiodLine) Close() error {
	if g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	return err
}
