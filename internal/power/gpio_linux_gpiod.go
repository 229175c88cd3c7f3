//go:build linux && (arm || arm64)

package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openGPIO requests the named line as an output, initially off, on the
// first GPIO chip that has it.
func openGPIO(lineName string, activeLow bool) (Switch, error) {
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", e.Name()))
		}
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("mpu6050-ng-power")}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodSwitch{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("power: gpio line %q not found (or busy)", lineName)
}

var openGPIOFn = openGPIO

type gpiodSwitch struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodSwitch) Set(on bool) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("power: gpio switch closed")
	}
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *gpiodSwitch) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	// Leave the sensor unpowered.
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
