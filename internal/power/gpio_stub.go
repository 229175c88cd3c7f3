//go:build !linux || (!arm && !arm64)

package power

import "fmt"

func openGPIO(lineName string, activeLow bool) (Switch, error) {
	return nil, fmt.Errorf("power: gpio unsupported on this platform")
}

var openGPIOFn = openGPIO
