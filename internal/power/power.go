// Package power switches the sensor supply.
package power

import (
	"strconv"
	"strings"
	"sync"
)

// Switch drives the supply rail of the sensor.
type Switch interface {
	Set(on bool) error
	Close() error
}

type Config struct {
	// GPIO is the enable line, as a BCM number ("17") or a line name
	// ("GPIO17"). Empty means the sensor is always powered.
	GPIO      string
	ActiveLow bool
}

// Open returns the switch described by cfg.
func Open(cfg Config) (Switch, error) {
	name := strings.TrimSpace(cfg.GPIO)
	if name == "" {
		return &AlwaysOn{}, nil
	}
	if _, err := strconv.Atoi(name); err == nil {
		name = "GPIO" + name
	}
	return openGPIOFn(name, cfg.ActiveLow)
}

// AlwaysOn is the switch for boards with a fixed supply. It only records
// the requested state.
type AlwaysOn struct {
	mu sync.Mutex
	on bool
}

func (a *AlwaysOn) Set(on bool) error {
	a.mu.Lock()
	a.on = on
	a.mu.Unlock()
	return nil
}

func (a *AlwaysOn) On() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.on
}

func (a *AlwaysOn) Close() error { return nil }
