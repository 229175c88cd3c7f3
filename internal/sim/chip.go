// Package sim stands in for the sensor when no bus is available.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/rate"
)

var (
	ErrUnpowered = errors.New("sim: chip unpowered")
	ErrNotReady  = errors.New("sim: chip context not restored")
)

// Chip stands in for an MPU-6050 on a bus. It enforces the same ordering
// the real part needs (power, restore, then engines) and reports Motion
// for engines that are running.
type Chip struct {
	Motion Motion

	mu      sync.Mutex
	now     func() time.Time
	powered bool
	ready   bool
	engines [axis.NumChannels]bool
	div     uint8
	lpf     rate.LPF

	powerCycles int
}

// NewChip returns an unpowered chip whose filter register holds lpf, the
// value the core assumes is programmed.
func NewChip(m Motion, lpf rate.LPF) *Chip {
	return &Chip{Motion: m, now: time.Now, div: rate.InitialDivisor, lpf: lpf}
}

func (c *Chip) PowerSet(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on && !c.powered {
		c.powerCycles++
	}
	c.powered = on
	if !on {
		c.ready = false
		c.engines = [axis.NumChannels]bool{}
	}
	return nil
}

func (c *Chip) ChipReset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.powered {
		return ErrUnpowered
	}
	c.ready = false
	c.engines = [axis.NumChannels]bool{}
	return nil
}

func (c *Chip) RestoreContext() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.powered {
		return ErrUnpowered
	}
	c.ready = true
	return nil
}

func (c *Chip) EngineSwitch(ch axis.Channel, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	if !ch.Valid() {
		return fmt.Errorf("sim: invalid channel %d", int(ch))
	}
	c.engines[ch] = on
	return nil
}

func (c *Chip) WriteRateDivisor(div uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	c.div = div
	return nil
}

func (c *Chip) WriteLPF(lpf rate.LPF) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return err
	}
	c.lpf = lpf
	return nil
}

// ReadAxes returns zeros for engines in standby.
func (c *Chip) ReadAxes() (axis.Raw, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(); err != nil {
		return axis.Raw{}, err
	}
	r := c.Motion.Raw(c.now())
	if !c.engines[axis.Accel] {
		r.X, r.Y, r.Z = 0, 0, 0
	}
	if !c.engines[axis.Gyro] {
		r.RX, r.RY, r.RZ = 0, 0, 0
	}
	return r, nil
}

// Registers reports the programmed divisor and filter.
func (c *Chip) Registers() (div uint8, lpf rate.LPF) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.div, c.lpf
}

func (c *Chip) PowerCycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerCycles
}

func (c *Chip) checkLocked() error {
	if !c.powered {
		return ErrUnpowered
	}
	if !c.ready {
		return ErrNotReady
	}
	return nil
}
