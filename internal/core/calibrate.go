package core

import (
	"context"
	"errors"
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/calibration"
	"mpu6050-ng/internal/placement"
)

// CalibrateAccel samples the live accelerometer n times, every apart, with
// the device lying flat and face up, then stores and enables the estimated
// bias.
func (c *Core) CalibrateAccel(ctx context.Context, n int, every time.Duration) (calibration.Offsets, error) {
	if n <= calibration.SkipSamples {
		n = calibration.DefaultSamples
	}
	if every <= 0 {
		every = calibration.SampleEvery
	}

	c.mu.Lock()
	ready := c.state[axis.Accel] == Enabled && !c.asleep
	c.mu.Unlock()
	if !ready {
		return calibration.Offsets{}, wrap(ErrBusy, "calibrate", errors.New("accelerometer not enabled"))
	}

	samples := make([]axis.Vector, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := settle(ctx, every); err != nil {
				return calibration.Offsets{}, err
			}
		}
		c.mu.Lock()
		v := c.axes.Vector(axis.Accel)
		c.mu.Unlock()
		samples = append(samples, placement.Remap(v, c.placement, axis.Accel))
	}

	off, err := calibration.Estimate(samples)
	if err != nil {
		return calibration.Offsets{}, wrap(ErrConfig, "calibrate", err)
	}
	c.mu.Lock()
	c.cal = off
	c.calOn = true
	c.mu.Unlock()

	c.log.WithField("offsets", off.String()).Info("accelerometer calibrated")
	return off, nil
}
