package core

import "mpu6050-ng/internal/axis"

// Suspend stops sampling and powers the chip down while keeping each
// channel's enable state. Reconfiguration fails with ErrBusy until Resume.
func (c *Core) Suspend() error {
	c.ops[axis.Accel].Lock()
	defer c.ops[axis.Accel].Unlock()
	c.ops[axis.Gyro].Lock()
	defer c.ops[axis.Gyro].Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return wrap(ErrBusy, "suspend", errClosed)
	}
	if c.asleep {
		c.mu.Unlock()
		return nil
	}
	for c.task != nil {
		t := c.task
		t.cancel()
		c.mu.Unlock()
		<-t.done
		c.mu.Lock()
	}

	c.asleep = true
	var on []axis.Channel
	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		c.stopTimerLocked(ch)
		if c.state[ch] == Enabled {
			on = append(on, ch)
		}
	}
	powered := c.hwPowered
	c.mu.Unlock()

	if powered {
		for _, ch := range on {
			if err := c.hw.EngineSwitch(ch, false); err != nil {
				c.log.WithField("channel", ch).WithError(err).Warn("suspend: engine off failed")
			}
		}
		c.mu.Lock()
		c.hwPowered = false
		prev, gate := c.nextPowerGateLocked()
		c.mu.Unlock()
		c.applyPowerOff(prev, gate)
	}
	c.log.Info("suspended")
	return nil
}

// Resume wakes a suspended chip. Power-up runs asynchronously; disabling a
// channel meanwhile cancels it.
func (c *Core) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return wrap(ErrBusy, "resume", errClosed)
	}
	if !c.asleep || c.task != nil {
		return nil
	}
	c.asleep = false
	if !c.powerOn {
		return nil
	}
	t := c.newPowerTaskLocked(true)
	go c.runPowerTask(t)
	c.log.Info("resuming")
	return nil
}

// restoreChannels brings enabled channels back after a resume power-up.
func (c *Core) restoreChannels() {
	c.mu.Lock()
	var on []axis.Channel
	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		if c.state[ch] == Enabled {
			on = append(on, ch)
		}
	}
	c.mu.Unlock()

	for _, ch := range on {
		if err := c.hw.EngineSwitch(ch, true); err != nil {
			c.log.WithField("channel", ch).WithError(err).Warn("resume: engine on failed")
		}
	}
	if err := c.syncRegisters(); err != nil {
		c.log.WithError(err).Warn("resume: rate negotiation failed")
	}

	c.mu.Lock()
	for _, ch := range on {
		if c.state[ch] == Enabled && !c.batch[ch] {
			c.pending[ch] = true
			c.armLocked(ch, c.interval[ch])
		}
	}
	c.mu.Unlock()
}
