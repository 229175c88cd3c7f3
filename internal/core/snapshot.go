package core

import (
	"time"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/rate"
)

type ChannelStatus struct {
	Channel    axis.Channel `json:"channel"`
	State      string       `json:"state"`
	IntervalMS int64        `json:"interval_ms"`
	Pending    bool         `json:"pending"`
	FastWake   bool         `json:"fast_wake"`
	Batch      bool         `json:"batch"`
	Published  uint64       `json:"published"`
}

type Snapshot struct {
	Placement string `json:"placement"`

	// PowerOn is the logical demand: some channel is enabling or enabled.
	PowerOn bool `json:"power_on"`
	// Powered is the physical supply state.
	Powered bool `json:"powered"`
	Asleep  bool `json:"asleep"`

	Divisor          uint8   `json:"divisor"`
	LPF              string  `json:"lpf"`
	SampleIntervalUS int64   `json:"sample_interval_us"`
	OutputRateHz     float64 `json:"output_rate_hz"`
	LowPowerWakeHz   int     `json:"low_power_wake_hz"`

	Calibration        string `json:"calibration"`
	CalibrationEnabled bool   `json:"calibration_enabled"`

	Channels [axis.NumChannels]ChannelStatus `json:"channels"`
}

func (c *Core) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Placement:          c.placement.String(),
		PowerOn:            c.powerOn,
		Powered:            c.hwPowered,
		Asleep:             c.asleep,
		Divisor:            c.divisor,
		LPF:                c.lpf.String(),
		SampleIntervalUS:   rate.SampleInterval(c.divisor, c.hwLPF).Microseconds(),
		OutputRateHz:       rate.OutputRateHz(c.divisor, c.hwLPF),
		LowPowerWakeHz:     c.lpaFreq,
		Calibration:        c.cal.String(),
		CalibrationEnabled: c.calOn,
	}
	for ch := axis.Accel; ch < axis.NumChannels; ch++ {
		s.Channels[ch] = ChannelStatus{
			Channel:    ch,
			State:      c.state[ch].String(),
			IntervalMS: c.interval[ch].Milliseconds(),
			Pending:    c.pending[ch],
			FastWake:   c.fastWake[ch],
			Batch:      c.batch[ch],
			Published:  c.published[ch],
		}
	}
	return s
}

// State reports one channel's state.
func (c *Core) State(ch axis.Channel) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[ch]
}

func (c *Core) PollInterval(ch axis.Channel) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval[ch]
}
