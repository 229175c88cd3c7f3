package sim

import (
	"math"
	"time"

	"mpu6050-ng/internal/axis"
)

const (
	// Raw LSB per unit at the ranges the driver programs (2g, 2000 dps).
	lsbPerG   = 16384.0
	lsbPerDps = 16.4
)

// Motion is a deterministic rocking motion: roll swings with the period,
// pitch at twice the rate with half the amplitude.
type Motion struct {
	Period   time.Duration
	TiltDeg  float64
	GyroBias [3]int16
}

func (m Motion) params() (time.Duration, float64) {
	period := m.Period
	if period <= 0 {
		period = 10 * time.Second
	}
	tilt := m.TiltDeg
	if tilt == 0 {
		tilt = 15
	}
	return period, tilt
}

// Attitude returns roll and pitch in degrees plus their rates in deg/s.
func (m Motion) Attitude(now time.Time) (rollDeg, pitchDeg, rollRate, pitchRate float64) {
	period, tilt := m.params()
	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	w := 2 * math.Pi * phase
	omega := 2 * math.Pi / period.Seconds()

	rollDeg = tilt * math.Sin(w)
	pitchDeg = 0.5 * tilt * math.Sin(2*w)
	rollRate = tilt * omega * math.Cos(w)
	pitchRate = tilt * omega * math.Cos(2*w)
	return rollDeg, pitchDeg, rollRate, pitchRate
}

// Raw is what a chip lying face up would report at now.
func (m Motion) Raw(now time.Time) axis.Raw {
	roll, pitch, rollRate, pitchRate := m.Attitude(now)
	r := roll * math.Pi / 180
	p := pitch * math.Pi / 180

	lsb := func(v float64) int16 { return axis.Saturate(int32(math.Round(v))) }
	return axis.Raw{
		X:  lsb(-math.Sin(p) * lsbPerG),
		Y:  lsb(math.Sin(r) * math.Cos(p) * lsbPerG),
		Z:  lsb(math.Cos(r) * math.Cos(p) * lsbPerG),
		RX: lsb(rollRate*lsbPerDps) + m.GyroBias[0],
		RY: lsb(pitchRate*lsbPerDps) + m.GyroBias[1],
		RZ: m.GyroBias[2],
	}
}
