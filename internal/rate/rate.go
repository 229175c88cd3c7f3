// Package rate derives the shared sample-rate divisor from the two channels'
// requested poll intervals.
package rate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LPF is the digital low-pass filter register value (0..7).
type LPF uint8

const (
	NoLpf LPF = iota // 256 Hz bandwidth, filter bypassed
	Lpf188
	Lpf98
	Lpf42
	Lpf20
	Lpf10
	Lpf5
	Reserved

	DefaultLPF = Lpf42
)

// Output data rates of the gyro clock with the filter bypassed and enabled.
const (
	ODRFilterOff = 8000
	ODRFilterOn  = 1000
)

const (
	MinIntervalNoFilter = 1 * time.Millisecond
	MaxIntervalNoFilter = 32 * time.Millisecond
	MinIntervalFilter   = 1 * time.Millisecond
	MaxIntervalFilter   = 256 * time.Millisecond

	MinPollInterval     = 10 * time.Millisecond
	MaxPollInterval     = 5000 * time.Millisecond
	DefaultPollInterval = 200 * time.Millisecond

	// InitialDivisor is what chip init programs: 50 Hz with the filter on.
	InitialDivisor uint8 = ODRFilterOn/50 - 1
)

var lpfNames = [...]string{"256hz", "188hz", "98hz", "42hz", "20hz", "10hz", "5hz", "reserved"}

// Filtered reports whether the filter is active, which selects the 1 kHz base rate.
func (l LPF) Filtered() bool { return l >= Lpf188 && l <= Lpf5 }

func (l LPF) String() string {
	if int(l) < len(lpfNames) {
		return lpfNames[l]
	}
	return "lpf(" + strconv.Itoa(int(l)) + ")"
}

func (l LPF) MarshalText() ([]byte, error) {
	if int(l) >= len(lpfNames) {
		return nil, fmt.Errorf("rate: invalid lpf %d", uint8(l))
	}
	return []byte(lpfNames[l]), nil
}

func (l *LPF) UnmarshalText(b []byte) error {
	v, err := ParseLPF(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// ParseLPF accepts a bandwidth name ("42hz", "none", ...) or the raw register value.
func ParseLPF(s string) (LPF, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "none", "off", "nolpf":
		return NoLpf, nil
	}
	for i, n := range lpfNames {
		if v == n || v+"hz" == n {
			return LPF(i), nil
		}
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(lpfNames) {
		return LPF(n), nil
	}
	return 0, fmt.Errorf("rate: unknown lpf %q", s)
}

func baseRate(lpf LPF) (odr int, lo, hi time.Duration) {
	if lpf.Filtered() {
		return ODRFilterOn, MinIntervalFilter, MaxIntervalFilter
	}
	return ODRFilterOff, MinIntervalNoFilter, MaxIntervalNoFilter
}

// Negotiate returns the divisor serving the faster of the two requested
// intervals under the given filter mode.
func Negotiate(accel, gyro time.Duration, lpf LPF) uint8 {
	eff := accel
	if gyro < eff {
		eff = gyro
	}
	odr, lo, hi := baseRate(lpf)
	eff = clamp(eff, lo, hi)

	div := math.Round(float64(odr)*eff.Seconds()) - 1
	if div < 0 {
		div = 0
	}
	if div > 255 {
		div = 255
	}
	return uint8(div)
}

// SampleInterval is the inverse of Negotiate, for diagnostics.
func SampleInterval(div uint8, lpf LPF) time.Duration {
	d := time.Duration(int(div)+1) * time.Millisecond
	if !lpf.Filtered() {
		d /= 8
	}
	return d
}

// OutputRateHz is the chip's sample output rate for a divisor.
func OutputRateHz(div uint8, lpf LPF) float64 {
	odr, _, _ := baseRate(lpf)
	return float64(odr) / float64(int(div)+1)
}

// ClampPollInterval bounds a requested per-channel poll interval.
func ClampPollInterval(d time.Duration) time.Duration {
	return clamp(d, MinPollInterval, MaxPollInterval)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
