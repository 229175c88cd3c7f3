// Package calibration parses and applies the accelerometer bias record.
package calibration

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mpu6050-ng/internal/axis"
)

const (
	// RecordSize bounds the text record "x,y,z".
	RecordSize = 22

	// OneG is 1g in raw LSB at the +/-2g range.
	OneG = 16384

	DefaultSamples = 15
	SkipSamples    = 5
	SampleEvery    = 100 * time.Millisecond
)

var ErrFormat = errors.New("calibration: malformed record")

// Offsets is a bias in device-physical axes, raw LSB units.
type Offsets [3]int16

// Parse decodes "x,y,z". Trailing whitespace and NUL padding are ignored.
func Parse(buf []byte) (Offsets, error) {
	var o Offsets
	if len(buf) > RecordSize {
		return o, fmt.Errorf("%w: %d bytes exceeds %d", ErrFormat, len(buf), RecordSize)
	}
	s := strings.TrimSpace(strings.TrimRight(string(buf), "\x00"))
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return o, fmt.Errorf("%w: want 3 fields, got %d", ErrFormat, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return Offsets{}, fmt.Errorf("%w: field %d: %v", ErrFormat, i, err)
		}
		o[i] = int16(v)
	}
	return o, nil
}

func (o Offsets) String() string {
	return fmt.Sprintf("%d,%d,%d", o[0], o[1], o[2])
}

// Apply subtracts the bias from v, saturating at the int16 bounds.
func (o Offsets) Apply(v axis.Vector) axis.Vector {
	for i := range v {
		v[i] = axis.Saturate(int32(v[i]) - int32(o[i]))
	}
	return v
}

// Estimate computes the bias of a device lying flat, face up, from a run of
// stationary samples. The first SkipSamples readings are discarded.
func Estimate(samples []axis.Vector) (Offsets, error) {
	if len(samples) <= SkipSamples {
		return Offsets{}, fmt.Errorf("calibration: need more than %d samples, got %d", SkipSamples, len(samples))
	}
	use := samples[SkipSamples:]
	var sum [3]int64
	for _, s := range use {
		for i := range s {
			sum[i] += int64(s[i])
		}
	}
	n := int64(len(use))
	var o Offsets
	for i := range o {
		avg := sum[i] / n
		if i == 2 {
			avg -= OneG
		}
		o[i] = axis.Saturate(int32(avg))
	}
	return o, nil
}
