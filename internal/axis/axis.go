package axis

import (
	"fmt"
	"strings"
)

// Channel identifies one of the two logical sample streams.
type Channel int

const (
	Accel Channel = iota
	Gyro

	NumChannels Channel = 2
)

func (c Channel) Valid() bool { return c == Accel || c == Gyro }

func (c Channel) String() string {
	switch c {
	case Accel:
		return "accel"
	case Gyro:
		return "gyro"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Other returns the channel sharing the power domain with c.
func (c Channel) Other() Channel {
	if c == Accel {
		return Gyro
	}
	return Accel
}

func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid channel %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(b []byte) error {
	v, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accel", "accelerometer":
		return Accel, nil
	case "gyro", "gyroscope":
		return Gyro, nil
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Vector is one 3-axis reading in raw LSB units.
type Vector [3]int16

// Raw is the latest combined reading of both engines.
type Raw struct {
	X, Y, Z    int16
	RX, RY, RZ int16
}

// Vector returns the three axes belonging to ch.
func (r Raw) Vector(ch Channel) Vector {
	if ch == Gyro {
		return Vector{r.RX, r.RY, r.RZ}
	}
	return Vector{r.X, r.Y, r.Z}
}

// Saturate clamps v into the int16 range.
func Saturate(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
