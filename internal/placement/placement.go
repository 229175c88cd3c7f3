package placement

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/axis"
)

// Orientation is one of the eight physical mounting rotations of the chip.
type Orientation uint8

const (
	PortraitUp Orientation = iota
	LandscapeRight
	PortraitDown
	LandscapeLeft
	PortraitUpBack
	LandscapeRightBack
	PortraitDownBack
	LandscapeLeftBack

	NumOrientations = 8
)

var names = [NumOrientations]string{
	"Portrait Up",
	"Landscape Right",
	"Portrait Down",
	"Landscape Left",
	"Portrait Up Back Side",
	"Landscape Right Back Side",
	"Portrait Down Back Side",
	"Landscape Left Back Side",
}

// remap selects out[i] = sign[i] * in[src[i]].
type remap struct {
	src  [3]uint8
	sign [3]int8
}

var accelTable = [NumOrientations]remap{
	{src: [3]uint8{0, 1, 2}, sign: [3]int8{1, 1, 1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{1, -1, 1}},
	{src: [3]uint8{0, 1, 2}, sign: [3]int8{-1, -1, 1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{-1, 1, 1}},

	{src: [3]uint8{0, 1, 2}, sign: [3]int8{-1, 1, -1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{-1, -1, -1}},
	{src: [3]uint8{0, 1, 2}, sign: [3]int8{1, -1, -1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{1, 1, -1}},
}

var gyroTable = [NumOrientations]remap{
	{src: [3]uint8{0, 1, 2}, sign: [3]int8{-1, 1, -1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{-1, -1, -1}},
	{src: [3]uint8{0, 1, 2}, sign: [3]int8{1, -1, -1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{1, 1, -1}},

	{src: [3]uint8{0, 1, 2}, sign: [3]int8{1, 1, 1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{1, -1, 1}},
	{src: [3]uint8{0, 1, 2}, sign: [3]int8{-1, -1, 1}},
	{src: [3]uint8{1, 0, 2}, sign: [3]int8{-1, 1, 1}},
}

func (o Orientation) Valid() bool { return o < NumOrientations }

func (o Orientation) String() string {
	if !o.Valid() {
		return "Unknown(" + strconv.Itoa(int(o)) + ")"
	}
	return names[o]
}

// ParseName maps a placement name to its orientation. Unknown names return
// PortraitUp and ok=false; callers log and keep going with the default.
func ParseName(name string) (o Orientation, ok bool) {
	for i, n := range names {
		if n == name {
			return Orientation(i), true
		}
	}
	return PortraitUp, false
}

// Names lists the placement names in orientation order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names[:])
	return out
}

func (o Orientation) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("placement: invalid orientation %d", uint8(o))
	}
	return []byte(names[o]), nil
}

func (o *Orientation) UnmarshalText(b []byte) error {
	v, ok := ParseName(string(b))
	if !ok {
		return fmt.Errorf("placement: unknown name %q", string(b))
	}
	*o = v
	return nil
}

// Remap rotates a chip-native reading into device-physical axes.
// Orientation 0 and out-of-range orientations return v unchanged.
func Remap(v axis.Vector, o Orientation, ch axis.Channel) axis.Vector {
	if o == PortraitUp {
		return v
	}
	if !o.Valid() {
		log.WithField("orientation", uint8(o)).Warn("placement: orientation out of range, using identity")
		return v
	}
	t := &accelTable[o]
	if ch == axis.Gyro {
		t = &gyroTable[o]
	}
	var out axis.Vector
	for i := 0; i < 3; i++ {
		out[i] = axis.Saturate(int32(v[t.src[i]]) * int32(t.sign[i]))
	}
	return out
}
