// Package mpu6050 drives the InvenSense MPU-6050 accelerometer + gyroscope
// over I2C. It implements the hardware side of the sampling core: power,
// reset, register context, engine switching, rate divisor and filter.
package mpu6050

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/axis"
	"mpu6050-ng/internal/rate"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68

	regSmplrtDiv   = 0x19
	regConfig      = 0x1A
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regIntEnable   = 0x38
	regAccelXoutH  = 0x3B // accel(6) temp(2) gyro(6)
	regPwrMgmt1    = 0x6B
	regPwrMgmt2    = 0x6C
	regWhoAmI      = 0x75
	whoAmIVal      = 0x68

	bitReset      = 0x80
	maskClkSel    = 0x07
	clkInternal   = 0x00
	clkPLLGyroX   = 0x01
	standbyAccel  = 0x38
	standbyGyro   = 0x07
	maskDLPF      = 0x07
	fsGyro2000dps = 0x18
	fsAccel2g     = 0x00

	resetRetries = 10
	resetPoll    = 10 * time.Microsecond

	// GyroSettle is how long the gyro needs before it can clock the chip.
	GyroSettle = 30 * time.Millisecond
)

var ErrResetNotConfirmed = errors.New("mpu6050: reset not confirmed")

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// Supply switches the chip's power rail.
type Supply interface {
	Set(on bool) error
}

func DefaultAddress() uint16 { return addrDefault }

// Device holds the register context that survives a power cycle. Register
// read-modify-write sequences are serialized by mu.
type Device struct {
	dev    regIO
	supply Supply
	log    *log.Entry

	mu  sync.Mutex
	div uint8
	lpf rate.LPF
}

// New wraps an I2C device. Nothing is written until the core powers the
// chip up and calls RestoreContext.
func New(dev regIO, supply Supply, lpf rate.LPF) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("mpu6050: dev is nil")
	}
	if supply == nil {
		return nil, fmt.Errorf("mpu6050: supply is nil")
	}
	return &Device{
		dev:    dev,
		supply: supply,
		log:    log.WithField("component", "mpu6050"),
		div:    rate.InitialDivisor,
		lpf:    lpf,
	}, nil
}

func (d *Device) PowerSet(on bool) error {
	if err := d.supply.Set(on); err != nil {
		return fmt.Errorf("mpu6050: supply: %w", err)
	}
	return nil
}

// ChipReset pulses DEVICE_RESET and polls until the chip clears it.
func (d *Device) ChipReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("mpu6050: reset: %w", err)
	}
	for i := 0; i < resetRetries; i++ {
		sleep(resetPoll)
		v, err := d.dev.ReadRegU8(regPwrMgmt1)
		if err == nil && v&bitReset == 0 {
			return nil
		}
	}
	return ErrResetNotConfirmed
}

// RestoreContext reprograms everything the chip loses when unpowered. Both
// engines are left in standby.
func (d *Device) RestoreContext() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return fmt.Errorf("mpu6050: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return fmt.Errorf("mpu6050: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	steps := []struct {
		name string
		reg  byte
		val  byte
	}{
		{"wake", regPwrMgmt1, clkInternal},
		{"standby", regPwrMgmt2, standbyAccel | standbyGyro},
		{"sample divisor", regSmplrtDiv, d.div},
		{"filter", regConfig, byte(d.lpf) & maskDLPF},
		{"gyro range", regGyroConfig, fsGyro2000dps},
		{"accel range", regAccelConfig, fsAccel2g},
		{"interrupts", regIntEnable, 0x00},
	}
	for _, s := range steps {
		if err := d.dev.WriteReg(s.reg, s.val); err != nil {
			return fmt.Errorf("mpu6050: restore %s: %w", s.name, err)
		}
	}
	d.log.WithFields(log.Fields{"divisor": d.div, "lpf": d.lpf}).Debug("context restored")
	return nil
}

// EngineSwitch takes one engine in or out of standby. The gyro must run
// for GyroSettle before the clock moves to its PLL, and the clock moves back
// to the internal oscillator before the gyro stops.
func (d *Device) EngineSwitch(ch axis.Channel, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ch {
	case axis.Accel:
		return d.updateReg(regPwrMgmt2, standbyAccel, !on)
	case axis.Gyro:
		if on {
			if err := d.updateReg(regPwrMgmt2, standbyGyro, false); err != nil {
				return err
			}
			sleep(GyroSettle)
			return d.setClock(clkPLLGyroX)
		}
		if err := d.setClock(clkInternal); err != nil {
			return err
		}
		return d.updateReg(regPwrMgmt2, standbyGyro, true)
	}
	return fmt.Errorf("mpu6050: invalid channel %d", int(ch))
}

func (d *Device) WriteRateDivisor(div uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dev.WriteReg(regSmplrtDiv, div); err != nil {
		return fmt.Errorf("mpu6050: write divisor: %w", err)
	}
	d.div = div
	return nil
}

func (d *Device) WriteLPF(lpf rate.LPF) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.dev.ReadRegU8(regConfig)
	if err != nil {
		return fmt.Errorf("mpu6050: read config: %w", err)
	}
	v = v&^maskDLPF | byte(lpf)&maskDLPF
	if err := d.dev.WriteReg(regConfig, v); err != nil {
		return fmt.Errorf("mpu6050: write filter: %w", err)
	}
	d.lpf = lpf
	return nil
}

// ReadAxes reads accel and gyro in one burst.
func (d *Device) ReadAxes() (axis.Raw, error) {
	var buf [14]byte
	d.mu.Lock()
	err := d.dev.ReadReg(regAccelXoutH, buf[:])
	d.mu.Unlock()
	if err != nil {
		return axis.Raw{}, fmt.Errorf("mpu6050: read sensors failed: %w", err)
	}
	be := func(i int) int16 { return int16(buf[i])<<8 | int16(buf[i+1]) }
	return axis.Raw{
		X: be(0), Y: be(2), Z: be(4),
		RX: be(8), RY: be(10), RZ: be(12),
	}, nil
}

func (d *Device) setClock(src byte) error {
	v, err := d.dev.ReadRegU8(regPwrMgmt1)
	if err != nil {
		return fmt.Errorf("mpu6050: read pwr_mgmt_1: %w", err)
	}
	if err := d.dev.WriteReg(regPwrMgmt1, v&^maskClkSel|src); err != nil {
		return fmt.Errorf("mpu6050: set clock: %w", err)
	}
	return nil
}

func (d *Device) updateReg(reg, mask byte, set bool) error {
	v, err := d.dev.ReadRegU8(reg)
	if err != nil {
		return fmt.Errorf("mpu6050: read 0x%02X: %w", reg, err)
	}
	if set {
		v |= mask
	} else {
		v &^= mask
	}
	if err := d.dev.WriteReg(reg, v); err != nil {
		return fmt.Errorf("mpu6050: write 0x%02X: %w", reg, err)
	}
	return nil
}
