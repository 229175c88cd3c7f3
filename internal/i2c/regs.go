// Package i2c provides register access to I2C sensors, either straight
// through /dev/i2c-N or through periph.io.
package i2c

import (
	"fmt"
	"io"
)

// RegConn is what a register-mapped sensor driver needs from the bus.
type RegConn interface {
	ReadReg(reg byte, dst []byte) error
	ReadRegU8(reg byte) (byte, error)
	WriteReg(reg, value byte) error
}

// transfer is a combined write-then-read with a repeated start.
type transfer func(w, r []byte) error

func (tx transfer) ReadReg(reg byte, dst []byte) error {
	return tx([]byte{reg}, dst)
}

func (tx transfer) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (tx transfer) WriteReg(reg, value byte) error {
	return tx([]byte{reg, value}, nil)
}

const (
	TransportDev    = "dev"
	TransportPeriph = "periph"
)

// OpenDevice opens bus with the named transport and returns the device at
// addr. bus is a /dev path for TransportDev and a periph bus name ("1") for
// TransportPeriph. Closing the returned closer releases the bus.
func OpenDevice(transport, bus string, addr uint16) (RegConn, io.Closer, error) {
	switch transport {
	case "", TransportDev:
		b, err := Open(bus)
		if err != nil {
			return nil, nil, err
		}
		return b.Dev(addr), b, nil
	case TransportPeriph:
		b, err := OpenPeriph(bus)
		if err != nil {
			return nil, nil, err
		}
		return b.Dev(addr), b, nil
	}
	return nil, nil, fmt.Errorf("i2c: unknown transport %q", transport)
}

func checkAddr(addr uint16) error {
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("invalid i2c addr 0x%X", addr)
	}
	return nil
}
