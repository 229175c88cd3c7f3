//go:build !linux

package i2c

import "fmt"

type Bus struct{}

func Open(path string) (*Bus, error) { return nil, fmt.Errorf("i2c: unsupported OS (need linux)") }

func (b *Bus) Close() error { return nil }

func (b *Bus) Path() string { return "" }

func (b *Bus) Dev(addr uint16) RegConn {
	return transfer(func(w, r []byte) error { return fmt.Errorf("i2c: unsupported OS") })
}
