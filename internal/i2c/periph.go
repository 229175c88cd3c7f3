package i2c

import (
	"fmt"
	"sync"

	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// PeriphBus is an I2C bus opened through the periph.io registry.
type PeriphBus struct {
	mu  sync.Mutex
	bus pi2c.BusCloser
}

// OpenPeriph opens a bus by periph name ("1", "I2C1"). An empty name picks
// the first registered bus.
func OpenPeriph(name string) (*PeriphBus, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("i2c: periph host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c: open periph bus %q: %w", name, err)
	}
	return &PeriphBus{bus: b}, nil
}

func (p *PeriphBus) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bus == nil {
		return nil
	}
	err := p.bus.Close()
	p.bus = nil
	return err
}

func (p *PeriphBus) Dev(addr uint16) RegConn {
	return transfer(func(w, r []byte) error {
		if err := checkAddr(addr); err != nil {
			return err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.bus == nil {
			return fmt.Errorf("i2c: periph bus closed")
		}
		d := pi2c.Dev{Bus: p.bus, Addr: addr}
		return d.Tx(w, r)
	})
}
