package publish

import (
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"

	"mpu6050-ng/internal/core"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// UDPSink sends each sample as one JSON datagram.
type UDPSink struct {
	dest string
	conn udpConn
	log  *log.Entry
}

func NewUDPSink(dest string) (*UDPSink, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newUDPSink(dest, net.ResolveUDPAddr, dial)
}

func newUDPSink(dest string, resolve resolveFunc, dial dialFunc) (*UDPSink, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &UDPSink{
		dest: dest,
		conn: conn,
		log:  log.WithFields(log.Fields{"component": "publish", "sink": "udp", "dest": dest}),
	}, nil
}

func (u *UDPSink) Publish(s core.Sample) {
	b, err := Marshal(s)
	if err == nil {
		err = u.Send(b)
	}
	if err != nil {
		u.log.WithError(err).Debug("send failed")
	}
}

func (u *UDPSink) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := u.conn.Write(payload)
	return err
}

func (u *UDPSink) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
