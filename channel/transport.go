package channel

import (
	"fmt"
	"net"
	"strings"
)

// Transport is the raw frame capability a Channel is built on. Open is
// called once before any other method; Close is called once after.
type Transport interface {
	// Open binds the transport to cfg.Interface and creates its handle.
	Open(cfg Config) error

	// Send writes one complete frame.
	Send(frame []byte) error

	// Receive blocks until a frame matching cfg.Type arrives and copies it
	// into buf.
	Receive(buf []byte) (int, error)

	// Close releases the handle.
	Close() error

	// LocalAddr returns the interface hardware address resolved by Open.
	LocalAddr() net.HardwareAddr
}

// Transport names accepted by NewTransport.
const (
	AFPacket = "afpacket"
	Pcap     = "pcap"
	Loop     = "loopback"
)

// NewTransport returns an unopened transport by name. The empty name
// selects AFPacket.
func NewTransport(name string) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", AFPacket, "raw":
		return newAFPacket()
	case Pcap:
		return newPcap()
	case Loop:
		return NewLoopback(nil), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %s, %s or %s)", name, AFPacket, Pcap, Loop)
	}
}
