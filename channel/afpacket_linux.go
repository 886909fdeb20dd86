//go:build linux

package channel

import (
	"fmt"
	"io"
	"net"

	"github.com/mdlayher/packet"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"edsu/frame"
)

// afpacket is a Transport over an AF_PACKET raw socket. The socket is
// opened with the channel type as its protocol, so the kernel delivers only
// matching frames; Receive filters again for frames the kernel lets through
// on ETH_P_ALL.
type afpacket struct {
	conn     *packet.Conn
	peer     *packet.Addr
	local    net.HardwareAddr
	protocol uint16
}

func newAFPacket() (Transport, error) { return &afpacket{}, nil }

func lookupLink(ifc Interface) (netlink.Link, error) {
	if ifc.Name != "" {
		return netlink.LinkByName(ifc.Name)
	}
	return netlink.LinkByIndex(ifc.Index)
}

func (a *afpacket) Open(cfg Config) error {
	link, err := lookupLink(cfg.Interface)
	if err != nil {
		return fmt.Errorf("lookup interface: %w", err)
	}
	attrs := link.Attrs()
	if attrs.Flags&net.FlagUp == 0 {
		return fmt.Errorf("interface %s: %w", attrs.Name, unix.ENETDOWN)
	}
	ifi := &net.Interface{
		Index:        attrs.Index,
		MTU:          attrs.MTU,
		Name:         attrs.Name,
		HardwareAddr: attrs.HardwareAddr,
		Flags:        attrs.Flags,
	}
	conn, err := packet.Listen(ifi, packet.Raw, int(cfg.Type), nil)
	if err != nil {
		return fmt.Errorf("raw socket: %w", err)
	}
	a.conn = conn
	a.peer = &packet.Addr{HardwareAddr: cfg.Peer}
	a.local = attrs.HardwareAddr
	a.protocol = cfg.Type
	return nil
}

func (a *afpacket) Send(data []byte) error {
	n, err := a.conn.WriteTo(data, a.peer)
	if err != nil {
		return err
	}
	if n != len(data) {
		return io.ErrShortWrite
	}
	return nil
}

func (a *afpacket) Receive(buf []byte) (int, error) {
	for {
		n, _, err := a.conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}
		if frame.Accepts(a.protocol, buf[:n]) {
			return n, nil
		}
	}
}

func (a *afpacket) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *afpacket) LocalAddr() net.HardwareAddr { return a.local }
