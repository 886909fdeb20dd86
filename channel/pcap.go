//go:build pcap

package channel

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"

	"edsu/frame"
)

// pcapTransport is a Transport over a live packet-capture session. The
// capture library numbers devices itself, so an interface index refers to
// the 1-based position in pcap.FindAllDevs.
type pcapTransport struct {
	handle   *pcap.Handle
	local    net.HardwareAddr
	protocol uint16
}

func newPcap() (Transport, error) { return &pcapTransport{}, nil }

func pcapDevice(ifc Interface) (pcap.Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return pcap.Interface{}, fmt.Errorf("list capture devices: %w", err)
	}
	if ifc.Name == "" {
		if ifc.Index < 1 || ifc.Index > len(devs) {
			return pcap.Interface{}, fmt.Errorf("no capture device %d (have %d)", ifc.Index, len(devs))
		}
		return devs[ifc.Index-1], nil
	}
	for _, dev := range devs {
		if dev.Name == ifc.Name {
			return dev, nil
		}
	}
	return pcap.Interface{}, fmt.Errorf("no capture device named %q", ifc.Name)
}

// hardwareAddr finds the system interface behind a capture device, first by
// name and then by a shared IP address, since capture device names differ
// from system names on some platforms.
func hardwareAddr(dev pcap.Interface) (net.HardwareAddr, error) {
	if ifi, err := net.InterfaceByName(dev.Name); err == nil {
		return ifi.HardwareAddr, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			for _, da := range dev.Addresses {
				if ipnet.IP.Equal(da.IP) {
					return ifi.HardwareAddr, nil
				}
			}
		}
	}
	return nil, fmt.Errorf("no hardware address for capture device %q", dev.Name)
}

func (p *pcapTransport) Open(cfg Config) error {
	dev, err := pcapDevice(cfg.Interface)
	if err != nil {
		return err
	}
	local, err := hardwareAddr(dev)
	if err != nil {
		return err
	}
	handle, err := pcap.OpenLive(dev.Name, frame.MaxFrameLen, false, pcap.BlockForever)
	if err != nil {
		return fmt.Errorf("capture session: %w", err)
	}
	p.handle = handle
	p.local = local
	p.protocol = cfg.Type
	return nil
}

func (p *pcapTransport) Send(data []byte) error {
	return p.handle.WritePacketData(data)
}

func (p *pcapTransport) Receive(buf []byte) (int, error) {
	for {
		data, _, err := p.handle.ReadPacketData()
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if frame.Accepts(p.protocol, data) {
			return copy(buf, data), nil
		}
	}
}

func (p *pcapTransport) Close() error {
	if p.handle != nil {
		p.handle.Close()
	}
	return nil
}

func (p *pcapTransport) LocalAddr() net.HardwareAddr { return p.local }
