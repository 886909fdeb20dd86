//go:build !pcap

package channel

import "fmt"

func newPcap() (Transport, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags pcap to use the %s transport", ErrUnsupported, Pcap)
}
