//go:build !linux

package channel

import "fmt"

func newAFPacket() (Transport, error) {
	return nil, fmt.Errorf("%w: %s requires linux", ErrUnsupported, AFPacket)
}
