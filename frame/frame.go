// Package frame encodes file chunks as IEEE 802.3 frames whose type/length
// field carries the number of valid payload bytes.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// AddrLen is the size of a hardware address.
	AddrLen = 6
	// HeaderLen is destination + source + length field.
	HeaderLen = 2*AddrLen + 2
	// PayloadCapacity is the largest payload carried by one frame.
	PayloadCapacity = 1500
	// MinPayload is the smallest payload that keeps a frame at MinFrameLen.
	MinPayload = MinFrameLen - HeaderLen
	// MinFrameLen is the Ethernet minimum frame size, excluding the FCS.
	MinFrameLen = 60
	// MaxFrameLen is HeaderLen + PayloadCapacity.
	MaxFrameLen = HeaderLen + PayloadCapacity

	// TypeIEEE8022 selects 802.2 frames, i.e. frames whose type field is a
	// length. It is the default channel protocol.
	TypeIEEE8022 uint16 = 0x0004
	// TypeAll matches every inbound frame.
	TypeAll uint16 = 0x0003
	// MinEthertype is the first value of the field read as a protocol type
	// rather than a length.
	MinEthertype uint16 = 0x0600
)

var (
	// ErrNotLengthFrame reports a frame whose type field is an Ethertype.
	ErrNotLengthFrame = errors.New("frame carries an ethertype, not a length")
	// ErrTruncated reports a frame shorter than its length field claims.
	ErrTruncated = errors.New("frame truncated")
)

// OverflowError reports a chunk that does not fit in one frame.
type OverflowError struct {
	Len int
	Cap int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("chunk of %d bytes exceeds frame capacity of %d", e.Len, e.Cap)
}

// Frame is a decoded length-carrying frame.
type Frame struct {
	Destination net.HardwareAddr
	Source      net.HardwareAddr
	Payload     []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s > %s length %d", f.Source, f.Destination, len(f.Payload))
}

// FrameLen returns the number of bytes transmitted for an n-byte payload.
func FrameLen(n int) int {
	if n < MinPayload {
		n = MinPayload
	}
	return n + HeaderLen
}

// Builder assembles frames in a single reusable buffer. The address fields
// are written once by NewBuilder and never touched again.
type Builder struct {
	buf [MaxFrameLen]byte
}

// NewBuilder returns a Builder for frames from src to dst.
func NewBuilder(dst, src net.HardwareAddr) (*Builder, error) {
	if len(dst) != AddrLen {
		return nil, fmt.Errorf("destination address %q: want %d bytes, got %d", dst, AddrLen, len(dst))
	}
	if len(src) != AddrLen {
		return nil, fmt.Errorf("source address %q: want %d bytes, got %d", src, AddrLen, len(src))
	}
	b := new(Builder)
	copy(b.buf[0:AddrLen], dst)
	copy(b.buf[AddrLen : 2*AddrLen], src)
	return b, nil
}

// Build stores chunk in the payload area and returns the wire image. The
// returned slice aliases the builder and is valid until the next call.
// Short chunks are zero padded to MinFrameLen; the length field always
// holds len(chunk).
func (b *Builder) Build(chunk []byte) ([]byte, error) {
	n := len(chunk)
	if n > PayloadCapacity {
		return nil, &OverflowError{Len: n, Cap: PayloadCapacity}
	}
	binary.BigEndian.PutUint16(b.buf[2*AddrLen : HeaderLen], uint16(n))
	copy(b.buf[HeaderLen:], chunk)
	total := FrameLen(n)
	clear(b.buf[HeaderLen+n : total])
	return b.buf[:total], nil
}

// Decode parses a frame the way a receiving counterpart does: the payload
// is exactly the number of bytes named by the length field, and any
// padding is discarded.
func Decode(data []byte) (*Frame, error) {
	var eth layers.Ethernet
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	if eth.EthernetType != layers.EthernetTypeLLC {
		return nil, fmt.Errorf("%w (0x%04x)", ErrNotLengthFrame, uint16(eth.EthernetType))
	}
	if int(eth.Length) > len(data)-HeaderLen {
		return nil, fmt.Errorf("%w: length %d, have %d payload bytes", ErrTruncated, eth.Length, len(data)-HeaderLen)
	}
	return &Frame{
		Destination: append(net.HardwareAddr(nil), eth.DstMAC...),
		Source:      append(net.HardwareAddr(nil), eth.SrcMAC...),
		Payload:     append([]byte(nil), eth.Payload...),
	}, nil
}

// Accepts reports whether an inbound frame matches protocol. TypeAll
// matches anything; TypeIEEE8022 matches any length-carrying frame;
// other values must equal the frame's type field.
func Accepts(protocol uint16, data []byte) bool {
	if len(data) < HeaderLen {
		return false
	}
	field := binary.BigEndian.Uint16(data[2*AddrLen : HeaderLen])
	switch protocol {
	case TypeAll:
		return true
	case TypeIEEE8022:
		return field < MinEthertype
	default:
		return field == protocol
	}
}
