package channel

import (
	"errors"
	"net"
	"sync"

	"edsu/frame"
)

// LoopbackAddr is the local address of a Loopback created without one.
var LoopbackAddr = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

const loopbackBacklog = 256

// Loopback implements Transport with in-memory channels. Frames sent are
// fanned out to subscribers and frames injected are returned by Receive.
// It needs no privileges, which makes it useful for tests and dry runs.
type Loopback struct {
	local       net.HardwareAddr
	inbound     chan []byte
	mu          sync.RWMutex
	subscribers []chan []byte
	protocol    uint16
	opened      bool
	closed      bool
}

// NewLoopback constructs a loopback transport with the given local address,
// or LoopbackAddr if local is nil.
func NewLoopback(local net.HardwareAddr) *Loopback {
	if local == nil {
		local = LoopbackAddr
	}
	return &Loopback{
		local:   append(net.HardwareAddr(nil), local...),
		inbound: make(chan []byte, loopbackBacklog),
	}
}

// Open implements part of Transport.
func (l *Loopback) Open(cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.opened {
		return errors.New("loopback already open")
	}
	l.opened = true
	l.protocol = cfg.Type
	return nil
}

// Send implements part of Transport. Subscribers that are not keeping up
// miss the frame.
func (l *Loopback) Send(data []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed || !l.opened {
		return ErrClosed
	}
	for _, ch := range l.subscribers {
		dup := append([]byte(nil), data...)
		select {
		case ch <- dup:
		default:
		}
	}
	return nil
}

// Subscribe registers a consumer of sent frames. The returned channel is
// closed when the transport closes.
func (l *Loopback) Subscribe(buffer int) (<-chan []byte, error) {
	if buffer <= 0 {
		buffer = loopbackBacklog
	}
	ch := make(chan []byte, buffer)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(ch)
		return nil, ErrClosed
	}
	l.subscribers = append(l.subscribers, ch)
	return ch, nil
}

// Inject queues a frame to be returned by Receive.
func (l *Loopback) Inject(data []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.inbound <- append([]byte(nil), data...):
		return nil
	default:
		return errors.New("loopback inbound queue full")
	}
}

// Receive implements part of Transport. Injected frames not accepted by
// the configured type are dropped.
func (l *Loopback) Receive(buf []byte) (int, error) {
	l.mu.RLock()
	protocol := l.protocol
	l.mu.RUnlock()
	for data := range l.inbound {
		if frame.Accepts(protocol, data) {
			return copy(buf, data), nil
		}
	}
	return 0, ErrClosed
}

// Close implements part of Transport.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, ch := range l.subscribers {
		close(ch)
	}
	close(l.inbound)
	return nil
}

// LocalAddr implements part of Transport.
func (l *Loopback) LocalAddr() net.HardwareAddr { return l.local }
