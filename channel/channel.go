// Package channel binds a raw link-layer transport to one network
// interface and exposes frame send and receive on it.
package channel

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"edsu/frame"
	"edsu/internal/logging"
)

const (
	// DefaultInterface is used when neither configuration nor the
	// environment name one.
	DefaultInterface = "eth1"
)

// DefaultPeer is the destination used when none is configured.
var DefaultPeer = net.HardwareAddr{0x00, 0xb0, 0x52, 0x00, 0x00, 0x01}

// Flags alter channel behaviour.
type Flags uint8

const (
	// Silence suppresses informational channel messages.
	Silence Flags = 1 << iota
	// Verbose dumps every frame sent or received.
	Verbose
)

// Has reports whether all bits of x are set.
func (f Flags) Has(x Flags) bool { return f&x == x }

// Interface names a local network interface either by name or by index.
// Exactly one of the two is set.
type Interface struct {
	Name  string
	Index int
}

// ParseInterface treats an all-digit reference as an index.
func ParseInterface(s string) Interface {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return Interface{Index: n}
	}
	return Interface{Name: s}
}

func (i Interface) IsZero() bool { return i.Name == "" && i.Index <= 0 }

func (i Interface) String() string {
	if i.Name != "" {
		return i.Name
	}
	return strconv.Itoa(i.Index)
}

// Config is the complete description of a channel before it is opened.
type Config struct {
	Interface Interface
	Peer      net.HardwareAddr
	Type      uint16
	Flags     Flags
}

// DefaultConfig returns the configuration used before any overrides.
func DefaultConfig() Config {
	return Config{
		Interface: Interface{Name: DefaultInterface},
		Peer:      append(net.HardwareAddr(nil), DefaultPeer...),
		Type:      frame.TypeIEEE8022,
	}
}

// Validate checks the structure of c without performing any I/O.
func (c Config) Validate() error {
	if c.Interface.IsZero() {
		return errors.New("no interface configured")
	}
	if c.Interface.Name != "" && c.Interface.Index != 0 {
		return errors.New("interface has both a name and an index")
	}
	if len(c.Peer) != frame.AddrLen {
		return fmt.Errorf("peer address %q must be %d bytes", c.Peer, frame.AddrLen)
	}
	return nil
}

// Channel is an open link-layer channel. It has a single owner and is not
// safe for concurrent use.
type Channel struct {
	cfg    Config
	tr     Transport
	local  net.HardwareAddr
	logger *logging.Logger
	closed bool
}

// Open binds tr to the interface in cfg and resolves the local hardware
// address. Every failure is reported as an *OpenError.
func Open(cfg Config, tr Transport, logger *logging.Logger) (*Channel, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	fail := func(err error) (*Channel, error) {
		return nil, &OpenError{Interface: cfg.Interface.String(), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	if tr == nil {
		return fail(errors.New("no transport"))
	}
	if err := tr.Open(cfg); err != nil {
		return fail(err)
	}
	local := tr.LocalAddr()
	if len(local) != frame.AddrLen {
		tr.Close()
		return fail(fmt.Errorf("interface has no usable hardware address (%q)", local))
	}
	c := &Channel{
		cfg:    cfg,
		tr:     tr,
		local:  append(net.HardwareAddr(nil), local...),
		logger: logger,
	}
	c.info("channel open", map[string]interface{}{
		"interface": cfg.Interface.String(),
		"local":     c.local.String(),
		"peer":      cfg.Peer.String(),
		"type":      fmt.Sprintf("0x%04x", cfg.Type),
	})
	return c, nil
}

func (c *Channel) info(msg string, fields map[string]interface{}) {
	if c.cfg.Flags.Has(Silence) {
		return
	}
	c.logger.Info(msg, fields)
}

func (c *Channel) dump(msg string, data []byte) {
	if !c.cfg.Flags.Has(Verbose) || !c.logger.Enabled(logging.LevelDebug) {
		return
	}
	fields := map[string]interface{}{"length": len(data), "dump": hex.Dump(data)}
	if f, err := frame.Decode(data); err == nil {
		fields["dst"] = f.Destination.String()
		fields["src"] = f.Source.String()
		fields["payload"] = len(f.Payload)
	}
	c.logger.Debug(msg, fields)
}

// Send transmits data as one frame.
func (c *Channel) Send(data []byte) error {
	if c.closed {
		return &SendError{Len: len(data), Err: ErrClosed}
	}
	if err := c.tr.Send(data); err != nil {
		return &SendError{Len: len(data), Err: err}
	}
	c.dump("frame sent", data)
	return nil
}

// Receive blocks until a frame accepted by the configured type arrives and
// copies it into buf. It returns the number of bytes copied.
func (c *Channel) Receive(buf []byte) (int, error) {
	if c.closed {
		return 0, &ReceiveError{Err: ErrClosed}
	}
	n, err := c.tr.Receive(buf)
	if err != nil {
		return n, &ReceiveError{Err: err}
	}
	c.dump("frame received", buf[:n])
	return n, nil
}

// Close releases the transport. Only the first call reaches the transport.
func (c *Channel) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	err := c.tr.Close()
	c.info("channel closed", map[string]interface{}{"interface": c.cfg.Interface.String()})
	return err
}

// LocalAddr returns the hardware address resolved by Open.
func (c *Channel) LocalAddr() net.HardwareAddr { return c.local }

// Peer returns the configured destination address.
func (c *Channel) Peer() net.HardwareAddr { return c.cfg.Peer }

// Config returns the configuration the channel was opened with.
func (c *Channel) Config() Config { return c.cfg }
