package channel

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"edsu/frame"
	"edsu/internal/logging"
)

// stubTransport records calls and fails on demand.
type stubTransport struct {
	openErr error
	sendErr error
	local   net.HardwareAddr
	sent    [][]byte
	closes  int
}

func (s *stubTransport) Open(Config) error { return s.openErr }
func (s *stubTransport) Send(data []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}
func (s *stubTransport) Receive([]byte) (int, error) { return 0, io.EOF }
func (s *stubTransport) Close() error                { s.closes++; return nil }
func (s *stubTransport) LocalAddr() net.HardwareAddr { return s.local }

func TestParseInterface(t *testing.T) {
	tests := []struct {
		in   string
		want Interface
	}{
		{"eth0", Interface{Name: "eth0"}},
		{" 2 ", Interface{Index: 2}},
		{"enp0s31f6", Interface{Name: "enp0s31f6"}},
		{"-1", Interface{Name: "-1"}},
	}
	for _, test := range tests {
		if diff := cmp.Diff(test.want, ParseInterface(test.in)); diff != "" {
			t.Errorf("ParseInterface(%q) (-want +got):\n%s", test.in, diff)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Type != frame.TypeIEEE8022 {
		t.Fatalf("default type: got 0x%04x", cfg.Type)
	}

	bad := cfg
	bad.Peer = bad.Peer[:5]
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for short peer")
	}
	bad = cfg
	bad.Interface = Interface{}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for missing interface")
	}
	bad = cfg
	bad.Interface = Interface{Name: "eth0", Index: 3}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for ambiguous interface")
	}
}

func TestOpenErrors(t *testing.T) {
	cfg := DefaultConfig()

	_, err := Open(cfg, &stubTransport{openErr: os.ErrPermission}, nil)
	var oe *OpenError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if oe.Interface != DefaultInterface || !errors.Is(err, os.ErrPermission) {
		t.Fatalf("unexpected open error %v", err)
	}

	stub := &stubTransport{local: net.HardwareAddr{1, 2, 3}}
	if _, err := Open(cfg, stub, nil); !errors.As(err, &oe) {
		t.Fatalf("expected OpenError for bad local address, got %v", err)
	}
	if stub.closes != 1 {
		t.Fatalf("transport not closed after failed open")
	}

	if _, err := Open(cfg, nil, nil); !errors.As(err, &oe) {
		t.Fatalf("expected OpenError for nil transport, got %v", err)
	}
}

func TestSendError(t *testing.T) {
	boom := errors.New("boom")
	stub := &stubTransport{local: LoopbackAddr, sendErr: boom}
	ch, err := Open(DefaultConfig(), stub, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = ch.Send(make([]byte, frame.MinFrameLen))
	var se *SendError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Fatalf("expected SendError wrapping boom, got %v", err)
	}
	if se.Len != frame.MinFrameLen {
		t.Fatalf("send error length: got %d", se.Len)
	}
}

func TestCloseOnce(t *testing.T) {
	stub := &stubTransport{local: LoopbackAddr}
	ch, err := Open(DefaultConfig(), stub, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ch.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second close: expected ErrClosed, got %v", err)
	}
	if stub.closes != 1 {
		t.Fatalf("transport closed %d times", stub.closes)
	}
	if err := ch.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close: expected ErrClosed, got %v", err)
	}
}

func TestLoopbackSendReceive(t *testing.T) {
	lo := NewLoopback(nil)
	cfg := DefaultConfig()
	ch, err := Open(cfg, lo, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()

	if got := ch.LocalAddr(); !bytes.Equal(got, LoopbackAddr) {
		t.Fatalf("local address: got %s", got)
	}
	sub, err := lo.Subscribe(4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b, err := frame.NewBuilder(ch.Peer(), ch.LocalAddr())
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	data, err := b.Build([]byte("hello"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ch.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := <-sub; !bytes.Equal(got, data) {
		t.Fatalf("subscriber got % x, want % x", got, data)
	}

	// An Ethertype frame is not accepted by the default 802.2 type and must
	// be skipped in favour of the following length frame.
	ether := append([]byte(nil), data...)
	ether[12], ether[13] = 0x08, 0x00
	if err := lo.Inject(ether); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if err := lo.Inject(data); err != nil {
		t.Fatalf("inject: %v", err)
	}
	buf := make([]byte, frame.MaxFrameLen)
	n, err := ch.Receive(buf)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	got, err := frame.Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got.Payload) != "hello" {
		t.Fatalf("received payload %q", got.Payload)
	}
}

func TestLoopbackClosed(t *testing.T) {
	lo := NewLoopback(nil)
	if err := lo.Send([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send before open: expected ErrClosed, got %v", err)
	}
	if err := lo.Open(DefaultConfig()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := lo.Open(DefaultConfig()); err == nil {
		t.Fatalf("expected second open to fail")
	}
	sub, err := lo.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := lo.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub; ok {
		t.Fatalf("subscriber channel not closed")
	}
	if _, err := lo.Receive(make([]byte, 10)); !errors.Is(err, ErrClosed) {
		t.Fatalf("receive after close: expected ErrClosed, got %v", err)
	}
	if err := lo.Inject([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("inject after close: expected ErrClosed, got %v", err)
	}
}

func TestVerboseDump(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.LevelDebug, &buf)
	cfg := DefaultConfig()
	cfg.Flags = Verbose
	ch, err := Open(cfg, NewLoopback(nil), logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ch.Close()
	b, err := frame.NewBuilder(cfg.Peer, ch.LocalAddr())
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	data, err := b.Build([]byte("abc"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := ch.Send(data); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "frame sent") {
		t.Fatalf("expected frame dump in log: %s", out)
	}
	if !strings.Contains(out, `"payload":3`) || !strings.Contains(out, `"dst":"00:b0:52:00:00:01"`) {
		t.Fatalf("expected decoded header fields in log: %s", out)
	}
}

func TestSilence(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.LevelDebug, &buf)
	cfg := DefaultConfig()
	cfg.Flags = Silence
	ch, err := Open(cfg, NewLoopback(nil), logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ch.Close()
	if buf.Len() != 0 {
		t.Fatalf("silent channel logged: %s", buf.String())
	}
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport("loopback")
	if err != nil {
		t.Fatalf("loopback: %v", err)
	}
	if _, ok := tr.(*Loopback); !ok {
		t.Fatalf("loopback transport has type %T", tr)
	}
	if _, err := NewTransport("carrier-pigeon"); err == nil {
		t.Fatalf("expected error for unknown transport")
	}
}
