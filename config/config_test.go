package config

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"edsu/channel"
	"edsu/frame"
	"edsu/internal/logging"
)

func TestDefaultMatchesChannelDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	got, err := cfg.ChannelConfig()
	if err != nil {
		t.Fatalf("channel config: %v", err)
	}
	if diff := cmp.Diff(channel.DefaultConfig(), got); diff != "" {
		t.Fatalf("channel config mismatch (-want +got):\n%s", diff)
	}
	if cfg.PauseDuration() != 0 {
		t.Fatalf("expected no pause by default, got %v", cfg.PauseDuration())
	}
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
interface: "3"
peer: 02-00-00-00-00-aa
type: "88b5"
pause: 2
verbose: true
transport: LOOPBACK
management:
  bind: 127.0.0.1:0
  acl: ["127.0.0.1", "10.0.0.0/8"]
logging:
  level: warn
  format: json
  output: stdout
  rotation:
    maxSizeMB: 5
    maxBackups: 2
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Transport != channel.Loop {
		t.Fatalf("transport not normalised: %q", cfg.Transport)
	}
	ch, err := cfg.ChannelConfig()
	if err != nil {
		t.Fatalf("channel config: %v", err)
	}
	want := channel.Config{
		Interface: channel.Interface{Index: 3},
		Peer:      net.HardwareAddr{0x02, 0, 0, 0, 0, 0xaa},
		Type:      0x88b5,
		Flags:     channel.Verbose,
	}
	if diff := cmp.Diff(want, ch); diff != "" {
		t.Fatalf("channel config mismatch (-want +got):\n%s", diff)
	}
	if cfg.PauseDuration() != 2*time.Second {
		t.Fatalf("unexpected pause %v", cfg.PauseDuration())
	}
	prefixes, err := cfg.ManagementPrefixes()
	if err != nil {
		t.Fatalf("prefixes: %v", err)
	}
	wantPrefixes := []netip.Prefix{
		netip.MustParsePrefix("127.0.0.1/32"),
		netip.MustParsePrefix("10.0.0.0/8"),
	}
	if diff := cmp.Diff(wantPrefixes, prefixes, cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
		t.Fatalf("prefixes mismatch (-want +got):\n%s", diff)
	}
	opts := cfg.LogOptions()
	if opts.Level != logging.LevelDebug {
		t.Fatalf("verbose should select debug, got %v", opts.Level)
	}
	if opts.Rotate == nil || opts.Rotate.MaxSizeMB != 5 || opts.Rotate.MaxBackups != 2 {
		t.Fatalf("rotation not carried: %+v", opts.Rotate)
	}
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRejectsUnknownKey(t *testing.T) {
	if _, err := Parse([]byte("interfcae: eth0\n")); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestParseRejectsBadFields(t *testing.T) {
	cases := map[string]string{
		"peer":                 "peer: 00:11:22\n",
		"type":                 "type: zz\n",
		"pause":                "pause: 256\n",
		"transport":            "transport: carrier-pigeon\n",
		"management.acl":       "management:\n  acl: [nope]\n",
		"logging.format":       "logging:\n  format: xml\n",
		"interface":            "interface: \"  \"\n",
		"management.history":   "management:\n  history: -1\n",
		"management.rateLimit": "management:\n  rateLimit:\n    burst: -5\n",
	}
	for field, doc := range cases {
		t.Run(field, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fe.Field != field {
				t.Fatalf("expected field %q, got %q", field, fe.Field)
			}
		})
	}
}

func TestValidateRejectsIndexZero(t *testing.T) {
	cfg := Default()
	cfg.Interface = "0"
	var fe *FieldError
	if err := cfg.Validate(); !errors.As(err, &fe) || fe.Field != "interface" {
		t.Fatalf("expected interface FieldError, got %v", err)
	}
	cfg.Interface = "1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("index 1 rejected: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edsu.yaml")
	if err := os.WriteFile(path, []byte("interface: eth7\nquiet: true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Interface != "eth7" || !cfg.Quiet {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if lvl := cfg.LogOptions().Level; lvl != logging.LevelWarn {
		t.Fatalf("quiet should select warn, got %v", lvl)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(func(key string) (string, bool) {
		if key == EnvInterface {
			return " plc0 ", true
		}
		return "", false
	})
	if cfg.Interface != "plc0" {
		t.Fatalf("expected env override, got %q", cfg.Interface)
	}

	cfg = Default()
	cfg.ApplyEnv(func(string) (string, bool) { return "", true })
	if cfg.Interface != channel.DefaultInterface {
		t.Fatalf("empty env value should not override, got %q", cfg.Interface)
	}
}

func TestParseHardwareAddr(t *testing.T) {
	want := net.HardwareAddr{0x00, 0xb0, 0x52, 0x00, 0x00, 0x01}
	for _, in := range []string{"00:b0:52:00:00:01", "00-B0-52-00-00-01", "00b0.5200.0001", "00b052000001"} {
		got, err := ParseHardwareAddr(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got.String() != want.String() {
			t.Fatalf("%q: got %s", in, got)
		}
	}
	for _, in := range []string{"", "00:b0:52", "00:b0:52:00:00:01:02", "zz:b0:52:00:00:01"} {
		if _, err := ParseHardwareAddr(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}

func TestParseType(t *testing.T) {
	cases := []struct {
		in   string
		want uint16
		ok   bool
	}{
		{"0004", frame.TypeIEEE8022, true},
		{"0x88B5", 0x88b5, true},
		{"ffff", 0xffff, true},
		{"10000", 0, false},
		{"0x", 0, false},
		{"g1", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseType(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("%q: unexpected error state %v", tc.in, err)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("%q: got %#04x want %#04x", tc.in, got, tc.want)
		}
	}
}

func TestParsePause(t *testing.T) {
	if v, err := ParsePause("255"); err != nil || v != 255 {
		t.Fatalf("255: got %d, %v", v, err)
	}
	if v, err := ParsePause("0"); err != nil || v != 0 {
		t.Fatalf("0: got %d, %v", v, err)
	}
	for _, in := range []string{"256", "-1", "x"} {
		if _, err := ParsePause(in); err == nil {
			t.Fatalf("%q: expected error", in)
		}
	}
}
