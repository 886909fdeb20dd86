// Package config assembles the operator's settings from defaults, an
// optional YAML file, the environment and command-line flags.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"edsu/channel"
	"edsu/internal/logging"
)

// EnvInterface names the environment variable that overrides the interface.
const EnvInterface = "PLC"

// MaxPause is the longest pause between frames, in seconds.
const MaxPause = 255

type Config struct {
	Interface  string           `yaml:"interface"`
	Peer       string           `yaml:"peer"`
	Type       string           `yaml:"type"`
	Pause      int              `yaml:"pause"`
	Quiet      bool             `yaml:"quiet"`
	Verbose    bool             `yaml:"verbose"`
	Transport  string           `yaml:"transport"`
	Management ManagementConfig `yaml:"management"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ManagementConfig enables the HTTP status endpoint when Bind is set.
type ManagementConfig struct {
	Bind      string          `yaml:"bind"`
	ACL       []string        `yaml:"acl,omitempty"`
	History   int             `yaml:"history"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

type RateLimitConfig struct {
	MaxInFlight int `yaml:"maxInFlight"`
	PerMinute   int `yaml:"perMinute"`
	Burst       int `yaml:"burst"`
}

type LoggingConfig struct {
	Level    string          `yaml:"level"`
	Format   string          `yaml:"format"`
	Output   string          `yaml:"output"`
	Rotation *RotationConfig `yaml:"rotation,omitempty"`
}

type RotationConfig struct {
	MaxSizeMB  int  `yaml:"maxSizeMB"`
	MaxBackups int  `yaml:"maxBackups"`
	MaxAgeDays int  `yaml:"maxAgeDays"`
	Compress   bool `yaml:"compress"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	return &Config{
		Interface: channel.DefaultInterface,
		Peer:      channel.DefaultPeer.String(),
		Type:      "0x0004",
		Transport: channel.AFPacket,
		Management: ManagementConfig{
			History: 64,
			RateLimit: RateLimitConfig{
				MaxInFlight: 8,
				PerMinute:   600,
				Burst:       60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// Load reads a YAML file on top of Default. A path of "-" reads stdin.
func Load(path string) (*Config, error) {
	var reader io.ReadCloser
	if path == "-" {
		reader = io.NopCloser(os.Stdin)
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		reader = file
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the interface from EnvInterface when it is set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvInterface); ok && strings.TrimSpace(v) != "" {
		c.Interface = strings.TrimSpace(v)
	}
}

// Validate normalises c and checks every literal.
func (c *Config) Validate() error {
	c.Interface = strings.TrimSpace(c.Interface)
	if c.Interface == "" {
		return &FieldError{Field: "interface", Err: errEmpty}
	}
	if channel.ParseInterface(c.Interface).IsZero() {
		return &FieldError{Field: "interface", Value: c.Interface, Err: errZeroIndex}
	}
	if _, err := ParseHardwareAddr(c.Peer); err != nil {
		return &FieldError{Field: "peer", Value: c.Peer, Err: err}
	}
	if _, err := ParseType(c.Type); err != nil {
		return &FieldError{Field: "type", Value: c.Type, Err: err}
	}
	if c.Pause < 0 || c.Pause > MaxPause {
		return &FieldError{Field: "pause", Value: fmt.Sprint(c.Pause), Err: errPauseRange}
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "", "raw":
		c.Transport = channel.AFPacket
	case channel.AFPacket, channel.Pcap, channel.Loop:
	default:
		return &FieldError{Field: "transport", Value: c.Transport, Err: errUnknown}
	}
	if _, err := c.ManagementPrefixes(); err != nil {
		return err
	}
	if c.Management.History < 0 {
		return &FieldError{Field: "management.history", Value: fmt.Sprint(c.Management.History), Err: errNegative}
	}
	rl := c.Management.RateLimit
	if rl.MaxInFlight < 0 || rl.PerMinute < 0 || rl.Burst < 0 {
		return &FieldError{Field: "management.rateLimit", Err: errNegative}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return &FieldError{Field: "logging.format", Value: c.Logging.Format, Err: errUnknown}
	}
	return nil
}

// ChannelConfig returns the channel configuration described by c.
func (c *Config) ChannelConfig() (channel.Config, error) {
	peer, err := ParseHardwareAddr(c.Peer)
	if err != nil {
		return channel.Config{}, &FieldError{Field: "peer", Value: c.Peer, Err: err}
	}
	typ, err := ParseType(c.Type)
	if err != nil {
		return channel.Config{}, &FieldError{Field: "type", Value: c.Type, Err: err}
	}
	cfg := channel.Config{
		Interface: channel.ParseInterface(c.Interface),
		Peer:      peer,
		Type:      typ,
	}
	if c.Quiet {
		cfg.Flags |= channel.Silence
	}
	if c.Verbose {
		cfg.Flags |= channel.Verbose
	}
	return cfg, nil
}

// PauseDuration returns the pause between frames.
func (c *Config) PauseDuration() time.Duration {
	return time.Duration(c.Pause) * time.Second
}

// LogOptions maps the logging section and the quiet and verbose switches
// to logger options. Quiet wins over verbose and keeps warnings and errors.
func (c *Config) LogOptions() logging.Options {
	level := logging.ParseLevel(c.Logging.Level)
	switch {
	case c.Quiet:
		level = logging.LevelWarn
	case c.Verbose:
		level = logging.LevelDebug
	}
	opts := logging.Options{Level: level, Format: c.Logging.Format, Output: c.Logging.Output}
	if r := c.Logging.Rotation; r != nil {
		opts.Rotate = &logging.Rotation{
			MaxSizeMB:  r.MaxSizeMB,
			MaxBackups: r.MaxBackups,
			MaxAgeDays: r.MaxAgeDays,
			Compress:   r.Compress,
		}
	}
	return opts
}

// ManagementPrefixes parses the management ACL. Bare addresses are treated
// as single-host prefixes.
func (c *Config) ManagementPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.Management.ACL))
	for _, entry := range c.Management.ACL {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			addr, err := netip.ParseAddr(entry)
			if err != nil {
				return nil, &FieldError{Field: "management.acl", Value: entry, Err: err}
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			return nil, &FieldError{Field: "management.acl", Value: entry, Err: err}
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}
