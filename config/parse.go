package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	errEmpty      = errors.New("value is empty")
	errUnknown    = errors.New("unknown value")
	errNegative   = errors.New("must not be negative")
	errZeroIndex  = errors.New("interface indexes start at 1")
	errPauseRange = fmt.Errorf("must be between 0 and %d seconds", MaxPause)
)

// FieldError reports a setting that could not be used.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParseHardwareAddr parses six hex octets. Octets may be separated by ':',
// '-' or '.', or written as one run of twelve digits.
func ParseHardwareAddr(s string) (net.HardwareAddr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errEmpty
	}
	digits := strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return r
	}, s)
	if len(digits) != 12 {
		return nil, fmt.Errorf("want 6 hex octets, have %d digits", len(digits))
	}
	addr := make(net.HardwareAddr, 6)
	for i := range addr {
		b, err := strconv.ParseUint(digits[2*i : 2*i+2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("octet %d: %w", i+1, err)
		}
		addr[i] = byte(b)
	}
	return addr, nil
}

// ParseType parses a 16-bit hex value with an optional 0x prefix.
func ParseType(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, errEmpty
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// ParsePause parses a whole number of seconds in [0, MaxPause].
func ParsePause(s string) (int, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	if v > MaxPause {
		return 0, errPauseRange
	}
	return int(v), nil
}
