package models

import (
	"fmt"
	"net/netip"
	"strings"
)

// Listener identifies who uploaded a message. Only the callsign takes part
// in equality; it is chosen by the uploader and cannot be trusted.
type Listener struct {
	callsign string
	addr     netip.Addr
}

func NewListener(callsign, ip string) (Listener, error) {
	if err := ValidateCallsign(callsign); err != nil {
		return Listener{}, err
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return Listener{}, &ValidationError{
			Field:   "ip",
			Message: fmt.Sprintf("invalid IP address %q", ip),
		}
	}

	return Listener{
		callsign: strings.ToUpper(callsign),
		addr:     addr,
	}, nil
}

func MustListener(callsign, ip string) Listener {
	l, err := NewListener(callsign, ip)
	if err != nil {
		panic(err)
	}
	return l
}

func ValidateCallsign(callsign string) error {
	if callsign == "" {
		return &ValidationError{
			Field:   "callsign",
			Message: "callsign is required",
		}
	}

	for _, r := range callsign {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '/', r == '_':
		default:
			return &ValidationError{
				Field:   "callsign",
				Message: fmt.Sprintf("callsign %q contains %q; only letters, digits, '/' and '_' are allowed", callsign, r),
			}
		}
	}

	return nil
}

func (l Listener) Callsign() string {
	return l.callsign
}

func (l Listener) Addr() netip.Addr {
	return l.addr
}

func (l Listener) IsZero() bool {
	return l.callsign == ""
}

func (l Listener) Equal(other Listener) bool {
	return l.callsign == other.callsign
}

func (l Listener) String() string {
	return fmt.Sprintf("%s (%s)", l.callsign, l.addr)
}
