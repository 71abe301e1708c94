package common

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TillHeader lets a POS terminal identify itself independently of the
// cashier logged in on it.
const TillHeader = "X-Till-ID"

const maxTillIDLen = 64

// ClientIP returns the caller address. The router runs chi's RealIP first, so
// RemoteAddr already reflects X-Forwarded-For and X-Real-IP. IPv4-mapped IPv6
// addresses are unmapped so one till never lands in two buckets.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	raw := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return raw
	}
	return addr.Unmap().WithZone("").String()
}

// TillID returns the terminal id sent in TillHeader, or "" when it is missing
// or not a plain identifier.
func TillID(r *http.Request) string {
	if r == nil {
		return ""
	}
	id := strings.TrimSpace(r.Header.Get(TillHeader))
	if id == "" || len(id) > maxTillIDLen {
		return ""
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return ""
		}
	}
	return id
}
