package common

import (
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the originating client address. The left-most valid
// X-Forwarded-For hop wins, then X-Real-IP, then RemoteAddr. Malformed
// entries are skipped.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, ok := parseAddr(hop); ok {
			return addr
		}
	}
	if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return addr
	}
	if addr, ok := parseAddr(r.RemoteAddr); ok {
		return addr
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// parseAddr accepts a bare address or host:port and returns the canonical
// address without port. IPv4-mapped IPv6 addresses are unmapped.
func parseAddr(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().String(), true
	}
	if addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}
