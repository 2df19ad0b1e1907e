package netutil

import (
	"fmt"
	"net"
	"strings"
)

// ClientKey normalizes a client address for per-client limits. IPv4
// addresses are used as is; IPv6 addresses are grouped by their /64 prefix
// since a single client usually owns the whole prefix.
func ClientKey(addr string) string {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		if host == "" {
			return "unknown"
		}
		return host
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		return ipv4.String()
	}
	ip6 := parsed.To16()
	return fmt.Sprintf("%x:%x:%x:%x::/64",
		uint16(ip6[0])<<8|uint16(ip6[1]),
		uint16(ip6[2])<<8|uint16(ip6[3]),
		uint16(ip6[4])<<8|uint16(ip6[5]),
		uint16(ip6[6])<<8|uint16(ip6[7]),
	)
}
