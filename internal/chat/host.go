package chat

import (
	"net"
	"strings"
)

// LocalHost is the canonical name for null and loopback origins.
const LocalHost = "localhost"

var hostPrefixes = []string{"https://", "http://", "www."}

// NormalizeHost reduces an origin or a registered host to the form stored in
// the website directory. NormalizeHost(NormalizeHost(h)) == NormalizeHost(h).
func NormalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	for {
		trimmed := strings.TrimRight(host, "/")
		for _, prefix := range hostPrefixes {
			trimmed = strings.TrimPrefix(trimmed, prefix)
		}
		if trimmed == host {
			break
		}
		host = trimmed
	}

	name, port := splitPort(host)
	switch name {
	case "", "null", "127.0.0.1", "::1":
		name = LocalHost
	}
	if port != "" {
		return net.JoinHostPort(name, port)
	}
	return name
}

// SameHost reports whether an origin belongs to the registered host.
// A registered host without a port accepts the origin on any port.
func SameHost(registered, origin string) bool {
	registered = NormalizeHost(registered)
	origin = NormalizeHost(origin)
	if registered == origin {
		return true
	}
	if _, port := splitPort(registered); port != "" {
		return false
	}
	name, _ := splitPort(origin)
	return registered == name
}

func splitPort(host string) (string, string) {
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"), ""
	}
	return name, port
}
