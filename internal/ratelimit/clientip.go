package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the key shared by requests with no usable address.
const UnknownClient = "unknown"

// ClientKey identifies the caller, in order: first valid X-Forwarded-For
// entry, X-Real-IP, CF-Connecting-IP, then the connection's RemoteAddr.
// Header values that are not IP addresses are skipped.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for entry := range strings.SplitSeq(fwd, ",") {
			if ip := parseIP(entry); ip != "" {
				return ip
			}
		}
	}
	for _, h := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if ip := parseIP(r.Header.Get(h)); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := parseIP(host); ip != "" {
		return ip
	}
	return UnknownClient
}

// parseIP returns the normalized form of s, or "" if s is not an address.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
