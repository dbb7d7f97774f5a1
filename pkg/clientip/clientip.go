package clientip

import (
	"net"
	"net/http"
	"strings"
)

// RealClientIP returns the client IP of the request. Forwarding headers are only
// honoured when the direct peer is a loopback or private address (a local proxy),
// so a public client cannot spoof its way around per-IP rate limits.
func RealClientIP(r *http.Request) string {
	peer := remoteHost(r)
	ip := net.ParseIP(peer)
	if ip == nil || !(ip.IsLoopback() || ip.IsPrivate()) {
		return peer
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); first != "" {
			return first
		}
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}
