package httpserver

import (
	"net"
	"net/http"
	"strings"
)

// CallerIdentity derives the quota identity for a request. The first hop of
// X-Forwarded-For wins when present so callers behind the edge proxy are
// counted individually; otherwise the connection's remote host is used.
func CallerIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if i := strings.IndexByte(xff, ','); i >= 0 {
			first = xff[:i]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
