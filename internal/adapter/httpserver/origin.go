package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// newCheckOrigin returns the upgrader's CheckOrigin. It allows requests
// without an Origin header (non-browser clients such as the tail tool), the
// admin panel's own origin derived from appURL and any extra origins. In
// development localhost origins on any port are allowed too.
func newCheckOrigin(appURL string, extra []string, isDevelopment bool) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(extra)+1)
	if o := extractOrigin(appURL); o != "" {
		allowed[o] = struct{}{}
	}
	for _, e := range extra {
		if o := extractOrigin(e); o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		if _, ok := allowed[strings.ToLower(origin)]; ok {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.WarnContext(r.Context(), "WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
