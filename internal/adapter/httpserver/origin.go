package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
)

// NewCheckOrigin builds the websocket origin check. Empty origins (non-browser
// clients), the public URL's origin and the configured CORS origins pass.
// allowLocalhost additionally admits localhost origins.
func NewCheckOrigin(publicURL string, corsOrigins []string, allowLocalhost bool) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(corsOrigins)+1)
	if origin := extractOrigin(publicURL); origin != "" {
		allowed[origin] = struct{}{}
	}
	for _, o := range corsOrigins {
		if origin := extractOrigin(o); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[extractOrigin(origin)]; ok {
			return true
		}
		if allowLocalhost && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
