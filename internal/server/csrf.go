package server

import (
	"net/http"
	"net/url"
	"strings"
)

// csrfMiddleware validates Origin or Referer headers for state-changing
// requests (POST, PUT, DELETE, PATCH). Safe methods and static/health
// endpoints bypass the check.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		path := r.URL.Path
		if path == "/healthz" || strings.HasPrefix(path, "/static/") {
			next.ServeHTTP(w, r)
			return
		}

		if !isValidOrigin(r) {
			http.Error(w, "Forbidden: Invalid origin", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isValidOrigin checks if the request comes from a valid origin.
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	requestHost := r.Host
	if requestHost == "" {
		requestHost = r.URL.Host
	}

	return normalizeHost(originURL.Host) == normalizeHost(requestHost)
}

// normalizeHost treats localhost and 127.0.0.1 as equivalent.
func normalizeHost(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if host == "localhost" || host == "127.0.0.1" || host == "[::1]" {
		return "localhost"
	}
	return strings.ToLower(host)
}
