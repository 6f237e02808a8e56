package security

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultHSTSMaxAge = 31536000

// Headers configures the security headers attached to API responses.
type Headers struct {
	Enable                bool
	EnableHSTS            bool
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
	// TrustForwardedProto treats X-Forwarded-Proto: https as a TLS request,
	// for deployments that terminate TLS at a proxy.
	TrustForwardedProto bool
	// NoStore marks responses as uncacheable.
	NoStore bool
}

// apiHeaders suit a JSON API that is never framed or rendered as a document.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Permissions-Policy", "interest-cohort=()"},
}

// Middleware attaches the configured headers before calling next.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	hsts := h.hstsValue()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		for _, kv := range apiHeaders {
			headers.Set(kv[0], kv[1])
		}
		if h.NoStore {
			headers.Set("Cache-Control", "no-store")
		}
		if hsts != "" && h.secure(r) {
			headers.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (h Headers) hstsValue() string {
	if !h.EnableHSTS {
		return ""
	}
	maxAge := h.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	value := "max-age=" + strconv.Itoa(maxAge)
	if h.HSTSIncludeSubdomains {
		value += "; includeSubDomains"
	}
	return value
}

func (h Headers) secure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.TrustForwardedProto && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}
