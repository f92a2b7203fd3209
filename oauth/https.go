package oauth

import (
	"net/http"
	"strings"

	"github.com/tidemark/keel/errs"
)

// EffectiveProto returns the scheme the client used, preferring the proto
// forwarded by a fronting proxy over the raw connection.
func EffectiveProto(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-Proto"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		return strings.ToLower(strings.TrimSpace(v))
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// RequireHTTPS refuses plaintext callbacks in production.
func RequireHTTPS(r *http.Request, production bool) error {
	if production && EffectiveProto(r) != "https" {
		return errs.Validation("HTTPS_REQUIRED", "", "oauth callbacks require https")
	}
	return nil
}
