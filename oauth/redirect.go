package oauth

import (
	"net/url"
	"strings"

	"github.com/tidemark/keel/errs"
)

// RedirectConfig names the origins a post-OAuth redirect may target.
type RedirectConfig struct {
	AllowedOrigins []string // Explicit additional origins.
	FrontendURL    string
	AppURL         string
	Production     bool   // Outside production, localhost dev origins are admitted.
	Fallback       string // Returned by SafeRedirect for refused candidates.
}

// RedirectPolicy decides whether a redirect candidate targets an
// allow-listed origin. The allow-list is fixed at startup.
type RedirectPolicy struct {
	allowed  map[string]struct{}
	fallback string
}

// NewRedirectPolicy builds the allow-list from |cfg|. Entries that are not
// absolute URLs are dropped.
func NewRedirectPolicy(cfg RedirectConfig) *RedirectPolicy {
	var allowed = make(map[string]struct{})
	var admit = func(raw string) {
		if origin, ok := originOf(raw); ok {
			allowed[origin] = struct{}{}
		}
	}
	for _, raw := range cfg.AllowedOrigins {
		admit(raw)
	}
	admit(cfg.FrontendURL)
	admit(cfg.AppURL)
	if !cfg.Production {
		admit("http://localhost:3000")
		admit("http://localhost:5173")
	}
	return &RedirectPolicy{allowed: allowed, fallback: cfg.Fallback}
}

// originOf reduces |raw| to its lowercased scheme://host origin.
func originOf(raw string) (string, bool) {
	var u, err = url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// Allowed refuses |candidate| unless its origin is allow-listed.
func (p *RedirectPolicy) Allowed(candidate string) error {
	var origin, ok = originOf(candidate)
	if !ok {
		return errs.Validation("INVALID_REDIRECT", "redirect_url",
			"redirect url is not a valid absolute url")
	}
	if _, ok := p.allowed[origin]; !ok {
		return errs.Validation("REDIRECT_NOT_ALLOWED", "redirect_url",
			"redirect url origin is not allow-listed")
	}
	return nil
}

// SafeRedirect returns |candidate| when its origin is allow-listed and the
// configured fallback otherwise.
func (p *RedirectPolicy) SafeRedirect(candidate string) string {
	if err := p.Allowed(candidate); err != nil {
		return p.fallback
	}
	return candidate
}
