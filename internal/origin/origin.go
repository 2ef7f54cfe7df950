// Package origin implements the browser Origin admission check applied before
// a signaling WebSocket connection is accepted.
//
// The signaling protocol itself carries no authentication, so this check is
// the only gate between the public internet and the relay.
package origin

import (
	"net/url"
	"strings"
)

// Policy decides whether a browser Origin may open a signaling connection.
//
// With an empty allowlist the policy is same-host only: the Origin's
// host[:port] must match the request's Host header. Scheme is deliberately
// not compared because the relay may sit behind a TLS-terminating proxy and
// see HTTP requests for an HTTPS Origin.
type Policy struct {
	allowed map[string]struct{}
	any     bool
}

// NewPolicy builds a Policy from configured origins. Each entry must be "*"
// or a scheme://host[:port] origin; entries are normalized for comparison.
func NewPolicy(allowedOrigins []string) *Policy {
	p := &Policy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			p.any = true
			continue
		}
		if norm, ok := Normalize(o); ok {
			p.allowed[norm] = struct{}{}
		}
	}
	return p
}

// Allow reports whether the given Origin header may access a request whose
// Host header is requestHost.
//
// Non-browser clients (no Origin header) are always admitted; the header
// only exists to protect browser users from cross-site WebSocket hijacking.
func (p *Policy) Allow(originHeader, requestHost string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}

	norm, ok := Normalize(originHeader)
	if !ok {
		return false
	}

	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[norm]
		return ok
	}

	// Same-host default.
	u, err := url.Parse(norm)
	if err != nil {
		return false
	}
	return equivalentHost(u.Scheme, u.Host, requestHost)
}

// Normalize validates an Origin value and returns it in canonical
// scheme://host[:port] form with default ports stripped. The special value
// "null" (sandboxed documents, file://) normalizes to itself and never
// matches the same-host default.
func Normalize(origin string) (string, bool) {
	trimmed := strings.TrimSpace(origin)
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Host)
	host = stripDefaultPort(scheme, host)
	return scheme + "://" + host, true
}

func equivalentHost(scheme, originHost, requestHost string) bool {
	requestHost = strings.ToLower(strings.TrimSpace(requestHost))
	if requestHost == "" {
		return false
	}
	return originHost == stripDefaultPort(scheme, requestHost)
}

func stripDefaultPort(scheme, host string) string {
	switch scheme {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
