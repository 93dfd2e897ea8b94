// Package keyresolver turns a request context and a rule's scope into the
// concrete key value a bucket is addressed by.
package keyresolver

import (
	"github.com/fluxgate/fluxgate/internal/rules"
)

const unknown = "unknown"

// Resolver maps a rule's scope to a key value extracted from a request
// context, following a fixed scope -> source -> fallback table.
//
// GLOBAL never varies per request. PER_IP reads the client IP, falling
// back to "unknown" if absent. PER_USER, PER_API_KEY, and CUSTOM all fall
// back to PER_IP's resolution when their own source is empty, and from
// there to "unknown" — a rule scoped by user ID still rate-limits
// anonymous traffic by IP rather than failing open.
type Resolver struct{}

// NewResolver creates a key resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the key value for a rule's scope against a request.
// customKeySource names the RequestContext.Custom entry to read for
// CUSTOM-scoped rules.
func (r *Resolver) Resolve(rc rules.RequestContext, scope rules.Scope, customKeySource string) string {
	switch scope {
	case rules.ScopeGlobal:
		return "global"
	case rules.ScopePerIP:
		return perIP(rc)
	case rules.ScopePerUser:
		if rc.UserID != "" {
			return "user:" + rc.UserID
		}
		return perIP(rc)
	case rules.ScopePerAPIKey:
		if rc.APIKey != "" {
			return "apikey:" + rc.APIKey
		}
		return perIP(rc)
	case rules.ScopeCustom:
		if v, ok := rc.Custom[customKeySource]; ok && v != "" {
			return "custom:" + customKeySource + ":" + v
		}
		return perIP(rc)
	default:
		return perIP(rc)
	}
}

func perIP(rc rules.RequestContext) string {
	if rc.ClientIP != "" {
		return "ip:" + rc.ClientIP
	}
	return unknown
}
