// Package origin decides which cross-origin callers may talk to the broker
// and writes the matching access-control response headers.
package origin

import (
	"strings"

	"github.com/gobwas/glob"
)

// Access-control header names and the fixed values the broker advertises.
const (
	HeaderAllowOrigin   = "Access-Control-Allow-Origin"
	HeaderAllowMethods  = "Access-Control-Allow-Methods"
	HeaderAllowHeaders  = "Access-Control-Allow-Headers"
	HeaderExposeHeaders = "Access-Control-Expose-Headers"
	HeaderMaxAge        = "Access-Control-Max-Age"

	AllowedMethods = "GET, POST"
	AllowedHeaders = "content-type, webio-session-id"
	ExposedHeaders = "webio-session-id"
	MaxAgeSeconds  = "86400"
)

// Policy reports whether an origin string is trusted.
type Policy interface {
	Allowed(origin string) bool
}

// Func adapts a predicate to Policy.
type Func func(origin string) bool

func (f Func) Allowed(origin string) bool {
	return f(origin)
}

type globPolicy struct {
	patterns []glob.Glob
}

func (p *globPolicy) Allowed(origin string) bool {
	for _, g := range p.patterns {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// New builds a policy. A non-nil check is used as is and the pattern list is
// ignored. Otherwise each entry of allowedOrigins is a shell-style pattern
// matched against the whole origin, scheme and port included; "*" also
// crosses "/" and ":". An empty list trusts nobody.
func New(check func(string) bool, allowedOrigins []string) (Policy, error) {
	if check != nil {
		return Func(check), nil
	}
	p := &globPolicy{}
	for _, pattern := range allowedOrigins {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, ErrInvalidPattern.MsgErr("invalid origin pattern: "+pattern, err)
		}
		p.patterns = append(p.patterns, g)
	}
	return p, nil
}

// DenyAll trusts no origin.
func DenyAll() Policy {
	return Func(func(string) bool { return false })
}

// ApplyHeaders writes the access-control headers through set when origin is
// non-empty and allowed, and reports whether it did. A rejected origin gets no
// headers at all.
func ApplyHeaders(p Policy, origin string, set func(name, value string)) bool {
	if origin == "" || p == nil || !p.Allowed(origin) {
		return false
	}
	set(HeaderAllowOrigin, origin)
	set(HeaderAllowMethods, AllowedMethods)
	set(HeaderAllowHeaders, AllowedHeaders)
	set(HeaderExposeHeaders, ExposedHeaders)
	set(HeaderMaxAge, MaxAgeSeconds)
	return true
}
