package resource

import (
	"fmt"
	"net/http"
	"strings"
)

// Rule binds an HTTP method and path pattern to a required authority.
type Rule struct {
	Method    string `yaml:"method"`
	Pattern   string `yaml:"pattern"`
	Authority string `yaml:"authority"`
}

// Policy is an ordered rule table. Requests matching no rule only need to
// be authenticated.
type Policy struct {
	Rules []Rule
}

// DefaultPolicy protects the orders collection.
func DefaultPolicy() Policy {
	return Policy{Rules: []Rule{
		{Method: http.MethodGet, Pattern: "/api/orders/**", Authority: AuthorityPrefix + "read:orders"},
		{Method: http.MethodPost, Pattern: "/api/orders/**", Authority: AuthorityPrefix + "write:orders"},
	}}
}

// Validate rejects rules that could never match.
func (p Policy) Validate() error {
	for i, r := range p.Rules {
		if !strings.HasPrefix(r.Pattern, "/") {
			return fmt.Errorf("rules[%d]: pattern must start with /, got %q", i, r.Pattern)
		}
		if r.Authority == "" {
			return fmt.Errorf("rules[%d] (%s %s): authority is required", i, r.Method, r.Pattern)
		}
	}
	return nil
}

// Required returns the authority demanded by the first matching rule.
func (p Policy) Required(method, path string) (string, bool) {
	for _, r := range p.Rules {
		if r.Method != "" && !strings.EqualFold(r.Method, method) {
			continue
		}
		if matchPattern(r.Pattern, path) {
			return r.Authority, true
		}
	}
	return "", false
}

// matchPattern supports exact segments, "*" for one segment and a trailing
// "/**" for the prefix and everything below it.
func matchPattern(pattern, path string) bool {
	prefix, deep := strings.CutSuffix(pattern, "/**")
	ps := strings.Split(prefix, "/")
	xs := strings.Split(path, "/")
	if len(xs) < len(ps) || (!deep && len(xs) != len(ps)) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != xs[i] {
			return false
		}
	}
	return true
}

// Identity is an authenticated caller.
type Identity struct {
	Token       VerifiedToken
	Authorities AuthoritySet
}

// Decision is the outcome of evaluating a request against the policy.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Required string
}

// Engine evaluates requests against a Policy. It holds no mutable state.
type Engine struct {
	policy Policy
}

// NewEngine returns an engine for policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Decide allows the request iff the caller is authenticated and holds the
// authority the matching rule requires.
func (e *Engine) Decide(method, path string, id *Identity) Decision {
	required, _ := e.policy.Required(method, path)
	if id == nil {
		return Decision{Reason: ReasonUnauthenticated, Required: required}
	}
	if required != "" && !id.Authorities.Has(required) {
		return Decision{Reason: ReasonInsufficientScope, Required: required}
	}
	return Decision{Allowed: true, Required: required}
}
