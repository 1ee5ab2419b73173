package resource

import (
	"sort"
	"strings"
)

// AuthorityPrefix is prepended to every scope and permission.
const AuthorityPrefix = "SCOPE_"

// AuthoritySet is an immutable set of normalized authorities.
type AuthoritySet struct {
	m map[string]struct{}
}

// NewAuthoritySet builds a set; duplicates collapse.
func NewAuthoritySet(authorities ...string) AuthoritySet {
	m := make(map[string]struct{}, len(authorities))
	for _, a := range authorities {
		m[a] = struct{}{}
	}
	return AuthoritySet{m: m}
}

// Has reports whether the set contains authority.
func (s AuthoritySet) Has(authority string) bool {
	_, ok := s.m[authority]
	return ok
}

// Len returns the number of distinct authorities.
func (s AuthoritySet) Len() int { return len(s.m) }

// Sorted returns the authorities in lexical order.
func (s AuthoritySet) Sorted() []string {
	out := make([]string, 0, len(s.m))
	for a := range s.m {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// AuthorityMapper derives authorities from verified claims.
type AuthorityMapper interface {
	Authorities(Claims) AuthoritySet
}

// AuthorityMapperFunc adapts a function to AuthorityMapper.
type AuthorityMapperFunc func(Claims) AuthoritySet

// Authorities implements AuthorityMapper.
func (f AuthorityMapperFunc) Authorities(c Claims) AuthoritySet { return f(c) }

// FixedAuthorities ignores the claims and always yields the same set.
func FixedAuthorities(authorities ...string) AuthorityMapper {
	set := NewAuthoritySet(authorities...)
	return AuthorityMapperFunc(func(Claims) AuthoritySet { return set })
}

// ScopeAuthorityMapper maps the permissions array and the space-delimited
// scope claim to SCOPE_ authorities.
type ScopeAuthorityMapper struct{}

// Authorities implements AuthorityMapper.
func (ScopeAuthorityMapper) Authorities(c Claims) AuthoritySet {
	var out []string
	for _, p := range c.Permissions {
		out = append(out, AuthorityPrefix+p)
	}
	if c.Scope != "" {
		for _, s := range strings.Split(c.Scope, " ") {
			if s == "" {
				continue
			}
			out = append(out, AuthorityPrefix+s)
		}
	}
	return NewAuthoritySet(out...)
}
