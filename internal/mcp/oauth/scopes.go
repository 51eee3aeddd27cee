package oauth

import (
	"fmt"
	"sort"
	"strings"
)

// ScopeSet is a set of granted scope strings.
type ScopeSet map[string]struct{}

// NewScopeSet builds a ScopeSet from a list of scope strings.
func NewScopeSet(scopes ...string) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		set[s] = struct{}{}
	}
	return set
}

// ParseScopes parses a space-separated scope string (RFC 6749 section 3.3).
func ParseScopes(scope string) ScopeSet {
	return NewScopeSet(strings.Fields(scope)...)
}

// Contains reports whether the exact scope string is in the set.
func (s ScopeSet) Contains(scope string) bool {
	_, ok := s[scope]
	return ok
}

// List returns the scopes in sorted order.
func (s ScopeSet) List() []string {
	scopes := make([]string, 0, len(s))
	for scope := range s {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// String returns the space-separated form used on the wire.
func (s ScopeSet) String() string {
	return strings.Join(s.List(), " ")
}

// Satisfies reports whether the granted set covers a single required scope.
//
// The hierarchy: the universal scope covers everything; a direct grant always
// covers itself; a "resource:read" requirement is covered by a granted
// "resource:write" (write implies read); and a bare "resource" grant covers
// both "resource:read" and "resource:write".
func (s ScopeSet) Satisfies(required string) bool {
	if s.Contains(ScopeUniversal) {
		return true
	}
	if s.Contains(required) {
		return true
	}

	resource, action, ok := strings.Cut(required, ":")
	if !ok {
		return false
	}

	// Bare resource grant implies both read and write on that resource.
	if s.Contains(resource) {
		return true
	}

	// Write implies read.
	if action == "read" && s.Contains(resource+":write") {
		return true
	}

	return false
}

// SatisfiesAll checks every required scope against the granted set and
// returns the first unsatisfied requirement as an error.
func (s ScopeSet) SatisfiesAll(required ...string) error {
	for _, req := range required {
		if !s.Satisfies(req) {
			return fmt.Errorf("missing required scope %q", req)
		}
	}
	return nil
}
