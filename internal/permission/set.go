package permission

import "sort"

// Set is a set of canonical permission codes.
type Set map[string]struct{}

// NewSet returns a set holding codes.
func NewSet(codes ...string) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		s.Add(c)
	}
	return s
}

func (s Set) Add(code string) {
	if code == "" {
		return
	}
	s[code] = struct{}{}
}

func (s Set) Remove(code string) {
	delete(s, code)
}

// Has reports exact membership, ignoring wildcards.
func (s Set) Has(code string) bool {
	_, ok := s[code]
	return ok
}

// Allows reports whether the set satisfies a request for code: the set holds
// code itself, the universal wildcard, or the wildcard of code's module.
func (s Set) Allows(code string) bool {
	if len(s) == 0 || code == "" {
		return false
	}
	if s.Has(code) || s.Has(Wildcard) {
		return true
	}
	return s.Has(ModuleWildcard(code))
}

// Codes returns the codes in sorted order. The result is never nil.
func (s Set) Codes() []string {
	codes := make([]string, 0, len(s))
	for c := range s {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Clone returns an independent copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Effective is the resolved permission state of a user in a scope: the
// granted codes plus the codes removed by deny overrides. A denied code is
// never allowed, even when a wildcard in the granted set would cover it.
// The zero value grants nothing.
type Effective struct {
	granted Set
	denied  Set
}

// Combine builds the effective permissions from role grants and overrides.
// Roles are unioned first; overrides are applied afterwards as one pass, so
// the result does not depend on row order. A code both allowed and denied by
// conflicting overrides ends up denied.
func Combine(grants []RoleGrant, overrides []Override) Effective {
	granted := NewSet()
	for _, g := range grants {
		for _, code := range g.Permissions {
			granted.Add(code)
		}
	}

	allow, deny := NewSet(), NewSet()
	for _, o := range overrides {
		if o.Allow {
			allow.Add(o.Code)
		} else {
			deny.Add(o.Code)
		}
	}
	for code := range allow {
		granted.Add(code)
	}
	for code := range deny {
		granted.Remove(code)
	}

	return Effective{granted: granted, denied: deny}
}

// Allows reports whether code is satisfied.
func (e Effective) Allows(code string) bool {
	if e.denied.Has(code) {
		return false
	}
	return e.granted.Allows(code)
}

// Codes returns the granted codes in sorted order. Plain wildcard matching
// over the result agrees with Allows: a wildcard covering a denied code is
// replaced by the catalog codes it still grants.
func (e Effective) Codes() []string {
	if len(e.denied) == 0 {
		return e.granted.Codes()
	}

	out := e.granted.Clone()
	if out.Has(Wildcard) {
		out.Remove(Wildcard)
		for module := range catalog {
			out.Add(module + Separator + Wildcard)
		}
	}

	deniedModules := make(map[string]bool, len(e.denied))
	for code := range e.denied {
		deniedModules[ModuleOf(code)] = true
	}
	for module := range deniedModules {
		wildcard := module + Separator + Wildcard
		if !out.Has(wildcard) {
			continue
		}
		out.Remove(wildcard)
		for _, action := range catalog[module] {
			if code := module + Separator + action; !e.denied.Has(code) {
				out.Add(code)
			}
		}
	}
	return out.Codes()
}
