package permission

import (
	"fmt"
	"strings"
)

const (
	// Wildcard grants every permission.
	Wildcard = "*"
	// Separator splits a code into module and action.
	Separator = ":"

	legacySeparator = "."
)

// ParseCode normalizes a permission code received at the system boundary.
// Both "module.action" and "module:action" are accepted and the canonical
// "module:action" form is returned. A code mixing both separators is rejected.
func ParseCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if strings.Contains(code, Separator) && strings.Contains(code, legacySeparator) {
		return "", fmt.Errorf("%w: %q mixes separators", ErrInvalidCode, raw)
	}
	code = strings.ReplaceAll(code, legacySeparator, Separator)
	if err := ValidateCode(code); err != nil {
		return "", err
	}
	return code, nil
}

// ValidateCode reports whether code is in canonical form. The cache and the
// resolver only ever see canonical codes.
func ValidateCode(code string) error {
	if code == Wildcard {
		return nil
	}
	segments := strings.Split(code, Separator)
	if len(segments) < 2 {
		return fmt.Errorf("%w: %q has no module", ErrInvalidCode, code)
	}
	for i, seg := range segments {
		if seg == Wildcard {
			if i != 1 || len(segments) != 2 {
				return fmt.Errorf("%w: %q has a misplaced wildcard", ErrInvalidCode, code)
			}
			continue
		}
		if !validSegment(seg) {
			return fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return nil
}

// ModuleOf returns the module segment of a canonical code, or "" for the
// universal wildcard.
func ModuleOf(code string) string {
	if code == Wildcard {
		return ""
	}
	module, _, _ := strings.Cut(code, Separator)
	return module
}

// ModuleWildcard returns the "module:*" code covering code.
func ModuleWildcard(code string) string {
	module := ModuleOf(code)
	if module == "" {
		return Wildcard
	}
	return module + Separator + Wildcard
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
