package permission

import "sort"

// catalog lists the actions each module exposes.
var catalog = map[string][]string{
	"flags":       {"create", "delete", "edit", "manage", "view"},
	"suppliers":   {"view"},
	"incidents":   {"view"},
	"inventory":   {"create", "edit", "view"},
	"locations":   {"create", "delete", "edit", "manage_flags", "manage_permissions", "manage_users", "view"},
	"orders":      {"approve", "create", "edit", "send_order", "view"},
	"tasks":       {"create", "edit", "view"},
	"technicians": {"view"},
	"users":       {"create", "delete", "edit", "manage", "view"},
}

// Modules returns the catalog modules in sorted order.
func Modules() []string {
	modules := make([]string, 0, len(catalog))
	for m := range catalog {
		modules = append(modules, m)
	}
	sort.Strings(modules)
	return modules
}

// Catalog returns every concrete permission code in sorted order.
func Catalog() []string {
	var codes []string
	for module, actions := range catalog {
		for _, a := range actions {
			codes = append(codes, module+Separator+a)
		}
	}
	sort.Strings(codes)
	return codes
}

// IsKnown reports whether code is a catalog permission, the wildcard of a
// catalog module, or the universal wildcard.
func IsKnown(code string) bool {
	if code == Wildcard {
		return true
	}
	module, action, ok := splitCode(code)
	if !ok {
		return false
	}
	actions, ok := catalog[module]
	if !ok {
		return false
	}
	if action == Wildcard {
		return true
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

func splitCode(code string) (module, action string, ok bool) {
	if ValidateCode(code) != nil {
		return "", "", false
	}
	module = ModuleOf(code)
	return module, code[len(module)+len(Separator):], module != ""
}
