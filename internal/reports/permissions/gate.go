// Package permissions decides whether a principal may run a report
package permissions

import (
	"carbon-scribe/report-engine/internal/reports"
)

// Gate checks report role requirements
type Gate struct{}

// NewGate creates a permission gate
func NewGate() *Gate {
	return &Gate{}
}

// Check returns a PermissionError when principal holds none of the roles
// def requires. Superusers and reports without roles always pass.
func (g *Gate) Check(def *reports.ReportDefinition, principal *reports.Principal) error {
	if g.Allowed(def, principal) {
		return nil
	}
	return &reports.PermissionError{Code: def.Meta.Code}
}

// Allowed is the boolean form of Check
func (g *Gate) Allowed(def *reports.ReportDefinition, principal *reports.Principal) bool {
	if principal != nil && principal.IsSuperuser {
		return true
	}
	required := def.Permissions.Roles
	if len(required) == 0 {
		return true
	}

	held := make(map[string]struct{})
	for _, code := range principal.RoleCodes() {
		held[code] = struct{}{}
	}
	for _, role := range required {
		if _, ok := held[role]; ok {
			return true
		}
	}
	return false
}
