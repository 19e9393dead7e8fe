package rbac

import (
	"slices"
	"strings"

	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/status"
)

// rolePermissions grants API permissions per workflow role. Transition rights
// are not listed here; the workflow engine checks those per edge.
var rolePermissions = map[status.Role][]string{
	status.RoleIHE: {
		shared.PermIntakeEdit,
		shared.PermReportsWrite,
	},
	status.RoleLEA: {
		shared.PermComplianceView,
	},
	status.RoleFiscalOfficer: {
		shared.PermLedgerView,
		shared.PermComplianceView,
	},
	status.RoleCTCStaff: shared.StipendScopes(),
	status.RoleSystem:   shared.StipendScopes(),
}

// Permissions returns the permissions granted to role.
func Permissions(role status.Role) []string {
	return slices.Clone(rolePermissions[role])
}

// Allowed reports whether role holds any of perms. Permission names are
// compared case-insensitively.
func Allowed(role status.Role, perms ...string) bool {
	for _, granted := range rolePermissions[role] {
		if slices.ContainsFunc(perms, func(p string) bool { return strings.EqualFold(p, granted) }) {
			return true
		}
	}
	return false
}
