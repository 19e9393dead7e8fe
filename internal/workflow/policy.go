package workflow

import (
	"slices"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/status"
)

// Policy holds the configurable parts of the engine.
type Policy struct {
	// Signers are the parties required on every grant award agreement.
	Signers []grants.SignerParty
	// OverrideRoles may bypass an LEA payment hold.
	OverrideRoles []status.Role
}

// DefaultPolicy requires all three signers and lets CTC staff override holds.
func DefaultPolicy() Policy {
	return Policy{
		Signers:       grants.DefaultSigners(),
		OverrideRoles: []status.Role{status.RoleCTCStaff},
	}
}

// CanOverride reports whether role may override a payment hold.
func (p Policy) CanOverride(role status.Role) bool {
	return slices.Contains(p.OverrideRoles, role)
}
