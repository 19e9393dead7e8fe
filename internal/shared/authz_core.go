package shared

// Stipend API permissions.
const (
	PermCyclesManage = "cycles.manage"
	PermIntakeEdit   = "intake.edit"
	PermLedgerView   = "ledger.view"

	PermPeriodsManage  = "periods.manage"
	PermComplianceView = "compliance.view"
	PermReportsWrite   = "reports.write"
	PermReportsReview  = "reports.review"
)

// StipendScopes lists every permission of the stipend API.
func StipendScopes() []string {
	return []string{
		PermCyclesManage,
		PermIntakeEdit,
		PermLedgerView,
		PermPeriodsManage,
		PermComplianceView,
		PermReportsWrite,
		PermReportsReview,
	}
}
