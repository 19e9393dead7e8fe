package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ctc-stipend/stipend/internal/reporting"
)

// ComplianceSource computes LEA reporting compliance.
type ComplianceSource interface {
	ComplianceFor(ctx context.Context, leaIDs []int64) ([]reporting.Compliance, error)
}

// ComplianceCLI prints LEA compliance for operators.
type ComplianceCLI struct {
	source ComplianceSource
}

// NewComplianceCLI constructs the helper.
func NewComplianceCLI(source ComplianceSource) *ComplianceCLI {
	return &ComplianceCLI{source: source}
}

// ComplianceOptions configures the compliance command.
type ComplianceOptions struct {
	LEAIDs     []int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ComplianceCommand prints one row per LEA. It exits 10 when any LEA carries a
// payment hold warning.
func (c *ComplianceCLI) ComplianceCommand(ctx context.Context, opts ComplianceOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(opts.LEAIDs) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "compliance: --lea is required")
		return 1
	}
	rows, err := c.source.ComplianceFor(ctx, opts.LEAIDs)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "compliance: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(rows); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "compliance: encode json: %v\n", err)
			return 1
		}
	} else {
		tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "LEA\tFUNDED\tREPORTED\tRATE\tSTATUS\tPENDING\tHOLD")
		for _, row := range rows {
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%d\t%t\n", row.LEAID, row.Funded, row.Reported,
				row.Rate.StringFixed(2), row.Status, row.PendingPayments, row.HasPaymentHoldWarning)
		}
		_ = tw.Flush()
	}
	for _, row := range rows {
		if row.HasPaymentHoldWarning {
			return 10
		}
	}
	return 0
}
