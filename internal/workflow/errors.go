package workflow

import (
	"errors"
	"fmt"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/ledger"
	"github.com/ctc-stipend/stipend/internal/status"
)

var (
	// ErrInvalidTransition indicates the requested status is not reachable from the current one.
	ErrInvalidTransition = errors.New("workflow: invalid transition")
	// ErrUnauthorizedRole indicates the acting role may not perform the transition.
	ErrUnauthorizedRole = errors.New("workflow: role not authorized for transition")
	// ErrAwardIntegrityViolation indicates the award is missing required signatures.
	ErrAwardIntegrityViolation = errors.New("workflow: award signatures incomplete")
	// ErrPaymentHold indicates the LEA is under a compliance payment hold.
	ErrPaymentHold = errors.New("workflow: LEA payment hold")
	// ErrBudgetOverCommitment indicates approval would exceed the cycle appropriation.
	ErrBudgetOverCommitment = ledger.ErrBudgetOverCommitment
	// ErrConcurrentModification indicates the student changed while the transition was prepared.
	ErrConcurrentModification = grants.ErrConcurrentModification
)

// TransitionError describes a rejected transition. It unwraps to one of the
// package sentinels so callers can branch with errors.Is.
type TransitionError struct {
	Err       error
	StudentID int64
	From      status.Status
	To        status.Status
	Role      status.Role
	Detail    string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: student %d %s -> %s as %s", e.Err.Error(), e.StudentID, e.From, e.To, e.Role)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func reject(err error, st grants.Student, to status.Status, role status.Role, format string, args ...any) *TransitionError {
	return &TransitionError{
		Err:       err,
		StudentID: st.ID,
		From:      st.Status,
		To:        to,
		Role:      role,
		Detail:    fmt.Sprintf(format, args...),
	}
}
