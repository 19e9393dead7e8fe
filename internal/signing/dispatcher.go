package signing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/status"
)

// AwardSource reads the records needed to build an agreement.
type AwardSource interface {
	LoadStudent(ctx context.Context, id int64) (grants.Student, error)
	LoadAward(ctx context.Context, studentID int64) (grants.Award, error)
}

// EnvelopeRecorder records a dispatched envelope against the student.
type EnvelopeRecorder interface {
	MarkEnvelopeSent(ctx context.Context, studentID int64, envelopeID string) (grants.Student, error)
}

// Dispatcher sends pending agreements to the signing service.
type Dispatcher struct {
	source   AwardSource
	sender   Sender
	recorder EnvelopeRecorder
	logger   *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(source AwardSource, sender Sender, recorder EnvelopeRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{source: source, sender: sender, recorder: recorder, logger: logger}
}

// Dispatch sends the agreement of a student waiting in GAA_PENDING. Students
// in any other status are skipped so redelivered jobs are harmless.
func (d *Dispatcher) Dispatch(ctx context.Context, studentID int64) error {
	student, err := d.source.LoadStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if student.Status != status.GAAPending {
		d.logger.InfoContext(ctx, "skip envelope dispatch", slog.Int64("student_id", studentID), slog.String("status", string(student.Status)))
		return nil
	}
	award, err := d.source.LoadAward(ctx, studentID)
	if err != nil {
		return fmt.Errorf("load award: %w", err)
	}
	doc := Document{
		StudentID:   student.ID,
		AwardID:     award.ID,
		Title:       "Grant Award Agreement",
		StudentName: student.FirstName + " " + student.LastName,
		Amount:      award.Amount.StringFixed(2),
	}
	envelopeID, err := d.sender.Send(ctx, doc, award.Unsigned())
	if err != nil {
		return fmt.Errorf("send envelope: %w", err)
	}
	if _, err := d.recorder.MarkEnvelopeSent(ctx, studentID, envelopeID); err != nil {
		if voidErr := d.sender.Void(ctx, envelopeID, "not recorded"); voidErr != nil {
			d.logger.ErrorContext(ctx, "void orphan envelope", slog.String("envelope_id", envelopeID), slog.Any("error", voidErr))
		}
		return fmt.Errorf("record envelope: %w", err)
	}
	d.logger.InfoContext(ctx, "envelope dispatched", slog.Int64("student_id", studentID), slog.String("envelope_id", envelopeID))
	return nil
}
