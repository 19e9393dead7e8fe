package signing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ctc-stipend/stipend/internal/grants"
)

// LogSender stands in for the signing service in local environments. It
// issues random envelope ids and logs every call.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send logs the document and returns a fresh envelope id.
func (s *LogSender) Send(ctx context.Context, doc Document, parties []grants.SignerParty) (string, error) {
	id := uuid.NewString()
	s.logger.InfoContext(ctx, "envelope sent", slog.String("envelope_id", id), slog.Int64("student_id", doc.StudentID), slog.Any("signers", parties))
	return id, nil
}

// Void logs the cancellation.
func (s *LogSender) Void(ctx context.Context, envelopeID, reason string) error {
	s.logger.InfoContext(ctx, "envelope voided", slog.String("envelope_id", envelopeID), slog.String("reason", reason))
	return nil
}
