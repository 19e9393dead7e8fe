package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctc-stipend/stipend/internal/status"
)

// ErrAuditIncomplete is returned for entries missing action, entity or id.
var ErrAuditIncomplete = errors.New("audit entry requires action, entity and entity id")

// AuditLog is one administrative change, such as a cycle or student being
// created. Workflow transitions are audited through their transition events.
type AuditLog struct {
	ActorID   int64
	ActorRole status.Role
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// prepare fills the actor from ctx when the caller left it empty and stamps At.
func (log AuditLog) prepare(ctx context.Context) (AuditLog, error) {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return log, ErrAuditIncomplete
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if log.ActorID == 0 {
			log.ActorID = actor.ID
		}
		if log.ActorRole == "" {
			log.ActorRole = actor.Role
		}
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	return log, nil
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	entry, err := entry.prepare(ctx)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, actor_role, action, entity, entity_id, meta, occurred_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		entry.ActorID, string(entry.ActorRole), entry.Action, entry.Entity, entry.EntityID, meta, entry.At)
	return err
}

// SlogAuditor emits audit records as structured log lines. It backs deployments
// running without PostgreSQL.
type SlogAuditor struct {
	logger *slog.Logger
}

// NewSlogAuditor constructs a SlogAuditor.
func NewSlogAuditor(logger *slog.Logger) *SlogAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditor{logger: logger.With(slog.String("component", "audit"))}
}

// Record logs the entry at info level.
func (a *SlogAuditor) Record(ctx context.Context, entry AuditLog) error {
	entry, err := entry.prepare(ctx)
	if err != nil {
		return err
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit",
		slog.Int64("actor_id", entry.ActorID),
		slog.String("actor_role", string(entry.ActorRole)),
		slog.String("action", entry.Action),
		slog.String("entity", entry.Entity),
		slog.String("entity_id", entry.EntityID),
		slog.Any("meta", entry.Meta),
		slog.Time("at", entry.At),
	)
	return nil
}
