package reporting

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctc-stipend/stipend/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	pgReader
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, pgReader: pgReader{q: pool}}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgReader struct {
	q querier
}

type txRepo struct {
	pgReader
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{pgReader: pgReader{q: tx}, tx: tx})
	})
}

const periodColumns = `id, cycle_id, name, report_type, start_date, due_date, active, created_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var typ string
	if err := row.Scan(&p.ID, &p.CycleID, &p.Name, &typ, &p.StartDate, &p.DueDate, &p.Active, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNotFound
		}
		return Period{}, err
	}
	p.Type = ReportType(typ)
	return p, nil
}

func (r pgReader) LoadPeriod(ctx context.Context, id int64) (Period, error) {
	return scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM reporting_periods WHERE id=$1`, id))
}

func (r pgReader) ActivePeriod(ctx context.Context, cycleID int64) (Period, error) {
	return scanPeriod(r.q.QueryRow(ctx, `SELECT `+periodColumns+` FROM reporting_periods WHERE cycle_id=$1 AND active ORDER BY id LIMIT 1`, cycleID))
}

// ListPeriods returns the cycle's periods ordered by id.
func (r *Repository) ListPeriods(ctx context.Context, cycleID int64) ([]Period, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM reporting_periods WHERE cycle_id=$1 ORDER BY id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const obligationColumns = `id, student_id, cycle_id, lea_id, ihe_id, COALESCE(period_id, 0), submitted, submitted_at, created_at`

func (r pgReader) obligations(ctx context.Context, where string, args ...any) ([]Obligation, error) {
	rows, err := r.q.Query(ctx, `SELECT `+obligationColumns+` FROM reporting_obligations `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Obligation
	for rows.Next() {
		var o Obligation
		if err := rows.Scan(&o.ID, &o.StudentID, &o.CycleID, &o.LEAID, &o.IHEID, &o.PeriodID, &o.Submitted, &o.SubmittedAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r pgReader) ObligationsForStudent(ctx context.Context, studentID int64) ([]Obligation, error) {
	return r.obligations(ctx, `WHERE student_id=$1`, studentID)
}

func (r pgReader) DeferredObligations(ctx context.Context, cycleID int64) ([]Obligation, error) {
	return r.obligations(ctx, `WHERE cycle_id=$1 AND period_id IS NULL`, cycleID)
}

// ObligationsForLEA returns every obligation of students hosted by the LEA.
func (r *Repository) ObligationsForLEA(ctx context.Context, leaID int64) ([]Obligation, error) {
	return r.obligations(ctx, `WHERE lea_id=$1`, leaID)
}

// OutstandingObligations returns bound obligations not yet submitted.
func (r *Repository) OutstandingObligations(ctx context.Context) ([]Obligation, error) {
	return r.obligations(ctx, `WHERE period_id IS NOT NULL AND NOT submitted`)
}

const reportColumns = `id, student_id, period_id, ihe_id, status, completed_program, credential_earned, employed,
	employer_lea_id, notes, review_note, created_at, submitted_at, reviewed_at`

func (r pgReader) reports(ctx context.Context, where string, args ...any) ([]IHEReport, error) {
	rows, err := r.q.Query(ctx, `SELECT `+reportColumns+` FROM ihe_reports `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []IHEReport
	for rows.Next() {
		var (
			rep IHEReport
			st  string
		)
		if err := rows.Scan(&rep.ID, &rep.StudentID, &rep.PeriodID, &rep.IHEID, &st, &rep.CompletedProgram, &rep.CredentialEarned,
			&rep.Employed, &rep.EmployerLEAID, &rep.Notes, &rep.ReviewNote, &rep.CreatedAt, &rep.SubmittedAt, &rep.ReviewedAt); err != nil {
			return nil, err
		}
		rep.Status = ReportStatus(st)
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r pgReader) LoadReport(ctx context.Context, id int64) (IHEReport, error) {
	reports, err := r.reports(ctx, `WHERE id=$1`, id)
	if err != nil {
		return IHEReport{}, err
	}
	if len(reports) == 0 {
		return IHEReport{}, ErrNotFound
	}
	return reports[0], nil
}

func (r pgReader) ReportsFor(ctx context.Context, studentID, periodID int64) ([]IHEReport, error) {
	return r.reports(ctx, `WHERE student_id=$1 AND period_id=$2`, studentID, periodID)
}

// ReportsForStudent returns the student's reports ordered by id.
func (r *Repository) ReportsForStudent(ctx context.Context, studentID int64) ([]IHEReport, error) {
	return r.reports(ctx, `WHERE student_id=$1`, studentID)
}

func (tx *txRepo) CreatePeriod(ctx context.Context, p Period) (Period, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO reporting_periods (cycle_id, name, report_type, start_date, due_date, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`, p.CycleID, p.Name, string(p.Type), p.StartDate, p.DueDate, p.Active, p.CreatedAt).Scan(&p.ID)
	return p, err
}

func (tx *txRepo) SetPeriodActive(ctx context.Context, id int64, active bool) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE reporting_periods SET active=$2 WHERE id=$1`, id, active)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrActivePeriodExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func periodArg(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (tx *txRepo) CreateObligation(ctx context.Context, o Obligation) (Obligation, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO reporting_obligations (student_id, cycle_id, lea_id, ihe_id, period_id, submitted, submitted_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		o.StudentID, o.CycleID, o.LEAID, o.IHEID, periodArg(o.PeriodID), o.Submitted, o.SubmittedAt, o.CreatedAt).Scan(&o.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Obligation{}, ErrValidation
		}
		return Obligation{}, err
	}
	return o, nil
}

func (tx *txRepo) SaveObligation(ctx context.Context, o Obligation) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE reporting_obligations SET period_id=$2, submitted=$3, submitted_at=$4 WHERE id=$1`,
		o.ID, periodArg(o.PeriodID), o.Submitted, o.SubmittedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateReport(ctx context.Context, rep IHEReport) (IHEReport, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO ihe_reports (student_id, period_id, ihe_id, status, completed_program, credential_earned,
employed, employer_lea_id, notes, review_note, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		rep.StudentID, rep.PeriodID, rep.IHEID, string(rep.Status), rep.CompletedProgram, rep.CredentialEarned,
		rep.Employed, rep.EmployerLEAID, rep.Notes, rep.ReviewNote, rep.CreatedAt).Scan(&rep.ID)
	return rep, err
}

func (tx *txRepo) SaveReport(ctx context.Context, rep IHEReport) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE ihe_reports SET status=$2, review_note=$3, submitted_at=$4, reviewed_at=$5 WHERE id=$1`,
		rep.ID, string(rep.Status), rep.ReviewNote, rep.SubmittedAt, rep.ReviewedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
