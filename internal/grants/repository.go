package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ctc-stipend/stipend/internal/platform/db"
	"github.com/ctc-stipend/stipend/internal/status"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

const cycleColumns = `id, name, appropriated::text, default_award::text, start_date, end_date, open, created_at`

// LoadCycle fetches a grant cycle.
func (r *Repository) LoadCycle(ctx context.Context, id int64) (GrantCycle, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM grant_cycles WHERE id=$1`, id)
	return scanCycle(row)
}

// ListCycles returns every cycle ordered by id.
func (r *Repository) ListCycles(ctx context.Context) ([]GrantCycle, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+cycleColumns+` FROM grant_cycles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GrantCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCycle(row pgx.Row) (GrantCycle, error) {
	var (
		c                   GrantCycle
		appropriated, award string
	)
	if err := row.Scan(&c.ID, &c.Name, &appropriated, &award, &c.StartDate, &c.EndDate, &c.Open, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GrantCycle{}, ErrNotFound
		}
		return GrantCycle{}, err
	}
	var err error
	if c.Appropriated, err = decimal.NewFromString(appropriated); err != nil {
		return GrantCycle{}, err
	}
	if c.DefaultAward, err = decimal.NewFromString(award); err != nil {
		return GrantCycle{}, err
	}
	return c, nil
}

// LoadApplication fetches an application.
func (r *Repository) LoadApplication(ctx context.Context, id int64) (Application, error) {
	var app Application
	var st string
	err := r.pool.QueryRow(ctx, `SELECT id, cycle_id, ihe_id, lea_id, status, created_at FROM applications WHERE id=$1`, id).
		Scan(&app.ID, &app.CycleID, &app.IHEID, &app.LEAID, &st, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, err
	}
	app.Status = ApplicationStatus(st)
	return app, nil
}

const studentColumns = `s.id, s.application_id, a.cycle_id, a.ihe_id, a.lea_id, s.first_name, s.last_name, s.seid,
	s.credential_area, s.award_amount::text, s.status, s.revision_origin, s.last_action_at, s.version, s.created_at`

// LoadStudent fetches a student.
func (r *Repository) LoadStudent(ctx context.Context, id int64) (Student, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+studentColumns+`
FROM students s JOIN applications a ON a.id = s.application_id WHERE s.id=$1`, id)
	if err != nil {
		return Student{}, err
	}
	students, err := collectStudents(rows)
	if err != nil {
		return Student{}, err
	}
	if len(students) == 0 {
		return Student{}, ErrNotFound
	}
	return students[0], nil
}

// LoadStudentsForCycle reads every student of the cycle in a single statement,
// which PostgreSQL evaluates against one snapshot.
func (r *Repository) LoadStudentsForCycle(ctx context.Context, cycleID int64) ([]Student, error) {
	return r.loadStudents(ctx, r.pool, `WHERE a.cycle_id=$1`, cycleID)
}

// LoadStudentsForLEA reads every student hosted by the LEA.
func (r *Repository) LoadStudentsForLEA(ctx context.Context, leaID int64) ([]Student, error) {
	return r.loadStudents(ctx, r.pool, `WHERE a.lea_id=$1`, leaID)
}

func (r *Repository) loadStudents(ctx context.Context, q queryer, where string, arg int64) ([]Student, error) {
	rows, err := q.Query(ctx, `SELECT `+studentColumns+`
FROM students s JOIN applications a ON a.id = s.application_id `+where+` ORDER BY s.id`, arg)
	if err != nil {
		return nil, err
	}
	return collectStudents(rows)
}

func collectStudents(rows pgx.Rows) ([]Student, error) {
	defer rows.Close()
	var out []Student
	for rows.Next() {
		var (
			st     Student
			amount *string
			stat   string
			origin string
		)
		if err := rows.Scan(&st.ID, &st.ApplicationID, &st.CycleID, &st.IHEID, &st.LEAID, &st.FirstName, &st.LastName,
			&st.SEID, &st.CredentialArea, &amount, &stat, &origin, &st.LastActionAt, &st.Version, &st.CreatedAt); err != nil {
			return nil, err
		}
		if amount != nil {
			d, err := decimal.NewFromString(*amount)
			if err != nil {
				return nil, err
			}
			st.AwardAmount = &d
		}
		st.Status = status.Status(stat)
		st.RevisionOrigin = status.RevisionOrigin(origin)
		out = append(out, st)
	}
	return out, rows.Err()
}

// LoadAward fetches the award funding the student.
func (r *Repository) LoadAward(ctx context.Context, studentID int64) (Award, error) {
	var (
		a      Award
		amount string
		sigs   []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT id, student_id, cycle_id, amount::text, envelope_id, signatures, created_at, paid_at
FROM awards WHERE student_id=$1`, studentID).Scan(&a.ID, &a.StudentID, &a.CycleID, &amount, &a.EnvelopeID, &sigs, &a.CreatedAt, &a.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Award{}, ErrNotFound
		}
		return Award{}, err
	}
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return Award{}, err
	}
	if err := json.Unmarshal(sigs, &a.Signatures); err != nil {
		return Award{}, err
	}
	return a, nil
}

// ListTransitionEvents returns events in append order.
func (r *Repository) ListTransitionEvents(ctx context.Context, studentID int64) ([]TransitionEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, student_id, from_status, to_status, actor_id, role, override, revision_origin, note, at
FROM transition_events WHERE student_id=$1 ORDER BY seq ASC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransitionEvent
	for rows.Next() {
		var (
			evt            TransitionEvent
			from, to, role string
			origin         string
		)
		if err := rows.Scan(&evt.ID, &evt.StudentID, &from, &to, &evt.ActorID, &role, &evt.Override, &origin, &evt.Note, &evt.At); err != nil {
			return nil, err
		}
		evt.From = status.Status(from)
		evt.To = status.Status(to)
		evt.Role = status.Role(role)
		evt.RevisionOrigin = status.RevisionOrigin(origin)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (tx *txRepo) CreateCycle(ctx context.Context, cycle GrantCycle) (GrantCycle, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO grant_cycles (name, appropriated, default_award, start_date, end_date, open, created_at)
VALUES ($1, $2::numeric, $3::numeric, $4, $5, $6, $7) RETURNING id`,
		cycle.Name, cycle.Appropriated.String(), cycle.DefaultAward.String(), cycle.StartDate, cycle.EndDate, cycle.Open, cycle.CreatedAt).Scan(&cycle.ID)
	return cycle, err
}

func (tx *txRepo) SetCycleOpen(ctx context.Context, id int64, open bool) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE grant_cycles SET open=$2 WHERE id=$1`, id, open)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateApplication(ctx context.Context, app Application) (Application, error) {
	err := tx.tx.QueryRow(ctx, `INSERT INTO applications (cycle_id, ihe_id, lea_id, status, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, app.CycleID, app.IHEID, app.LEAID, string(app.Status), app.CreatedAt).Scan(&app.ID)
	return app, err
}

func (tx *txRepo) UpdateApplicationStatus(ctx context.Context, id int64, st ApplicationStatus) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE applications SET status=$2 WHERE id=$1`, id, string(st))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) CreateStudent(ctx context.Context, student Student) (Student, error) {
	student.Version = 1
	err := tx.tx.QueryRow(ctx, `INSERT INTO students (application_id, first_name, last_name, seid, credential_area, award_amount,
status, revision_origin, last_action_at, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11) RETURNING id`,
		student.ApplicationID, student.FirstName, student.LastName, student.SEID, student.CredentialArea, amountArg(student.AwardAmount),
		string(student.Status), string(student.RevisionOrigin), student.LastActionAt, student.Version, student.CreatedAt).Scan(&student.ID)
	return student, err
}

func (tx *txRepo) SaveStudent(ctx context.Context, student Student) (Student, error) {
	tag, err := tx.tx.Exec(ctx, `UPDATE students SET award_amount=$3::numeric, status=$4, revision_origin=$5, last_action_at=$6,
version=version+1 WHERE id=$1 AND version=$2`,
		student.ID, student.Version, amountArg(student.AwardAmount), string(student.Status), string(student.RevisionOrigin), student.LastActionAt)
	if err != nil {
		return Student{}, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE id=$1)`, student.ID).Scan(&exists); err != nil {
			return Student{}, err
		}
		if !exists {
			return Student{}, ErrNotFound
		}
		return Student{}, ErrConcurrentModification
	}
	student.Version++
	return student, nil
}

func (tx *txRepo) AppendTransitionEvent(ctx context.Context, evt TransitionEvent) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO transition_events (id, student_id, from_status, to_status, actor_id, role, override,
revision_origin, note, at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		evt.ID, evt.StudentID, string(evt.From), string(evt.To), evt.ActorID, string(evt.Role), evt.Override,
		string(evt.RevisionOrigin), evt.Note, evt.At)
	return err
}

func (tx *txRepo) CreateAward(ctx context.Context, award Award) (Award, error) {
	sigs, err := json.Marshal(award.Signatures)
	if err != nil {
		return Award{}, err
	}
	err = tx.tx.QueryRow(ctx, `INSERT INTO awards (student_id, cycle_id, amount, envelope_id, signatures, created_at, paid_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7) RETURNING id`,
		award.StudentID, award.CycleID, award.Amount.String(), award.EnvelopeID, sigs, award.CreatedAt, award.PaidAt).Scan(&award.ID)
	return award, err
}

func (tx *txRepo) SaveAward(ctx context.Context, award Award) error {
	sigs, err := json.Marshal(award.Signatures)
	if err != nil {
		return err
	}
	tag, err := tx.tx.Exec(ctx, `UPDATE awards SET envelope_id=$2, signatures=$3, paid_at=$4 WHERE student_id=$1`,
		award.StudentID, award.EnvelopeID, sigs, award.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func amountArg(amount *decimal.Decimal) *string {
	if amount == nil {
		return nil
	}
	s := amount.String()
	return &s
}
