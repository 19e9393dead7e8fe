package refdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ctc-stipend/stipend/internal/grants"
)

// Repository reads reference data from PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new reference data repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Organization(ctx context.Context, id int64) (grants.Organization, error) {
	query := `SELECT id, org_type, code, name FROM organizations WHERE id = $1`
	var (
		o   grants.Organization
		typ string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(&o.ID, &typ, &o.Code, &o.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return grants.Organization{}, grants.ErrNotFound
	}
	if err != nil {
		return grants.Organization{}, err
	}
	o.Type = grants.OrgType(typ)
	return o, nil
}

func (r *Repository) Organizations(ctx context.Context, typ grants.OrgType) ([]grants.Organization, error) {
	query := `SELECT id, org_type, code, name FROM organizations`
	args := []any{}
	if typ != "" {
		query += ` WHERE org_type = $1`
		args = append(args, string(typ))
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []grants.Organization
	for rows.Next() {
		var (
			o grants.Organization
			t string
		)
		if err := rows.Scan(&o.ID, &t, &o.Code, &o.Name); err != nil {
			return nil, err
		}
		o.Type = grants.OrgType(t)
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

func (r *Repository) Counties(ctx context.Context) ([]County, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name FROM counties ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counties []County
	for rows.Next() {
		var c County
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return nil, err
		}
		counties = append(counties, c)
	}
	return counties, rows.Err()
}

func (r *Repository) Districts(ctx context.Context, countyID *int64) ([]District, error) {
	query := `SELECT id, county_id, cds_code, name, org_id FROM districts`
	args := []any{}
	if countyID != nil {
		query += ` WHERE county_id = $1`
		args = append(args, *countyID)
	}
	query += ` ORDER BY name`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var districts []District
	for rows.Next() {
		var d District
		if err := rows.Scan(&d.ID, &d.CountyID, &d.CDSCode, &d.Name, &d.OrgID); err != nil {
			return nil, err
		}
		districts = append(districts, d)
	}
	return districts, rows.Err()
}

func (r *Repository) Schools(ctx context.Context, districtID int64) ([]School, error) {
	rows, err := r.db.Query(ctx, `SELECT id, district_id, name FROM schools WHERE district_id = $1 ORDER BY name`, districtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schools []School
	for rows.Next() {
		var s School
		if err := rows.Scan(&s.ID, &s.DistrictID, &s.Name); err != nil {
			return nil, err
		}
		schools = append(schools, s)
	}
	return schools, rows.Err()
}

func (r *Repository) Contacts(ctx context.Context, orgID int64) ([]Contact, error) {
	rows, err := r.db.Query(ctx, `SELECT id, org_id, name, email, title FROM contacts WHERE org_id = $1 ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &c.Email, &c.Title); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *Repository) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	query := `INSERT INTO contacts (org_id, name, email, title) VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.db.QueryRow(ctx, query, c.OrgID, c.Name, c.Email, c.Title).Scan(&c.ID)
	return c, err
}
