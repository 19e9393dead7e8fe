// Package refdata serves the reference data around grant applications:
// sponsoring institutions, hosting districts, their counties, schools and
// contacts.
package refdata

import (
	"context"
	"errors"

	"github.com/ctc-stipend/stipend/internal/grants"
)

// County groups districts.
type County struct {
	ID   int64  `json:"id" yaml:"id"`
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// District is a school district. OrgID links the district to its LEA
// organization when it hosts students.
type District struct {
	ID       int64  `json:"id" yaml:"id"`
	CountyID int64  `json:"county_id" yaml:"county_id"`
	CDSCode  string `json:"cds_code" yaml:"cds_code"`
	Name     string `json:"name" yaml:"name"`
	OrgID    *int64 `json:"org_id,omitempty" yaml:"org_id"`
}

// School belongs to a district.
type School struct {
	ID         int64  `json:"id" yaml:"id"`
	DistrictID int64  `json:"district_id" yaml:"district_id"`
	Name       string `json:"name" yaml:"name"`
}

// Contact is a person reachable at an organization.
type Contact struct {
	ID    int64  `json:"id" yaml:"id"`
	OrgID int64  `json:"org_id" yaml:"org_id" validate:"required"`
	Name  string `json:"name" yaml:"name" validate:"required,max=120"`
	Email string `json:"email" yaml:"email" validate:"required,email"`
	Title string `json:"title,omitempty" yaml:"title"`
}

// Provider is the read side of reference data. Organization returns
// grants.ErrNotFound for unknown ids.
type Provider interface {
	Organization(ctx context.Context, id int64) (grants.Organization, error)
	Organizations(ctx context.Context, typ grants.OrgType) ([]grants.Organization, error)
	Counties(ctx context.Context) ([]County, error)
	Districts(ctx context.Context, countyID *int64) ([]District, error)
	Schools(ctx context.Context, districtID int64) ([]School, error)
	Contacts(ctx context.Context, orgID int64) ([]Contact, error)
}

// ContactWriter persists contacts.
type ContactWriter interface {
	CreateContact(ctx context.Context, c Contact) (Contact, error)
}

// ErrInvalidContact indicates a contact failed validation.
var ErrInvalidContact = errors.New("refdata: invalid contact")
