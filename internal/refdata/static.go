package refdata

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ctc-stipend/stipend/internal/grants"
)

type staticOrg struct {
	ID   int64  `yaml:"id"`
	Type string `yaml:"type"`
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Seed is the document layout read by LoadStatic.
type Seed struct {
	Organizations []staticOrg `yaml:"organizations"`
	Counties      []County    `yaml:"counties"`
	Districts     []District  `yaml:"districts"`
	Schools       []School    `yaml:"schools"`
	Contacts      []Contact   `yaml:"contacts"`
}

// Static is an in-memory Provider and ContactWriter.
type Static struct {
	mu        sync.RWMutex
	orgs      map[int64]grants.Organization
	counties  []County
	districts []District
	schools   []School
	contacts  []Contact
	nextID    int64
}

// NewStatic builds a provider over the given organizations.
func NewStatic(orgs ...grants.Organization) *Static {
	s := &Static{orgs: make(map[int64]grants.Organization, len(orgs))}
	for _, o := range orgs {
		s.orgs[o.ID] = o
	}
	return s
}

// LoadStatic reads a YAML seed file.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read refdata seed: %w", err)
	}
	return ParseStatic(raw)
}

// ParseStatic builds a provider from a YAML seed document.
func ParseStatic(raw []byte) (*Static, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse refdata seed: %w", err)
	}
	s := NewStatic()
	for _, o := range seed.Organizations {
		typ := grants.OrgType(o.Type)
		if typ != grants.OrgIHE && typ != grants.OrgLEA {
			return nil, fmt.Errorf("organization %d: unknown type %q", o.ID, o.Type)
		}
		if _, dup := s.orgs[o.ID]; dup {
			return nil, fmt.Errorf("organization %d: duplicate id", o.ID)
		}
		s.orgs[o.ID] = grants.Organization{ID: o.ID, Type: typ, Code: o.Code, Name: o.Name}
	}
	s.counties = seed.Counties
	s.districts = seed.Districts
	s.schools = seed.Schools
	s.contacts = seed.Contacts
	for _, c := range s.contacts {
		s.nextID = max(s.nextID, c.ID)
	}
	return s, nil
}

func (s *Static) Organization(_ context.Context, id int64) (grants.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return grants.Organization{}, grants.ErrNotFound
	}
	return org, nil
}

func (s *Static) Organizations(_ context.Context, typ grants.OrgType) ([]grants.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []grants.Organization
	for _, o := range s.orgs {
		if typ == "" || o.Type == typ {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b grants.Organization) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

func (s *Static) Counties(context.Context) ([]County, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.counties), nil
}

func (s *Static) Districts(_ context.Context, countyID *int64) ([]District, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []District
	for _, d := range s.districts {
		if countyID == nil || d.CountyID == *countyID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Static) Schools(_ context.Context, districtID int64) ([]School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []School
	for _, sc := range s.schools {
		if sc.DistrictID == districtID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s *Static) Contacts(_ context.Context, orgID int64) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Contact
	for _, c := range s.contacts {
		if c.OrgID == orgID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Static) CreateContact(_ context.Context, c Contact) (Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[c.OrgID]; !ok {
		return Contact{}, grants.ErrNotFound
	}
	s.nextID++
	c.ID = s.nextID
	s.contacts = append(s.contacts, c)
	return c, nil
}
