package refdata

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/grants"
)

const seedYAML = `
organizations:
  - {id: 1, type: IHE, code: SJSU, name: San Jose State University}
  - {id: 2, type: LEA, code: SJUSD, name: San Jose Unified}
  - {id: 3, type: LEA, code: OUSD, name: Oakland Unified}
counties:
  - {id: 43, code: "43", name: Santa Clara}
  - {id: 1, code: "01", name: Alameda}
districts:
  - {id: 10, county_id: 43, cds_code: "4369666", name: San Jose Unified, org_id: 2}
  - {id: 11, county_id: 1, cds_code: "0161259", name: Oakland Unified, org_id: 3}
schools:
  - {id: 100, district_id: 10, name: Lincoln High}
contacts:
  - {id: 5, org_id: 2, name: Dana Ortiz, email: dana@example.org}
`

func TestParseStatic(t *testing.T) {
	ctx := context.Background()
	s, err := ParseStatic([]byte(seedYAML))
	require.NoError(t, err)

	org, err := s.Organization(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, grants.OrgLEA, org.Type)

	_, err = s.Organization(ctx, 99)
	require.ErrorIs(t, err, grants.ErrNotFound)

	leas, err := s.Organizations(ctx, grants.OrgLEA)
	require.NoError(t, err)
	require.Len(t, leas, 2)
	require.Equal(t, "Oakland Unified", leas[0].Name)

	county := int64(43)
	districts, err := s.Districts(ctx, &county)
	require.NoError(t, err)
	require.Len(t, districts, 1)
	require.Equal(t, int64(2), *districts[0].OrgID)

	schools, err := s.Schools(ctx, 10)
	require.NoError(t, err)
	require.Len(t, schools, 1)

	created, err := s.CreateContact(ctx, Contact{OrgID: 2, Name: "Lee Park", Email: "lee@example.org"})
	require.NoError(t, err)
	require.Equal(t, int64(6), created.ID)
	contacts, err := s.Contacts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
}

func TestParseStaticRejectsBadOrganizations(t *testing.T) {
	_, err := ParseStatic([]byte("organizations:\n  - {id: 1, type: COE, name: County Office}\n"))
	require.Error(t, err)
	_, err = ParseStatic([]byte("organizations:\n  - {id: 1, type: IHE}\n  - {id: 1, type: LEA}\n"))
	require.Error(t, err)
}

type recordingWriter struct {
	mu       sync.Mutex
	contacts []Contact
	err      error
}

func (w *recordingWriter) CreateContact(_ context.Context, c Contact) (Contact, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return Contact{}, w.err
	}
	w.contacts = append(w.contacts, c)
	return c, nil
}

func TestDirectoryCreateContact(t *testing.T) {
	writer := &recordingWriter{}
	dir := NewDirectory(NewStatic(grants.Organization{ID: 1, Type: grants.OrgIHE}), writer, nil)

	err := dir.CreateContact(context.Background(), Contact{OrgID: 1, Name: "No Email"})
	require.ErrorIs(t, err, ErrInvalidContact)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, dir.CreateContact(ctx, Contact{OrgID: 1, Name: "Kim", Email: "kim@example.org"}))
	cancel()
	dir.Wait()
	require.Len(t, writer.contacts, 1)

	writer.err = errors.New("db down")
	require.NoError(t, dir.CreateContact(context.Background(), Contact{OrgID: 1, Name: "Kim", Email: "kim@example.org"}))
	dir.Wait()
	require.Len(t, writer.contacts, 1)

	org, err := dir.Organization(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, grants.OrgIHE, org.Type)
}
