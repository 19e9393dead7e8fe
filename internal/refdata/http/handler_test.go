package refdatahttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/refdata"
	"github.com/ctc-stipend/stipend/internal/shared"
)

func TestDirectoryEndpoints(t *testing.T) {
	static := refdata.NewStatic(
		grants.Organization{ID: 1, Type: grants.OrgIHE, Code: "SJSU", Name: "San Jose State University"},
		grants.Organization{ID: 2, Type: grants.OrgLEA, Code: "SJUSD", Name: "San Jose Unified"},
	)
	dir := refdata.NewDirectory(static, static, nil)
	r := chi.NewRouter()
	r.Use(shared.ActorFromHeaders)
	NewHandler(dir, nil).MountRoutes(r)

	do := func(method, path, role, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if role != "" {
			req.Header.Set(shared.HeaderActorID, "1")
			req.Header.Set(shared.HeaderActorRole, role)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodGet, "/organizations?type=lea", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "San Jose Unified")
	require.NotContains(t, rec.Body.String(), "State University")
	require.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/organizations?type=COE", "", "").Code)
	require.Equal(t, http.StatusNotFound, do(http.MethodGet, "/organizations/9", "", "").Code)

	contact := `{"name":"Dana Ortiz","email":"dana@example.org"}`
	require.Equal(t, http.StatusForbidden, do(http.MethodPost, "/organizations/2/contacts", "LEA", contact).Code)
	require.Equal(t, http.StatusNotFound, do(http.MethodPost, "/organizations/9/contacts", "IHE", contact).Code)
	require.Equal(t, http.StatusUnprocessableEntity, do(http.MethodPost, "/organizations/2/contacts", "IHE", `{"name":"Dana","email":"not-an-email"}`).Code)
	require.Equal(t, http.StatusAccepted, do(http.MethodPost, "/organizations/2/contacts", "IHE", contact).Code)
	dir.Wait()

	contacts, err := static.Contacts(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.Equal(t, "dana@example.org", contacts[0].Email)

	rec = do(http.MethodGet, "/organizations/2/contacts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Dana Ortiz")
	require.Equal(t, http.StatusBadRequest, do(http.MethodGet, "/districts?county_id=x", "", "").Code)
	require.Equal(t, http.StatusOK, do(http.MethodGet, "/counties", "", "").Code)
}
