package grantshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/status"
)

type orgs map[int64]grants.Organization

func (o orgs) Organization(_ context.Context, id int64) (grants.Organization, error) {
	org, ok := o[id]
	if !ok {
		return grants.Organization{}, grants.ErrNotFound
	}
	return org, nil
}

func newRouter() http.Handler {
	svc := grants.NewService(grants.NewMemoryStore(), orgs{
		10: {ID: 10, Type: grants.OrgIHE, Code: "IHE-10", Name: "State University"},
		20: {ID: 20, Type: grants.OrgLEA, Code: "LEA-20", Name: "Unified District"},
	}, nil)
	r := chi.NewRouter()
	r.Use(shared.ActorFromHeaders)
	NewHandler(svc, nil).MountRoutes(r)
	return r
}

func call(t *testing.T, router http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if role != "" {
		req.Header.Set(shared.HeaderActorID, "3")
		req.Header.Set(shared.HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const cycleBody = `{"name":"2025-26","appropriated":"250000","default_award":"10000","start_date":"2025-07-01","end_date":"2026-06-30"}`

func TestIntakeEndpoints(t *testing.T) {
	router := newRouter()

	require.Equal(t, http.StatusForbidden, call(t, router, http.MethodPost, "/cycles", "IHE", cycleBody).Code)
	require.Equal(t, http.StatusBadRequest, call(t, router, http.MethodPost, "/cycles", "CTC_STAFF", `{"name":"x","appropriated":"lots"}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, call(t, router, http.MethodPost, "/cycles", "CTC_STAFF",
		`{"name":"x","appropriated":"100","default_award":"0","start_date":"2025-07-01","end_date":"2026-06-30"}`).Code)

	rec := call(t, router, http.MethodPost, "/cycles", "CTC_STAFF", cycleBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var cycle grants.GrantCycle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycle))
	require.True(t, cycle.Open)

	rec = call(t, router, http.MethodGet, "/cycles", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"2025-26"`)
	require.Equal(t, http.StatusNotFound, call(t, router, http.MethodGet, "/cycles/42", "", "").Code)

	appBody := fmt.Sprintf(`{"cycle_id":%d,"ihe_id":10,"lea_id":20}`, cycle.ID)
	require.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodPost, "/applications", "", appBody).Code)
	require.Equal(t, http.StatusUnprocessableEntity, call(t, router, http.MethodPost, "/applications", "IHE",
		fmt.Sprintf(`{"cycle_id":%d,"ihe_id":20,"lea_id":20}`, cycle.ID)).Code)
	rec = call(t, router, http.MethodPost, "/applications", "IHE", appBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	var app grants.Application
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &app))

	students := fmt.Sprintf("/applications/%d/students", app.ID)
	rec = call(t, router, http.MethodPost, students, "IHE", `{"first_name":"Ana","last_name":"Diaz","seid":"12345678","credential_area":"Math"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var st grants.Student
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, status.Draft, st.Status)
	require.Nil(t, st.AwardAmount)
	require.Equal(t, http.StatusUnprocessableEntity, call(t, router, http.MethodPost, students, "IHE",
		`{"first_name":"Ben","last_name":"Lee","seid":"1234","credential_area":"Math"}`).Code)

	require.Equal(t, http.StatusNoContent, call(t, router, http.MethodPost, fmt.Sprintf("/applications/%d/close", app.ID), "IHE", "").Code)
	require.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, students, "IHE",
		`{"first_name":"Ben","last_name":"Lee","seid":"87654321","credential_area":"Science"}`).Code)

	require.Equal(t, http.StatusNoContent, call(t, router, http.MethodPost, fmt.Sprintf("/cycles/%d/close", cycle.ID), "CTC_STAFF", "").Code)
	require.Equal(t, http.StatusConflict, call(t, router, http.MethodPost, "/applications", "IHE", appBody).Code)
}
