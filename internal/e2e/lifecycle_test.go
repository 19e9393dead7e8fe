package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/app"
	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/status"
	_ "github.com/ctc-stipend/stipend/internal/testing/guard"
)

type harness struct {
	t        *testing.T
	router   http.Handler
	services *app.Services
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &app.Config{
		AppEnv:               "test",
		AppRequestTimeout:    5 * time.Second,
		AppRateLimit:         1000,
		RedisAddr:            "127.0.0.1:1",
		LockTTL:              time.Second,
		RequiredSigners:      []string{"LEA", "GRANTS_MANAGER", "FISCAL_OFFICER"},
		CompliancePolicyFile: "../../configs/compliance.yaml",
		RefdataFile:          "../../configs/refdata.yaml",
	}
	require.NoError(t, cfg.Validate())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	services, err := app.NewServices(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(services.Close)
	require.Nil(t, services.Redis)

	return &harness{t: t, router: services.APIRouter(cfg, logger, nil), services: services}
}

func (h *harness) do(method, path, role, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(shared.HeaderActorID, "7")
		req.Header.Set(shared.HeaderActorRole, role)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) decode(rec *httptest.ResponseRecorder, wantCode int, out any) {
	h.t.Helper()
	require.Equal(h.t, wantCode, rec.Code, rec.Body.String())
	if out != nil {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

type idBody struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (h *harness) addStudent(appID int64, seid string) int64 {
	var st idBody
	body := fmt.Sprintf(`{"first_name":"Ana","last_name":"Diaz","seid":%q,"credential_area":"Mathematics"}`, seid)
	h.decode(h.do(http.MethodPost, fmt.Sprintf("/api/v1/applications/%d/students", appID), "IHE", body), http.StatusCreated, &st)
	require.Equal(h.t, string(status.Draft), st.Status)
	return st.ID
}

func (h *harness) move(studentID int64, role, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodPost, fmt.Sprintf("/api/v1/students/%d/transitions", studentID), role, body)
}

func (h *harness) walk(studentID int64, steps ...[2]string) {
	h.t.Helper()
	for _, s := range steps {
		rec := h.move(studentID, s[0], `{"to":"`+s[1]+`"}`)
		require.Equal(h.t, http.StatusOK, rec.Code, "%s: %s", s[1], rec.Body.String())
	}
}

func (h *harness) statusOf(studentID int64) status.Status {
	h.t.Helper()
	var st idBody
	h.decode(h.do(http.MethodGet, fmt.Sprintf("/api/v1/students/%d", studentID), "", ""), http.StatusOK, &st)
	return status.Status(st.Status)
}

var toApproval = [][2]string{
	{"IHE", "IHE_SUBMITTED"},
	{"LEA", "LEA_REVIEWING"},
	{"LEA", "LEA_APPROVED"},
	{"IHE", "CTC_SUBMITTED"},
	{"CTC_STAFF", "CTC_REVIEWING"},
}

func TestStudentLifecycle(t *testing.T) {
	h := newHarness(t)

	var cycle idBody
	h.decode(h.do(http.MethodPost, "/api/v1/cycles", "CTC_STAFF",
		`{"name":"2025-26","appropriated":"25000","default_award":"10000","start_date":"2025-07-01","end_date":"2026-06-30"}`),
		http.StatusCreated, &cycle)

	h.decode(h.do(http.MethodPost, "/api/v1/applications", "IHE", fmt.Sprintf(`{"cycle_id":%d,"ihe_id":10,"lea_id":10}`, cycle.ID)),
		http.StatusUnprocessableEntity, nil)
	var application idBody
	h.decode(h.do(http.MethodPost, "/api/v1/applications", "IHE", fmt.Sprintf(`{"cycle_id":%d,"ihe_id":1,"lea_id":10}`, cycle.ID)),
		http.StatusCreated, &application)

	funded := h.addStudent(application.ID, "10000001")
	other := h.addStudent(application.ID, "10000002")

	h.walk(funded, toApproval...)
	h.walk(funded, [2]string{"CTC_STAFF", "CTC_APPROVED"})

	h.walk(other, toApproval...)
	rec := h.move(other, "CTC_STAFF", `{"to":"CTC_APPROVED","award_amount":"20000"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, status.CTCReviewing, h.statusOf(other))

	// Dispatch runs inline without Redis, so the envelope goes out during the request.
	h.walk(funded, [2]string{"CTC_STAFF", "GAA_PENDING"})
	require.Equal(t, status.GAAGenerated, h.statusOf(funded))
	award, err := h.services.Grants.LoadAward(context.Background(), funded)
	require.NoError(t, err)
	require.NotEmpty(t, award.EnvelopeID)

	for i, party := range []string{"LEA", "GRANTS_MANAGER", "FISCAL_OFFICER"} {
		body := fmt.Sprintf(`{"id":"evt-%d","envelope_id":%q,"student_id":%d,"kind":"SIGNED","party":%q}`, i, award.EnvelopeID, funded, party)
		h.decode(h.do(http.MethodPost, "/api/v1/signing/events", "", body), http.StatusAccepted, nil)
	}
	h.decode(h.do(http.MethodPost, "/api/v1/signing/events", "",
		fmt.Sprintf(`{"id":"evt-0","envelope_id":%q,"student_id":%d,"kind":"SIGNED","party":"LEA"}`, award.EnvelopeID, funded)),
		http.StatusOK, nil)
	require.Equal(t, status.GAASigned, h.statusOf(funded))

	h.walk(funded,
		[2]string{"CTC_STAFF", "INVOICE_GENERATED"},
		[2]string{"FISCAL_OFFICER", "PAYMENT_AUTHORIZED"},
		[2]string{"FISCAL_OFFICER", "WARRANT_ISSUED"},
		[2]string{"FISCAL_OFFICER", "PAYMENT_COMPLETE"},
	)
	require.Equal(t, status.PaymentComplete, h.statusOf(funded), "obligation deferred without an active period")

	var ledger struct {
		Funded  int               `json:"funded_students"`
		Display map[string]string `json:"display"`
	}
	h.decode(h.do(http.MethodGet, fmt.Sprintf("/api/v1/cycles/%d/ledger", cycle.ID), "FISCAL_OFFICER", ""), http.StatusOK, &ledger)
	require.Equal(t, 1, ledger.Funded)
	require.Equal(t, "$10,000.00", ledger.Display["disbursed"])
	require.Equal(t, "$15,000.00", ledger.Display["remaining"])

	var period idBody
	h.decode(h.do(http.MethodPost, fmt.Sprintf("/api/v1/cycles/%d/periods", cycle.ID), "CTC_STAFF",
		`{"name":"Completion 2026","type":"COMPLETION","start_date":"2026-01-01","due_date":"2026-08-31"}`),
		http.StatusCreated, &period)
	var activated struct {
		Obligations []json.RawMessage `json:"obligations"`
	}
	h.decode(h.do(http.MethodPost, fmt.Sprintf("/api/v1/periods/%d/activate", period.ID), "CTC_STAFF", ""), http.StatusOK, &activated)
	require.Len(t, activated.Obligations, 1)
	require.Equal(t, status.ReportingPending, h.statusOf(funded))

	var compliance struct {
		Status                string `json:"status"`
		Funded                int    `json:"funded_students"`
		Reported              int    `json:"reported_students"`
		HasPaymentHoldWarning bool   `json:"has_payment_hold_warning"`
	}
	h.decode(h.do(http.MethodGet, "/api/v1/leas/10/compliance", "LEA", ""), http.StatusOK, &compliance)
	require.Equal(t, 1, compliance.Funded)
	require.Zero(t, compliance.Reported)

	var report idBody
	h.decode(h.do(http.MethodPost, "/api/v1/reports", "IHE",
		fmt.Sprintf(`{"student_id":%d,"completed_program":true,"credential_earned":true}`, funded)),
		http.StatusCreated, &report)
	h.decode(h.do(http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/approve", report.ID), "CTC_STAFF", ""), http.StatusConflict, nil)
	h.decode(h.do(http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/submit", report.ID), "IHE", ""), http.StatusOK, nil)
	require.Equal(t, status.ReportingComplete, h.statusOf(funded))
	h.decode(h.do(http.MethodPost, fmt.Sprintf("/api/v1/reports/%d/approve", report.ID), "CTC_STAFF", `{"note":"verified"}`), http.StatusOK, nil)
	h.walk(funded, [2]string{"CTC_STAFF", "REPORTS_APPROVED"})

	h.decode(h.do(http.MethodGet, "/api/v1/leas/10/compliance", "LEA", ""), http.StatusOK, &compliance)
	require.Equal(t, "Good", compliance.Status)
	require.Equal(t, 1, compliance.Reported)
	require.False(t, compliance.HasPaymentHoldWarning)

	var history struct {
		Pagination shared.Pagination `json:"pagination"`
	}
	h.decode(h.do(http.MethodGet, fmt.Sprintf("/api/v1/students/%d/history", funded), "", ""), http.StatusOK, &history)
	require.Equal(t, 16, history.Pagination.Total)

	rec = h.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	require.Contains(t, metrics, `stipend_transition_rejections_total{reason="budget_over_commitment"} 1`)
	require.Contains(t, metrics, `stipend_jobs_total{job="signing:dispatch",status="success"} 1`)
	require.Contains(t, metrics, `stipend_jobs_total{job="signing:event",status="success"} 3`)
}

func TestReferenceDataFromSeedFile(t *testing.T) {
	h := newHarness(t)

	var orgs struct {
		Organizations []struct {
			ID   int64  `json:"id"`
			Code string `json:"code"`
		} `json:"organizations"`
	}
	h.decode(h.do(http.MethodGet, "/api/v1/organizations?type=LEA", "", ""), http.StatusOK, &orgs)
	require.Len(t, orgs.Organizations, 2)

	h.decode(h.do(http.MethodPost, "/api/v1/organizations/10/contacts", "IHE",
		`{"name":"Sam Ortiz","email":"sortiz@valley.example.org","title":"HR"}`), http.StatusAccepted, nil)
	h.services.Directory.Wait()

	var contacts struct {
		Contacts []struct {
			Name string `json:"name"`
		} `json:"contacts"`
	}
	h.decode(h.do(http.MethodGet, "/api/v1/organizations/10/contacts", "", ""), http.StatusOK, &contacts)
	require.Len(t, contacts.Contacts, 2)
}
