package signing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/status"
)

func TestClientSendAndVoid(t *testing.T) {
	var voided string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/envelopes":
			var req sendRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, int64(7), req.Document.StudentID)
			require.Equal(t, grants.DefaultSigners(), req.Signers)
			_ = json.NewEncoder(w).Encode(sendResponse{EnvelopeID: "env-1"})
		case "/envelopes/env-1/void":
			voided = "env-1"
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", time.Second)
	id, err := client.Send(context.Background(), Document{StudentID: 7}, grants.DefaultSigners())
	require.NoError(t, err)
	require.Equal(t, "env-1", id)
	require.NoError(t, client.Void(context.Background(), "env-1", "declined"))
	require.Equal(t, "env-1", voided)
}

func TestClientSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "template missing", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", time.Second).Send(context.Background(), Document{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
	require.Contains(t, err.Error(), "template missing")
	require.Error(t, NewClient(srv.URL, "", time.Second).Ping(context.Background()))
}

func TestEventValidate(t *testing.T) {
	base := Event{ID: "e1", EnvelopeID: "env", StudentID: 1}
	signed := base
	signed.Kind = EventSigned
	require.ErrorIs(t, signed.Validate(), ErrInvalidEvent)
	signed.Party = grants.PartyLEA
	require.NoError(t, signed.Validate())

	expired := base
	expired.Kind = EventExpired
	require.NoError(t, expired.Validate())

	bogus := base
	bogus.Kind = "LOST"
	require.ErrorIs(t, bogus.Validate(), ErrInvalidEvent)
}

type fakeSource struct {
	student grants.Student
	award   grants.Award
}

func (f fakeSource) LoadStudent(context.Context, int64) (grants.Student, error) {
	return f.student, nil
}

func (f fakeSource) LoadAward(context.Context, int64) (grants.Award, error) {
	return f.award, nil
}

type fakeSender struct {
	sent   []grants.SignerParty
	voided []string
}

func (f *fakeSender) Send(_ context.Context, _ Document, parties []grants.SignerParty) (string, error) {
	f.sent = parties
	return "env-9", nil
}

func (f *fakeSender) Void(_ context.Context, envelopeID, _ string) error {
	f.voided = append(f.voided, envelopeID)
	return nil
}

type fakeRecorder struct {
	envelope string
	err      error
}

func (f *fakeRecorder) MarkEnvelopeSent(_ context.Context, _ int64, envelopeID string) (grants.Student, error) {
	f.envelope = envelopeID
	return grants.Student{}, f.err
}

func TestDispatcherSendsOnlyUnsignedParties(t *testing.T) {
	award := grants.NewAwardShell(grants.Student{ID: 3, AwardAmount: ptr(decimal.NewFromInt(10000))}, grants.DefaultSigners(), time.Now())
	require.NoError(t, award.MarkSigned(grants.PartyLEA, time.Now()))
	source := fakeSource{student: grants.Student{ID: 3, Status: status.GAAPending}, award: award}
	sender := &fakeSender{}
	recorder := &fakeRecorder{}

	require.NoError(t, NewDispatcher(source, sender, recorder, nil).Dispatch(context.Background(), 3))
	require.Equal(t, []grants.SignerParty{grants.PartyGrantsManager, grants.PartyFiscalOfficer}, sender.sent)
	require.Equal(t, "env-9", recorder.envelope)
}

func TestDispatcherSkipsOtherStatuses(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(fakeSource{student: grants.Student{ID: 3, Status: status.GAAGenerated}}, sender, &fakeRecorder{}, nil)
	require.NoError(t, d.Dispatch(context.Background(), 3))
	require.Nil(t, sender.sent)
}

func TestDispatcherVoidsUnrecordedEnvelope(t *testing.T) {
	source := fakeSource{student: grants.Student{ID: 3, Status: status.GAAPending}, award: grants.NewAwardShell(grants.Student{ID: 3}, grants.DefaultSigners(), time.Now())}
	sender := &fakeSender{}
	recorder := &fakeRecorder{err: errors.New("conflict")}

	err := NewDispatcher(source, sender, recorder, nil).Dispatch(context.Background(), 3)
	require.Error(t, err)
	require.Equal(t, []string{"env-9"}, sender.voided)
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
