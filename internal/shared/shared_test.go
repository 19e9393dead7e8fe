package shared

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/status"
)

func TestPaginationBounds(t *testing.T) {
	p := NewPagination(0, 0, 120)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 50, p.PerPage)
	require.Equal(t, 3, p.TotalPages)

	start, end := p.Bounds()
	require.Equal(t, 0, start)
	require.Equal(t, 50, end)

	start, end = NewPagination(3, 50, 120).Bounds()
	require.Equal(t, 100, start)
	require.Equal(t, 120, end)

	start, end = NewPagination(9, 50, 120).Bounds()
	require.Equal(t, 120, start)
	require.Equal(t, 120, end)

	p = PaginationFromQuery(url.Values{"page": {"2"}, "per_page": {"10000"}}, 1200)
	require.Equal(t, MaxPerPage, p.PerPage)
	require.Equal(t, 3, p.TotalPages)

	p = PaginationFromQuery(url.Values{"page": {"x"}}, 0)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 0, p.TotalPages)
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotency()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.Error(t, store.CheckAndInsert(ctx, "", "signing"))
	require.Error(t, store.CheckAndInsert(ctx, "evt-1", ""))

	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "signing"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "evt-1", "signing"), ErrIdempotencyConflict)

	require.NoError(t, store.Delete(ctx, "evt-1"))
	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "signing"))

	now = now.Add(48 * time.Hour)
	require.NoError(t, store.CheckAndInsert(ctx, "evt-2", "signing"))
	require.NoError(t, store.Cleanup(ctx, 24*time.Hour))
	require.NoError(t, store.CheckAndInsert(ctx, "evt-1", "signing"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "evt-2", "signing"), ErrIdempotencyConflict)
}

func TestSlogAuditor(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewSlogAuditor(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.ErrorIs(t, auditor.Record(context.Background(), AuditLog{Action: "student.created"}), ErrAuditIncomplete)
	require.Zero(t, buf.Len())

	ctx := ContextWithActor(context.Background(), Actor{ID: 7, Role: status.RoleIHE})
	require.NoError(t, auditor.Record(ctx, AuditLog{
		Action: "student.created", Entity: "student", EntityID: "42",
	}))
	require.Contains(t, buf.String(), `"action":"student.created"`)
	require.Contains(t, buf.String(), `"entity_id":"42"`)
	require.Contains(t, buf.String(), `"actor_id":7`)
	require.Contains(t, buf.String(), `"actor_role":"IHE"`)
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	require.False(t, ok)

	ctx := ContextWithActor(context.Background(), Actor{ID: 3, Role: status.RoleLEA})
	actor, ok := ActorFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, status.RoleLEA, actor.Role)
	require.Equal(t, "stipend:student:3:lock", StudentLockKey(actor.ID))
	require.Equal(t, "stipend:cycle:9:lock", CycleLockKey(9))
}

func TestActorFromHeaders(t *testing.T) {
	var (
		got Actor
		ok  bool
	)
	handler := ActorFromHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderActorID, "12")
	req.Header.Set(HeaderActorRole, "ctc_staff")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, ok)
	require.Equal(t, Actor{ID: 12, Role: status.RoleCTCStaff}, got)

	for _, role := range []string{"SYSTEM", "ADMIN", ""} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderActorID, "12")
		req.Header.Set(HeaderActorRole, role)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		require.False(t, ok, role)
	}
}

func TestRequireActor(t *testing.T) {
	_, err := RequireActor(context.Background())
	require.ErrorIs(t, err, ErrActorMissing)

	ctx := ContextWithActor(context.Background(), Actor{ID: 3, Role: status.RoleLEA})
	actor, err := RequireActor(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), actor.ID)
	require.Equal(t, status.RoleSystem, SystemActor().Role)
}
