package rbac

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ctc-stipend/stipend/internal/platform/httpx"
	"github.com/ctc-stipend/stipend/internal/shared"
)

// ErrPermissionDenied is returned when the actor's role lacks every required
// permission.
var ErrPermissionDenied = errors.New("rbac: permission denied")

// Middleware guards routes by the gateway supplied actor role.
type Middleware struct {
	Logger *slog.Logger
}

func (m Middleware) mapper() *httpx.Mapper {
	return httpx.NewMapper(m.Logger,
		httpx.Rule{Target: shared.ErrActorMissing, Status: http.StatusUnauthorized, Title: "Actor Required"},
		httpx.Rule{Target: ErrPermissionDenied, Status: http.StatusForbidden, Title: "Forbidden"},
	)
}

// RequireAny lets a request through when its actor holds one of perms. An
// empty perms list leaves the route open.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := compact(perms)
	errs := m.mapper()
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				errs.Respond(w, r, shared.ErrActorMissing)
				return
			}
			if !Allowed(actor.Role, required...) {
				if m.Logger != nil {
					m.Logger.InfoContext(r.Context(), "rbac denied",
						slog.Int64("actor_id", actor.ID),
						slog.String("role", string(actor.Role)),
						slog.String("path", r.URL.Path),
						slog.Any("required", required))
				}
				errs.Respond(w, r, fmt.Errorf("%w: role %s needs one of %s", ErrPermissionDenied, actor.Role, strings.Join(required, ", ")))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func compact(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
