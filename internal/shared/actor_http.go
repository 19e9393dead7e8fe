package shared

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ctc-stipend/stipend/internal/status"
)

// Actor identity headers set by the authenticating gateway in front of the API.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorFromHeaders stores the gateway supplied actor in the request context.
// Requests without a valid identity continue without one; handlers that need
// an actor reject them with ErrActorMissing.
func ActorFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderActorID)), 10, 64)
		role := status.Role(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
		// SYSTEM is reserved for jobs and never accepted from the network.
		if err != nil || id <= 0 || !role.Valid() || role == status.RoleSystem {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), Actor{ID: id, Role: role})))
	})
}
