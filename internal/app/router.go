package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	grantshttp "github.com/ctc-stipend/stipend/internal/grants/http"
	"github.com/ctc-stipend/stipend/internal/observability"
	"github.com/ctc-stipend/stipend/internal/platform/httpx"
	refdatahttp "github.com/ctc-stipend/stipend/internal/refdata/http"
	reportinghttp "github.com/ctc-stipend/stipend/internal/reporting/http"
	workflowhttp "github.com/ctc-stipend/stipend/internal/workflow/http"
	"github.com/ctc-stipend/stipend/jobs"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	GrantsHandler    *grantshttp.Handler
	WorkflowHandler  *workflowhttp.Handler
	ReportingHandler *reportinghttp.Handler
	RefdataHandler   *refdatahttp.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
	Readiness        map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(params.Logger, params.Readiness))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.GrantsHandler != nil {
			params.GrantsHandler.MountRoutes(r)
		}
		if params.WorkflowHandler != nil {
			params.WorkflowHandler.MountRoutes(r)
		}
		if params.ReportingHandler != nil {
			params.ReportingHandler.MountRoutes(r)
		}
		if params.RefdataHandler != nil {
			params.RefdataHandler.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}

// readyHandler runs every check concurrently and reports the failing ones.
func readyHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		var (
			mu     sync.Mutex
			failed []string
			g      errgroup.Group
		)
		for name, check := range checks {
			g.Go(func() error {
				if err := check(ctx); err != nil {
					logger.WarnContext(ctx, "readiness check failed", slog.String("check", name), slog.Any("error", err))
					mu.Lock()
					failed = append(failed, name)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		if len(failed) > 0 {
			sort.Strings(failed)
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
