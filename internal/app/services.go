package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ctc-stipend/stipend/internal/grants"
	grantshttp "github.com/ctc-stipend/stipend/internal/grants/http"
	jobmetrics "github.com/ctc-stipend/stipend/internal/jobs"
	"github.com/ctc-stipend/stipend/internal/ledger"
	"github.com/ctc-stipend/stipend/internal/observability"
	"github.com/ctc-stipend/stipend/internal/platform/cache"
	"github.com/ctc-stipend/stipend/internal/platform/db"
	"github.com/ctc-stipend/stipend/internal/refdata"
	refdatahttp "github.com/ctc-stipend/stipend/internal/refdata/http"
	"github.com/ctc-stipend/stipend/internal/reporting"
	reportinghttp "github.com/ctc-stipend/stipend/internal/reporting/http"
	"github.com/ctc-stipend/stipend/internal/shared"
	"github.com/ctc-stipend/stipend/internal/signing"
	"github.com/ctc-stipend/stipend/internal/workflow"
	workflowhttp "github.com/ctc-stipend/stipend/internal/workflow/http"
	"github.com/ctc-stipend/stipend/jobs"
)

// Idempotency records processed webhook deliveries.
type Idempotency interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// Queue hands signing work to the worker.
type Queue interface {
	EnqueueSigningDispatch(ctx context.Context, studentID int64) error
	EnqueueSigningEvent(ctx context.Context, evt signing.Event) error
}

// Services is the dependency graph shared by the API server and the worker.
type Services struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client

	Grants      grants.Store
	Intake      *grants.Service
	Directory   *refdata.Directory
	Engine      *workflow.Engine
	Ledger      *ledger.Service
	Tracker     *reporting.Tracker
	Sender      signing.Sender
	Dispatcher  *signing.Dispatcher
	Idempotency Idempotency
	Queue       Queue
	Metrics     *observability.Metrics
	JobMetrics  *jobmetrics.Metrics

	DispatchJob *jobs.SigningDispatchJob
	EventJob    *jobs.SigningEventJob
	SweepJob    *jobs.ReportingSweepJob
	PruneJob    *jobs.IdempotencyPruneJob

	closers []func()
}

// NewServices connects to the configured backends and wires the domain.
// Without PG_DSN every store lives in memory; without Redis the student lock
// is process local and signing tasks run inline.
func NewServices(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	s := &Services{Metrics: observability.NewMetrics()}
	s.JobMetrics = jobmetrics.NewMetrics(s.Metrics.Registerer())

	var (
		reportStore reporting.Store
		provider    refdata.Provider
		writer      refdata.ContactWriter
		audit       grants.AuditPort
	)
	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{
			MaxConns:         cfg.PGMaxConns,
			StatementTimeout: cfg.PGStatementTimeout,
			ApplicationName:  "stipend",
		})
		if err != nil {
			return nil, err
		}
		s.Pool = pool
		s.closers = append(s.closers, pool.Close)
		s.Grants = grants.NewRepository(pool)
		reportStore = reporting.NewRepository(pool)
		repo := refdata.NewRepository(pool)
		provider, writer = repo, repo
		audit = shared.NewAuditLogger(pool)
		s.Idempotency = shared.NewIdempotencyStore(pool)
	} else {
		logger.Warn("PG_DSN not set, using in-memory stores")
		s.Grants = grants.NewMemoryStore()
		reportStore = reporting.NewMemoryStore()
		static := refdata.NewStatic()
		if cfg.RefdataFile != "" {
			loaded, err := refdata.LoadStatic(cfg.RefdataFile)
			if err != nil {
				s.Close()
				return nil, err
			}
			static = loaded
		}
		provider, writer = static, static
		audit = shared.NewSlogAuditor(logger)
		s.Idempotency = shared.NewMemoryIdempotency()
	}

	s.Directory = refdata.NewDirectory(provider, writer, logger)
	s.closers = append(s.closers, s.Directory.Wait)
	var orgs grants.OrganizationDirectory = s.Directory
	if cfg.PGDSN == "" && cfg.RefdataFile == "" {
		logger.Warn("no reference data configured, organization checks disabled")
		orgs = nil
	}
	s.Intake = grants.NewService(s.Grants, orgs, audit)

	var locker workflow.Locker
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	switch {
	case err == nil:
		s.Redis = redisClient
		s.closers = append(s.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		})
		locker = cache.NewLocker(redisClient, cfg.LockTTL, logger)
	case cfg.IsProduction():
		s.Close()
		return nil, err
	default:
		logger.Warn("redis unavailable, using local locks and inline jobs", slog.Any("error", err))
		locker = workflow.NewLocalLocker()
	}

	s.Engine = workflow.NewEngine(s.Grants, locker, cfg.WorkflowPolicy(), logger)
	s.Ledger = ledger.NewService(s.Grants)

	policy, err := reporting.LoadPolicy(cfg.CompliancePolicyFile)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Tracker = reporting.NewTracker(reportStore, s.Grants, s.Engine, policy, logger)

	if cfg.SigningURL != "" {
		s.Sender = signing.NewClient(cfg.SigningURL, cfg.SigningToken, cfg.SigningTimeout)
	} else {
		logger.Warn("SIGNING_URL not set, agreements are logged instead of sent")
		s.Sender = signing.NewLogSender(logger)
	}
	s.Dispatcher = signing.NewDispatcher(s.Grants, s.Sender, s.Engine, logger)
	s.DispatchJob = &jobs.SigningDispatchJob{Dispatcher: s.Dispatcher, Logger: logger, Metrics: s.JobMetrics}
	s.EventJob = &jobs.SigningEventJob{Applier: s.Engine, Students: s.Grants, Sender: s.Sender, Logger: logger, Metrics: s.JobMetrics}
	s.SweepJob = jobs.NewReportingSweepJob(s.Grants, s.Tracker, logger, s.JobMetrics)
	s.PruneJob = &jobs.IdempotencyPruneJob{Keys: s.Idempotency, Retention: cfg.IdempotencyRetention, Logger: logger, Metrics: s.JobMetrics}

	if s.Redis != nil {
		client := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		s.closers = append(s.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("queue client close", slog.Any("error", err))
			}
		})
		s.Queue = client
	} else {
		s.Queue = &jobs.InlineQueue{Dispatch: s.DispatchJob, Events: s.EventJob, Logger: logger}
	}

	s.Engine.SetHoldChecker(s.Tracker)
	s.Engine.SetReportsChecker(s.Tracker)
	s.Engine.AddListener(s.Tracker)
	s.Engine.AddListener(s.Metrics)
	s.Engine.AddListener(jobs.DispatchOnPending(s.Queue, logger))
	return s, nil
}

// Readiness returns the dependency checks for /readyz.
func (s *Services) Readiness() map[string]ReadinessCheck {
	checks := map[string]ReadinessCheck{}
	if s.Pool != nil {
		checks["postgres"] = s.Pool.Ping
	}
	if s.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return s.Redis.Ping(ctx).Err() }
	}
	if p, ok := s.Sender.(interface{ Ping(context.Context) error }); ok {
		checks["signing"] = p.Ping
	}
	return checks
}

// APIRouter mounts every HTTP handler over the services. jobHandler may be nil.
func (s *Services) APIRouter(cfg *Config, logger *slog.Logger, jobHandler *jobs.Handler) http.Handler {
	return NewRouter(RouterParams{
		Logger:        logger,
		Config:        cfg,
		GrantsHandler: grantshttp.NewHandler(s.Intake, logger),
		WorkflowHandler: workflowhttp.NewHandler(workflowhttp.Deps{
			Engine:       s.Engine,
			Students:     s.Intake,
			Ledgers:      s.Ledger,
			Events:       s.Queue,
			Idempotency:  s.Idempotency,
			WebhookToken: cfg.WebhookToken(),
			Logger:       logger,
		}),
		ReportingHandler: reportinghttp.NewHandler(s.Tracker, logger),
		RefdataHandler:   refdatahttp.NewHandler(s.Directory, logger),
		JobHandler:       jobHandler,
		Metrics:          s.Metrics,
		Readiness:        s.Readiness(),
	})
}

// RedisOpts returns the asynq connection options or an error when Redis is
// not configured.
func (s *Services) RedisOpts(cfg *Config) (asynq.RedisClientOpt, error) {
	if s.Redis == nil {
		return asynq.RedisClientOpt{}, errors.New("redis is required")
	}
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, nil
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// String summarises the selected backends for the startup log.
func (s *Services) String() string {
	store, lock := "memory", "local"
	if s.Pool != nil {
		store = "postgres"
	}
	if s.Redis != nil {
		lock = "redis"
	}
	return fmt.Sprintf("store=%s lock=%s", store, lock)
}
