package app

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/ctc-stipend/stipend/internal/grants"
	"github.com/ctc-stipend/stipend/internal/workflow"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"120"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// PGDSN selects PostgreSQL persistence; empty keeps every store in memory.
	PGDSN              string        `envconfig:"PG_DSN"`
	PGMaxConns         int32         `envconfig:"PG_MAX_CONNS" default:"10"`
	PGStatementTimeout time.Duration `envconfig:"PG_STATEMENT_TIMEOUT" default:"15s"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL       time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	SigningURL     string        `envconfig:"SIGNING_URL"`
	SigningToken   string        `envconfig:"SIGNING_TOKEN"`
	SigningTimeout time.Duration `envconfig:"SIGNING_TIMEOUT" default:"10s"`
	// SigningWebhookToken authenticates POST /signing/events. SIGNING_TOKEN is
	// used when unset.
	SigningWebhookToken string `envconfig:"SIGNING_WEBHOOK_TOKEN"`

	RequiredSigners      []string `envconfig:"REQUIRED_SIGNERS" default:"LEA,GRANTS_MANAGER,FISCAL_OFFICER"`
	CompliancePolicyFile string   `envconfig:"COMPLIANCE_POLICY_FILE"`
	RefdataFile          string   `envconfig:"REFDATA_FILE"`

	WorkerConcurrency  int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	ReportingSweepCron string `envconfig:"REPORTING_SWEEP_CRON" default:"0 6 * * *"`
	WorkerMetricsAddr  string `envconfig:"WORKER_METRICS_ADDR" default:":9091"`

	IdempotencyRetention time.Duration `envconfig:"IDEMPOTENCY_RETENTION" default:"720h"`
	IdempotencyPruneCron string        `envconfig:"IDEMPOTENCY_PRUNE_CRON" default:"30 3 * * *"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.IsProduction() && c.PGDSN == "" {
		return errors.New("pg dsn must be provided in production")
	}
	if c.IsProduction() && c.SigningURL == "" {
		return errors.New("signing url must be provided in production")
	}
	if c.LockTTL <= 0 {
		return errors.New("lock ttl must be positive")
	}
	if _, err := c.Signers(); err != nil {
		return err
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// WebhookToken returns the bearer token expected on signing callbacks.
func (c *Config) WebhookToken() string {
	if c == nil {
		return ""
	}
	if c.SigningWebhookToken != "" {
		return c.SigningWebhookToken
	}
	return c.SigningToken
}

// Signers parses RequiredSigners.
func (c *Config) Signers() ([]grants.SignerParty, error) {
	known := grants.DefaultSigners()
	out := make([]grants.SignerParty, 0, len(c.RequiredSigners))
	for _, raw := range c.RequiredSigners {
		p := grants.SignerParty(strings.ToUpper(strings.TrimSpace(raw)))
		if p == "" {
			continue
		}
		if !slices.Contains(known, p) {
			return nil, fmt.Errorf("unknown signer %q", raw)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one signer is required")
	}
	return out, nil
}

// WorkflowPolicy builds the engine policy from configuration.
func (c *Config) WorkflowPolicy() workflow.Policy {
	policy := workflow.DefaultPolicy()
	if signers, err := c.Signers(); err == nil {
		policy.Signers = signers
	}
	return policy
}
