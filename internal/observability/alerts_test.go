package observability

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/ctc-stipend/stipend/internal/jobs"
	"github.com/ctc-stipend/stipend/internal/workflow"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

func loadAlerts(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "stipend.yml"))
	require.NoError(t, err)
	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	for _, g := range file.Groups {
		if g.Name == "stipend" {
			return g.Rules
		}
	}
	t.Fatal("stipend alert group missing")
	return nil
}

// runbookAnchors returns the GitHub style anchors of the runbook headings.
func runbookAnchors(t *testing.T) map[string]bool {
	t.Helper()
	f, err := os.Open(filepath.Join("..", "..", "docs", "runbook-stipend.md"))
	require.NoError(t, err)
	defer f.Close()
	anchors := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if heading, ok := strings.CutPrefix(scanner.Text(), "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "-")] = true
		}
	}
	require.NoError(t, scanner.Err())
	return anchors
}

func TestAlertRulesAreComplete(t *testing.T) {
	severities := map[string]string{
		"HighErrorRate":               "critical",
		"BudgetRejectionSpike":        "warning",
		"SigningJobFailures":          "warning",
		"ReportingSweepStale":         "warning",
		"ReportingObligationsOverdue": "info",
	}
	anchors := runbookAnchors(t)
	rules := loadAlerts(t)
	require.Len(t, rules, len(severities))

	for _, rule := range rules {
		want, ok := severities[rule.Alert]
		require.True(t, ok, "unexpected rule %q", rule.Alert)
		require.Equal(t, want, rule.Labels["severity"], rule.Alert)
		require.NotEmpty(t, rule.Expr, rule.Alert)
		require.NotEmpty(t, rule.For, rule.Alert)
		require.NotEmpty(t, rule.Annotations["summary"], rule.Alert)
		require.NotEmpty(t, rule.Annotations["description"], rule.Alert)

		doc, anchor, found := strings.Cut(rule.Annotations["runbook"], "#")
		require.True(t, found, rule.Alert)
		require.Equal(t, "docs/runbook-stipend.md", doc, rule.Alert)
		require.True(t, anchors[anchor], "runbook section %q missing for %s", anchor, rule.Alert)
	}
}

var metricName = regexp.MustCompile(`stipend_[a-z_]+`)

func TestAlertExpressionsUseExportedMetrics(t *testing.T) {
	m := NewMetrics()
	jobs := jobmetrics.NewMetrics(m.Registerer())

	m.Middleware(http.NotFoundHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	m.TransitionRejected(context.Background(), &workflow.TransitionError{Err: workflow.ErrBudgetOverCommitment})
	_ = jobs.Track("signing:dispatch").End(errors.New("unreachable"))
	_ = jobs.Track("reporting:sweep").End(nil)
	jobs.SetOverdue(0)

	exported := scrape(t, m)
	for _, rule := range loadAlerts(t) {
		for _, name := range metricName.FindAllString(rule.Expr, -1) {
			require.Contains(t, exported, "# TYPE "+name+" ", "%s references unknown metric %s", rule.Alert, name)
		}
	}
}
