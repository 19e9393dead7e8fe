package jobmetrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRunOutcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	boom := errors.New("signing service unreachable")
	require.NoError(t, m.Track("signing:dispatch").End(nil))
	require.ErrorIs(t, m.Track("signing:dispatch").End(boom), boom)
	require.ErrorIs(t, m.Track("signing:dispatch").End(fmt.Errorf("bad payload: %w", asynq.SkipRetry)), asynq.SkipRetry)

	for _, outcome := range []string{StatusSuccess, StatusFailure, StatusSkipped} {
		require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("signing:dispatch", outcome)), outcome)
	}
	require.Equal(t, 1.7e9, testutil.ToFloat64(m.lastSuccess.WithLabelValues("signing:dispatch")))
}

func TestNilMetricsAreInert(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Track("reporting:sweep").End(nil))
	m.ObserveSigningEvent("SIGNED", true)
	m.SetOverdue(3)
}

func TestSigningEventsAndOverdue(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveSigningEvent("SIGNED", true)
	m.ObserveSigningEvent("SIGNED", false)
	m.SetOverdue(4)

	require.Equal(t, 1.0, testutil.ToFloat64(m.signingEvents.WithLabelValues("SIGNED", "ignored")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.overdue))
}
