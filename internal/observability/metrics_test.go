package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordEnrollmentIncrementsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(enrollmentCounter.WithLabelValues("Chess Club", "ok"))

	RecordEnrollment("Chess Club", "ok")
	RecordEnrollment("Chess Club", "ok")
	RecordEnrollment("Chess Club", "already_enrolled")

	require.Equal(t, before+2, testutil.ToFloat64(enrollmentCounter.WithLabelValues("Chess Club", "ok")))
	require.GreaterOrEqual(t, testutil.ToFloat64(enrollmentCounter.WithLabelValues("Chess Club", "already_enrolled")), 1.0)
}

func TestRecordRosterSizeSetsGauge(t *testing.T) {
	RecordRosterSize("Art Club", 7)

	var metric dto.Metric
	require.NoError(t, rosterGauge.WithLabelValues("Art Club").Write(&metric))
	require.Equal(t, 7.0, metric.GetGauge().GetValue())

	RecordRosterSize("Art Club", 6)
	require.Equal(t, 6.0, testutil.ToFloat64(rosterGauge.WithLabelValues("Art Club")))
}
