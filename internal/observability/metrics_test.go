package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/biometrics/internal/domain"
)

func TestRecordRefreshUpdatesWatermarkOnlyWhenCompleted(t *testing.T) {
	lastRefreshGauge.Set(0)
	finished := time.Unix(1_700_000_000, 0)

	RecordRefresh(domain.RefreshPartial, time.Second, finished)
	require.Zero(t, testutil.ToFloat64(lastRefreshGauge))

	before := testutil.ToFloat64(refreshRunsCounter.WithLabelValues(string(domain.RefreshCompleted)))
	RecordRefresh(domain.RefreshCompleted, 2*time.Second, finished)
	require.Equal(t, float64(finished.Unix()), testutil.ToFloat64(lastRefreshGauge))
	require.Equal(t, before+1, testutil.ToFloat64(refreshRunsCounter.WithLabelValues(string(domain.RefreshCompleted))))

	metric := &dto.Metric{}
	require.NoError(t, refreshDuration.Write(metric))
	require.GreaterOrEqual(t, metric.GetHistogram().GetSampleCount(), uint64(2))
}

func TestRecordMalformedIgnoresNonPositive(t *testing.T) {
	counter := malformedCounter.WithLabelValues(string(domain.CategorySleep))
	before := testutil.ToFloat64(counter)

	RecordMalformed(domain.CategorySleep, 0)
	RecordMalformed(domain.CategorySleep, 3)

	require.Equal(t, before+3, testutil.ToFloat64(counter))
}

func TestRecordSummaryPersistedSkipsZeroTime(t *testing.T) {
	summaryPersistGauge.Set(42)
	RecordSummaryPersisted(time.Time{})
	require.Equal(t, float64(42), testutil.ToFloat64(summaryPersistGauge))
}
