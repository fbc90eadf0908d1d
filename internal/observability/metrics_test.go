package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestWatermarks(t *testing.T) {
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	RecordStatePersisted("exerciseProgress", ts)
	RecordStatePersisted("exerciseProgress", time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(statePersistedGauge.WithLabelValues("exerciseProgress")))

	RecordSnapshotPublished(ts.Add(time.Minute))
	require.Equal(t, float64(ts.Add(time.Minute).Unix()), testutil.ToFloat64(snapshotPublishedGauge))
}

func TestHandlerExposesWatermarks(t *testing.T) {
	RecordSnapshotPublished(time.Now())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "progress_engine_publish_last_snapshot_published_timestamp_seconds")
}
