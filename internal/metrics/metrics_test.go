package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.SearchSucceeded(3)
	m.SearchFailed()
	m.RecordDropped("malformed_value")
	m.RecordDropped("malformed_value")
	m.Mutation("place", nil)
	m.Mutation("place", errors.New("boom"))
	m.NotificationSent("slack")
	m.NotificationFailed("amqp")
	m.NotificationDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.searches.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.droppedRecords.WithLabelValues("malformed_value")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("place", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("place", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsSent.WithLabelValues("slack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsFailed.WithLabelValues("amqp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsDropped))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SearchSucceeded(1)
		m.SearchFailed()
		m.RecordDropped("x")
		m.Mutation("take_off", nil)
		m.NotificationSent("slack")
		m.NotificationFailed("slack")
		m.NotificationDropped()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.Mutation("take_off", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hackmarket_mutations_total{op="take_off",result="ok"} 1`)
}
