package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequestCounts(t *testing.T) {
	before := testutil.ToFloat64(BackendRequestsTotal.WithLabelValues("select_rooms", "200"))
	ObserveRequest("select_rooms", "200", time.Now())
	after := testutil.ToFloat64(BackendRequestsTotal.WithLabelValues("select_rooms", "200"))
	assert.Equal(t, before+1, after)
}

func TestObserveDeliveryIgnoresSkew(t *testing.T) {
	now := time.Now()
	before := deliverySamples(t)

	ObserveDelivery(time.Time{}, now)
	ObserveDelivery(now.Add(time.Second), now)
	assert.Equal(t, before, deliverySamples(t))

	ObserveDelivery(now.Add(-50*time.Millisecond), now)
	assert.Equal(t, before+1, deliverySamples(t))
}

func deliverySamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, DeliveryLatency.Write(&m))
	return m.GetHistogram().GetSampleCount()
}
