package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordCheckIn(t *testing.T) {
	before := testutil.ToFloat64(CheckIns.WithLabelValues("duplicate"))
	RecordCheckIn("duplicate")
	RecordCheckIn("duplicate")
	require.InDelta(t, before+2, testutil.ToFloat64(CheckIns.WithLabelValues("duplicate")), 0.001)
}

func TestRecordAPIRequest(t *testing.T) {
	RecordAPIRequest("POST", "/attendance/validate-qr/", 200, 15*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(APIRequestDuration))
}
