package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderImplementsInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncEmitted()
	r.IncDropped()
	r.IncEncodeFailure()
	r.IncEvent("state_changed")
	r.IncPollSkipped()
	r.IncPollFailure()
	r.IncBusReconnect()
	r.ObservePollDuration(time.Second)
	r.SetTrackedUnits(3)
	r.SetFilteredUnits(2)
}

func TestPrometheusRecorderCounters(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncEmitted()
	pr.IncEmitted()
	pr.IncDropped()
	pr.IncEvent("removed")
	pr.SetTrackedUnits(17)

	require.Equal(t, 2.0, testutil.ToFloat64(pr.emitted))
	require.Equal(t, 1.0, testutil.ToFloat64(pr.dropped))
	require.Equal(t, 1.0, testutil.ToFloat64(pr.events.WithLabelValues("removed")))
	require.Equal(t, 17.0, testutil.ToFloat64(pr.trackedUnits))
}
