package metrics

import "time"

// Recorder defines observability hooks for the monitor itself. Implementations
// may forward to Prometheus, OpenTelemetry, etc. The NoopRecorder allows
// optional injection without nil checks at call sites.
type Recorder interface {
	IncEmitted()
	IncDropped()
	IncEncodeFailure()
	IncEvent(kind string)
	IncPollSkipped()
	IncPollFailure()
	IncBusReconnect()
	ObservePollDuration(d time.Duration)
	SetTrackedUnits(n int)
	SetFilteredUnits(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncEmitted()                       {}
func (NoopRecorder) IncDropped()                       {}
func (NoopRecorder) IncEncodeFailure()                 {}
func (NoopRecorder) IncEvent(string)                   {}
func (NoopRecorder) IncPollSkipped()                   {}
func (NoopRecorder) IncPollFailure()                   {}
func (NoopRecorder) IncBusReconnect()                  {}
func (NoopRecorder) ObservePollDuration(time.Duration) {}
func (NoopRecorder) SetTrackedUnits(int)               {}
func (NoopRecorder) SetFilteredUnits(int)              {}
