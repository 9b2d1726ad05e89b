package realtime

import "github.com/dgnsrekt/realtime-sync/internal/model"

// Metrics receives engine instrumentation.
type Metrics interface {
	PollCompleted(result string)
	EventApplied(eventType model.EventType, outcome string)
	DuplicatesDropped(n int)
	RegistrationCompleted(result string)
	HeartbeatCompleted(result string)
	LeaderChanged(leader bool)
	StatusChanged(status Status)
}

// Result labels reported to Metrics.
const (
	ResultOK        = "ok"
	ResultEvents    = "events"
	ResultCatchup   = "catchup"
	ResultAuth      = "auth"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) PollCompleted(string) {}
func (NoopMetrics) EventApplied(model.EventType, string) {}
func (NoopMetrics) DuplicatesDropped(int) {}
func (NoopMetrics) RegistrationCompleted(string) {}
func (NoopMetrics) HeartbeatCompleted(string) {}
func (NoopMetrics) LeaderChanged(bool) {}
func (NoopMetrics) StatusChanged(Status) {}
