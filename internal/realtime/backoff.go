package realtime

import "time"

// loopState is the poll loop's bookkeeping. It is only changed through the
// methods below.
type loopState struct {
	Status     Status
	Backoff    time.Duration
	RetryCount int
}

func newLoopState(floor time.Duration) loopState {
	return loopState{Status: StatusIdle, Backoff: floor}
}

// succeed resets the retry bookkeeping after a good cycle.
func (s *loopState) succeed(floor time.Duration) {
	s.Backoff = floor
	s.RetryCount = 0
}

// fail records a failed cycle. It returns the delay before the next attempt,
// or exhausted once more than maxRetries consecutive failures occurred.
func (s *loopState) fail(ceiling time.Duration, maxRetries int) (delay time.Duration, exhausted bool) {
	s.RetryCount++
	if s.RetryCount > maxRetries {
		return 0, true
	}
	delay = s.Backoff
	s.Backoff = min(s.Backoff*2, ceiling)
	return delay, false
}
