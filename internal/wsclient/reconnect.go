package wsclient

import "time"

// CloseReason classifies why the channel closed. Each close event produces
// exactly one reason, consumed exactly once, which removes any ambiguity
// between flag-set and flag-read ordering.
type CloseReason int

const (
	// CloseNormal is a clean closure initiated by the peer.
	CloseNormal CloseReason = iota
	// CloseIntentional is a deliberate local closure; it suppresses
	// reconnection.
	CloseIntentional
	// CloseAbnormal is any other closure and is eligible for reconnection.
	CloseAbnormal
)

func (r CloseReason) String() string {
	switch r {
	case CloseNormal:
		return "normal"
	case CloseIntentional:
		return "intentional"
	case CloseAbnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}

// ReconnectState tracks bounded exponential backoff as a plain value; all
// transitions are pure so they can be unit-tested without timers.
type ReconnectState struct {
	Attempts    int
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewReconnectState creates a reconnect state with zero attempts.
func NewReconnectState(maxAttempts int, baseDelay time.Duration) ReconnectState {
	return ReconnectState{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Next returns the state after a close with the given reason, the delay to
// wait before the next attempt, and whether a reconnect should be scheduled
// at all. Only abnormal closes reconnect, and only while attempts remain
// below the ceiling. The attempt counter is incremented before the delay is
// computed, so delays run baseDelay*2, baseDelay*4, and so on.
func (s ReconnectState) Next(reason CloseReason) (ReconnectState, time.Duration, bool) {
	if reason != CloseAbnormal {
		return s, 0, false
	}
	if s.Attempts >= s.MaxAttempts {
		return s, 0, false
	}
	next := s
	next.Attempts++
	delay := s.BaseDelay * (1 << next.Attempts)
	return next, delay, true
}

// Reset returns the state with the attempt counter cleared. Applied on every
// successful connection.
func (s ReconnectState) Reset() ReconnectState {
	s.Attempts = 0
	return s
}

// Scheduler defers work for reconnection. Injectable so tests can run without
// real timers.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}
