package wsclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelaysDouble(t *testing.T) {
	s := NewReconnectState(5, time.Second)

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		next, delay, retry := s.Next(CloseAbnormal)
		assert.True(t, retry)
		delays = append(delays, delay)
		s = next
	}

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	assert.Equal(t, 3, s.Attempts)
}

func TestReconnectStopsAtCeiling(t *testing.T) {
	s := NewReconnectState(2, time.Second)

	var retries []bool
	for i := 0; i < 4; i++ {
		next, _, retry := s.Next(CloseAbnormal)
		retries = append(retries, retry)
		s = next
	}

	assert.Equal(t, []bool{true, true, false, false}, retries)
	assert.Equal(t, 2, s.Attempts, "attempts must not grow past the ceiling")
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	s := NewReconnectState(5, time.Second)
	next, delay, retry := s.Next(CloseNormal)
	assert.False(t, retry)
	assert.Zero(t, delay)
	assert.Equal(t, s, next)
}

func TestIntentionalCloseDoesNotReconnect(t *testing.T) {
	s := NewReconnectState(5, time.Second)
	next, delay, retry := s.Next(CloseIntentional)
	assert.False(t, retry)
	assert.Zero(t, delay)
	assert.Equal(t, s, next)
}

func TestResetClearsAttempts(t *testing.T) {
	s := NewReconnectState(5, time.Second)
	s, _, _ = s.Next(CloseAbnormal)
	s, _, _ = s.Next(CloseAbnormal)
	assert.Equal(t, 2, s.Attempts)

	s = s.Reset()
	assert.Equal(t, 0, s.Attempts)

	// After reset the backoff starts over from the smallest delay.
	_, delay, retry := s.Next(CloseAbnormal)
	assert.True(t, retry)
	assert.Equal(t, 2*time.Second, delay)
}

func TestCloseReasonStrings(t *testing.T) {
	assert.Equal(t, "normal", CloseNormal.String())
	assert.Equal(t, "intentional", CloseIntentional.String())
	assert.Equal(t, "abnormal", CloseAbnormal.String())
	assert.Equal(t, "unknown", CloseReason(99).String())
}
