package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/profiqo/golang_services/internal/core_domain"
)

func TestBackoff_Ceiling(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second, 8)
	want := []int{2, 4, 8, 16, 32, 60, 60}
	for attempt, secs := range want {
		assert.Equal(t, time.Duration(secs)*time.Second, b.Ceiling(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 60*time.Second, b.Ceiling(50), "exponent is capped")
	assert.Equal(t, 2*time.Second, b.Ceiling(-1))
}

func TestNewBackoff_Floors(t *testing.T) {
	b := NewBackoff(0, 0, 0)
	assert.Equal(t, time.Second, b.Base)
	assert.Equal(t, time.Second, b.Max)
	assert.Equal(t, 1, b.MaxAttempts)
}

func TestBackoff_DecideTransient(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second, 8)
	now := time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 50; i++ {
		d := b.Decide(2, errors.New("timeout"), now)
		assert.False(t, d.Permanent)
		assert.Equal(t, "timeout", d.Message)
		delay := d.NextAttemptAtUTC.Sub(now)
		assert.GreaterOrEqual(t, delay, 8*time.Second)
		assert.Less(t, delay, 10*time.Second)
	}
}

func TestBackoff_DecidePermanent(t *testing.T) {
	b := NewBackoff(2*time.Second, 60*time.Second, 3)
	b.jitter = func(time.Duration) time.Duration { return 0 }
	now := time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

	t.Run("AttemptsExhausted", func(t *testing.T) {
		assert.False(t, b.Exhausted(1))
		assert.True(t, b.Exhausted(2))

		d := b.Decide(2, errors.New("503 from provider"), now)
		assert.True(t, d.Permanent)
		assert.Equal(t, "FAILED(permanent): 503 from provider", d.Message)
		assert.Equal(t, now.Add(core_domain.PermanentFailureHorizon), d.NextAttemptAtUTC)
	})

	t.Run("PermanentError", func(t *testing.T) {
		d := b.Decide(0, core_domain.Permanent("template missing", nil), now)
		assert.True(t, d.Permanent)
		assert.True(t, strings.HasPrefix(d.Message, core_domain.PermanentFailurePrefix))
	})

	t.Run("LongMessageTruncated", func(t *testing.T) {
		d := b.Decide(0, errors.New(strings.Repeat("x", 9000)), now)
		assert.Len(t, d.Message, core_domain.MaxLastErrorLength)
	})
}
