package identity

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAttemptLimiter_ThrottlesPerKey(t *testing.T) {
	a := newAttemptLimiter(rate.Every(time.Minute), 2)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, a.allow("mary@example.com", now))
	assert.True(t, a.allow("mary@example.com", now))
	assert.False(t, a.allow("mary@example.com", now))
	assert.True(t, a.allow("bob@example.com", now))

	assert.True(t, a.allow("mary@example.com", now.Add(time.Minute)))
}

func TestAttemptLimiter_SweepsIdleKeys(t *testing.T) {
	a := newAttemptLimiter(rate.Every(time.Second), 1)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10*maxIdleLimiters; i++ {
		now = now.Add(10 * time.Millisecond)
		a.allow(fmt.Sprintf("user%d@example.com", i), now)
	}
	assert.LessOrEqual(t, a.size(), maxIdleLimiters)

	// A throttled key survives a sweep.
	assert.True(t, a.allow("mary@example.com", now))
	for i := 0; i < 2*maxIdleLimiters; i++ {
		a.allow(fmt.Sprintf("other%d@example.com", i), now)
	}
	assert.False(t, a.allow("mary@example.com", now))
	assert.LessOrEqual(t, a.size(), 3*maxIdleLimiters+1)
}
