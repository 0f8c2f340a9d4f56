package ratelimiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNilLimiterAllowsEverything(t *testing.T) {
	l := New(0, 10, 0)
	assert.Nil(t, l)
	assert.True(t, l.Allow("ak_a", time.Now()))
	assert.Zero(t, l.Len())
}

func TestBurstThenRefill(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("ak_a", now))
	assert.True(t, l.Allow("ak_a", now))
	assert.False(t, l.Allow("ak_a", now))

	// another caller has its own bucket
	assert.True(t, l.Allow("ak_b", now))

	assert.True(t, l.Allow("ak_a", now.Add(time.Second)))
}

func TestIdleCallersAreEvicted(t *testing.T) {
	l := New(100, 100, time.Second)
	start := time.Unix(1_700_000_000, 0)
	l.Allow("ak_idle", start)

	later := start.Add(time.Minute)
	for i := 1; i < sweepEvery; i++ {
		l.Allow(fmt.Sprintf("ak_%d", i%4), later)
	}
	assert.Equal(t, 4, l.Len())
}
