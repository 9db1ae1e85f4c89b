package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelay_ExponentialGrowth(t *testing.T) {
	cfg := Config{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0}
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 400*time.Millisecond, cfg.Delay(3))
	assert.Equal(t, 800*time.Millisecond, cfg.Delay(4))
}

func TestDelay_CappedAtMax(t *testing.T) {
	cfg := Config{Initial: time.Second, Max: 5 * time.Second, Factor: 2, Jitter: 0}
	assert.Equal(t, 5*time.Second, cfg.Delay(10))
	assert.Equal(t, 5*time.Second, cfg.Delay(100))
}

func TestDelay_JitterBounds(t *testing.T) {
	cfg := Config{Initial: time.Second, Max: time.Minute, Factor: 2, Jitter: 0.2}
	for i := 0; i < 200; i++ {
		d := cfg.Delay(3) // base 4s, range [3.2s, 4.8s]
		assert.GreaterOrEqual(t, d, 3200*time.Millisecond)
		assert.LessOrEqual(t, d, 4800*time.Millisecond)
	}
}

func TestDelay_AttemptBelowOne(t *testing.T) {
	cfg := Config{Initial: time.Second, Max: time.Minute, Factor: 2, Jitter: 0}
	assert.Equal(t, cfg.Delay(1), cfg.Delay(0))
	assert.Equal(t, cfg.Delay(1), cfg.Delay(-5))
}

func TestMaxAttemptsReached(t *testing.T) {
	unlimited := Config{MaxAttempts: 0}
	assert.False(t, unlimited.MaxAttemptsReached(1000))

	limited := Config{MaxAttempts: 3}
	assert.False(t, limited.MaxAttemptsReached(2))
	assert.True(t, limited.MaxAttemptsReached(3))
	assert.True(t, limited.MaxAttemptsReached(4))
}

func TestSleep_Completes(t *testing.T) {
	err := Sleep(context.Background(), time.Millisecond)
	assert.NoError(t, err)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
