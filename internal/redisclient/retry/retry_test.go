package retry

import (
	"context"
	"testing"
	"time"

	"github.com/zeebo/assert"
)

func TestWaitFalseAfterMaxRetries(t *testing.T) {
	c := New(Config{MaxRetries: 2, BaseWait: time.Millisecond})
	assert.True(t, c.Wait(context.Background(), 0))
	assert.True(t, c.Wait(context.Background(), 1))
	assert.True(t, c.Wait(context.Background(), 2))
	assert.True(t, !c.Wait(context.Background(), 3))
}

func TestWaitDurationFormula(t *testing.T) {
	c := New(Config{MaxRetries: 10, BaseWait: 10 * time.Millisecond})
	start := time.Now()
	ok := c.Wait(context.Background(), 2)
	elapsed := time.Since(start)
	assert.True(t, ok)
	// baseWait * 2^2 == 40ms
	assert.True(t, elapsed >= 40*time.Millisecond)
}

func TestWaitRespectsMaxWaitCap(t *testing.T) {
	c := New(Config{MaxRetries: 10, BaseWait: 100 * time.Millisecond, MaxWait: 50 * time.Millisecond})
	start := time.Now()
	ok := c.Wait(context.Background(), 3) // uncapped would be 800ms
	elapsed := time.Since(start)
	assert.True(t, ok)
	assert.True(t, elapsed < 200*time.Millisecond)
}

func TestWaitCancellableByContext(t *testing.T) {
	c := New(Config{MaxRetries: 10, BaseWait: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	ok := c.Wait(ctx, 0)
	assert.True(t, !ok)
}
