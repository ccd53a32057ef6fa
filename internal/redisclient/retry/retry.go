// Package retry implements the exponential-backoff controller used by the
// Cluster and single-node façades to drive their redirect/reconnect loops.
package retry

import (
	"context"
	"time"

	"github.com/bodand/shibsp-redis/internal/redislog"
)

// maxSafeExponent caps attempt before it is used as a shift count, so
// baseWait*2^attempt never overflows.
const maxSafeExponent = 30

// Config holds the RetryController's tunables.
type Config struct {
	MaxRetries int           // default 5
	BaseWait   time.Duration // default 500ms
	MaxWait    time.Duration // 0 => unbounded
}

// DefaultConfig returns the RetryController defaults named in the spec.
func DefaultConfig() Config {
	return Config{MaxRetries: 5, BaseWait: 500 * time.Millisecond}
}

// Controller drives the exponential backoff used between retry attempts.
type Controller struct {
	cfg Config
}

// New constructs a Controller from cfg, filling in defaults for zero fields.
func New(cfg Config) *Controller {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BaseWait == 0 {
		cfg.BaseWait = DefaultConfig().BaseWait
	}
	return &Controller{cfg: cfg}
}

// Wait blocks for the backoff interval of the given attempt (0-based) and
// returns true, unless attempt exceeds MaxRetries, in which case it returns
// false immediately without sleeping. The wait can be cut short by ctx
// cancellation, in which case Wait also returns false.
func (c *Controller) Wait(ctx context.Context, attempt int) bool {
	if attempt > c.cfg.MaxRetries {
		return false
	}

	exp := attempt
	if exp > maxSafeExponent {
		exp = maxSafeExponent
	}
	wait := c.cfg.BaseWait * time.Duration(uint64(1)<<uint(exp))
	if c.cfg.MaxWait > 0 && wait > c.cfg.MaxWait {
		wait = c.cfg.MaxWait
	}

	redislog.Component("retry").Debug().
		Int("attempt", attempt).
		Int("max_retries", c.cfg.MaxRetries).
		Dur("wait", wait).
		Msg("backing off before retry")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
