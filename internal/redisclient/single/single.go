// Package single implements the single-node façade: a degenerate Cluster
// that holds exactly one Connection and one static route covering the
// whole slot space. It never performs CLUSTER SLOTS discovery and never
// honours a Redirected reply.
package single

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bodand/shibsp-redis/internal/redisclient/conn"
	"github.com/bodand/shibsp-redis/internal/redisclient/retry"
	"github.com/bodand/shibsp-redis/internal/redisclient/storageid"
	"github.com/bodand/shibsp-redis/internal/redislog"
)

// ErrUnexpectedRedirect is raised when a non-clustered node replies with a
// MOVED redirect, which a single-node deployment can never honour: there is
// nowhere else to route to, so it is treated as a fatal protocol error
// rather than retried.
var ErrUnexpectedRedirect = errors.New("single: node issued a cluster redirect in non-clustered mode")

// Single is the non-clustered counterpart to Cluster: same retry semantics
// around ConnectionLost (transparent reconnect), no topology, no redirects.
type Single struct {
	connection *conn.Connection
	retry      *retry.Controller
}

// New creates the Connection to the single configured node. No I/O happens
// here; go-redis connects lazily on first command.
func New(opts conn.Options, retryCfg retry.Config) *Single {
	return &Single{
		connection: conn.New(opts),
		retry:      retry.New(retryCfg),
	}
}

// call retries fn across ConnectionLost errors only: there is no topology
// to rebuild and no second node to redirect to.
func call[T any](ctx context.Context, s *Single, fn func(*conn.Connection) (T, error)) (T, error) {
	var zero T
	attempt := 0

	for {
		result, err := fn(s.connection)
		if err == nil {
			return result, nil
		}

		var redirected *conn.Redirected
		if errors.As(err, &redirected) {
			redislog.Component("single").Error().
				Str("redirect", redirected.Error()).
				Msg("non-clustered node issued MOVED; treating as fatal")
			return zero, fmt.Errorf("%w: %s", ErrUnexpectedRedirect, redirected.Error())
		}

		if !errors.Is(err, conn.ErrConnectionLost) {
			return zero, err
		}

		if !s.retry.Wait(ctx, attempt) {
			return zero, err
		}
		attempt++
	}
}

// Set implements the single-node form of Connection.Set.
func (s *Single) Set(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (bool, error) {
	return call(ctx, s, func(cn *conn.Connection) (bool, error) {
		return cn.Set(ctx, id, value, expiresAt)
	})
}

// GetVersioned implements the single-node form of Connection.GetVersioned.
func (s *Single) GetVersioned(ctx context.Context, id storageid.ID, minVersion int, wantValue, wantExpiration bool) (int, string, time.Time, error) {
	type result struct {
		version   int
		value     string
		expiresAt time.Time
	}
	r, err := call(ctx, s, func(cn *conn.Connection) (result, error) {
		v, val, exp, e := cn.GetVersioned(ctx, id, minVersion, wantValue, wantExpiration)
		return result{v, val, exp}, e
	})
	return r.version, r.value, r.expiresAt, err
}

// ForceGet implements the single-node form of Connection.ForceGet.
func (s *Single) ForceGet(ctx context.Context, id storageid.ID, wantValue, wantExpiration bool) (int, string, time.Time, error) {
	type result struct {
		version   int
		value     string
		expiresAt time.Time
	}
	r, err := call(ctx, s, func(cn *conn.Connection) (result, error) {
		v, val, exp, e := cn.ForceGet(ctx, id, wantValue, wantExpiration)
		return result{v, val, exp}, e
	})
	return r.version, r.value, r.expiresAt, err
}

// UpdateVersioned implements the single-node form of Connection.UpdateVersioned.
func (s *Single) UpdateVersioned(ctx context.Context, id storageid.ID, value string, expiresAt time.Time, ifVersion int) (int, error) {
	return call(ctx, s, func(cn *conn.Connection) (int, error) {
		return cn.UpdateVersioned(ctx, id, value, expiresAt, ifVersion)
	})
}

// ForceUpdate implements the single-node form of Connection.ForceUpdate.
func (s *Single) ForceUpdate(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (int, error) {
	return call(ctx, s, func(cn *conn.Connection) (int, error) {
		return cn.ForceUpdate(ctx, id, value, expiresAt)
	})
}

// Remove implements the single-node form of Connection.Remove.
func (s *Single) Remove(ctx context.Context, id storageid.ID) (bool, error) {
	return call(ctx, s, func(cn *conn.Connection) (bool, error) {
		return cn.Remove(ctx, id)
	})
}

// ExpireKeyPair implements the single-node form of Connection.ExpireKeyPair.
func (s *Single) ExpireKeyPair(ctx context.Context, fullKey string, at time.Time) error {
	_, err := call(ctx, s, func(cn *conn.Connection) (struct{}, error) {
		return struct{}{}, cn.ExpireKeyPair(ctx, fullKey, at)
	})
	return err
}

// RemoveKeyPair implements the single-node form of Connection.RemoveKeyPair.
func (s *Single) RemoveKeyPair(ctx context.Context, fullKey string) (bool, error) {
	return call(ctx, s, func(cn *conn.Connection) (bool, error) {
		return cn.RemoveKeyPair(ctx, fullKey)
	})
}

// ScanContext implements the single-node form of a context-wide scan; there
// is only one node, so coverage is always complete.
func (s *Single) ScanContext(ctx context.Context, contextPrefix string, cb conn.ScanCallback) (int, error) {
	return call(ctx, s, func(cn *conn.Connection) (int, error) {
		return cn.Scan(ctx, contextPrefix, cb)
	})
}

// Close tears down the underlying connection.
func (s *Single) Close() error {
	return s.connection.Close()
}
