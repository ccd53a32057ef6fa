// Package cluster implements the Cluster component: a RoutingTable and
// ConnectionCache composed together with a retry/redirect loop around every
// Connection operation.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bodand/shibsp-redis/internal/redisclient/conn"
	"github.com/bodand/shibsp-redis/internal/redisclient/retry"
	"github.com/bodand/shibsp-redis/internal/redisclient/slot"
	"github.com/bodand/shibsp-redis/internal/redisclient/storageid"
	"github.com/bodand/shibsp-redis/internal/redisclient/topology"
	"github.com/bodand/shibsp-redis/internal/redislog"
)

// ErrFatalTopology is raised when no configured node answers CLUSTER SLOTS
// during a rebuild.
var ErrFatalTopology = errors.New("cluster: no node in the cluster responds to CLUSTER SLOTS")

// ConnectOptions are the per-node options a Cluster uses to dial new
// connections, minus the node address (supplied per dial).
type ConnectOptions struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRetries     int
	AuthStyle      conn.AuthStyle
	AuthUser       string
	AuthPassword   string
	TLS            conn.TLSConfig
}

// Cluster composes a RoutingTable (F) and ConnectionCache (G), performs
// CLUSTER SLOTS discovery, and wraps every core operation with the
// retry/redirect loop described in the component design.
type Cluster struct {
	mu    sync.RWMutex
	table *topology.RoutingTable
	cache map[topology.NodeAddress]*conn.Connection

	initial []topology.NodeAddress
	opts    ConnectOptions
	retry   *retry.Controller
}

// New constructs a Cluster and performs the initial bootstrap from the
// given seed nodes, trying each until one answers CLUSTER SLOTS.
func New(ctx context.Context, initialNodes []topology.NodeAddress, opts ConnectOptions, retryCfg retry.Config) (*Cluster, error) {
	c := &Cluster{
		table:   topology.NewRoutingTable(),
		cache:   make(map[topology.NodeAddress]*conn.Connection),
		initial: initialNodes,
		opts:    opts,
		retry:   retry.New(retryCfg),
	}

	for _, node := range initialNodes {
		throwaway := c.newConnection(node)
		err := throwaway.IterateSlots(ctx, func(r topology.SlotRange, n topology.NodeAddress) {
			c.table.Insert(r, n)
		})
		throwaway.Close()
		if err == nil {
			return c, nil
		}
		redislog.Component("cluster").Error().
			Str("node", node.String()).Err(err).
			Msg("error during initial cluster configuration, skipping node")
		c.table = topology.NewRoutingTable()
	}

	return nil, fmt.Errorf("%w: no initial node could be reached", ErrFatalTopology)
}

func (c *Cluster) newConnection(node topology.NodeAddress) *conn.Connection {
	return conn.New(conn.Options{
		Host:           node.Host,
		Port:           node.Port,
		ConnectTimeout: c.opts.ConnectTimeout,
		CommandTimeout: c.opts.CommandTimeout,
		MaxRetries:     c.opts.MaxRetries,
		AuthStyle:      c.opts.AuthStyle,
		AuthUser:       c.opts.AuthUser,
		AuthPassword:   c.opts.AuthPassword,
		TLS:            c.opts.TLS,
	})
}

// dispatch returns the cached Connection for node, constructing one if
// absent. It takes c.mu itself: a read lock for a cache hit, and the write
// lock (re-checking the cache) only on a miss, so callers must not hold c.mu.
// Construction is non-blocking (go-redis dials lazily), so the write lock is
// never held across network I/O.
func (c *Cluster) dispatch(node topology.NodeAddress) *conn.Connection {
	c.mu.RLock()
	if existing, ok := c.cache[node]; ok {
		c.mu.RUnlock()
		return existing
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[node]; ok {
		return existing
	}
	created := c.newConnection(node)
	c.cache[node] = created
	return created
}

// rebuild refreshes the routing table via CLUSTER SLOTS, trying each
// currently-known node in turn until one answers. The connection cache is
// cleared first so no reader observes a dangling node reference.
func (c *Cluster) rebuild(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := c.candidateNodesLocked()

	for _, n := range c.cache {
		n.Close()
	}
	c.cache = make(map[topology.NodeAddress]*conn.Connection)

	newTable := topology.NewRoutingTable()
	for _, node := range nodes {
		probe := c.newConnection(node)
		err := probe.IterateSlots(ctx, func(r topology.SlotRange, n topology.NodeAddress) {
			newTable.Insert(r, n)
		})
		probe.Close()
		if err == nil {
			c.table = newTable
			return nil
		}
		redislog.Component("cluster").Error().
			Str("node", node.String()).Err(err).
			Msg("error getting cluster configuration, skipping node")
	}

	redislog.Critical("no known node configured in the redis cluster responds correctly to CLUSTER SLOTS: cannot explore cluster topology")
	return ErrFatalTopology
}

func (c *Cluster) candidateNodesLocked() []topology.NodeAddress {
	entries := c.table.Entries()
	if len(entries) == 0 {
		return c.initial
	}
	seen := make(map[topology.NodeAddress]bool)
	var nodes []topology.NodeAddress
	for _, e := range entries {
		if !seen[e.Node] {
			seen[e.Node] = true
			nodes = append(nodes, e.Node)
		}
	}
	return nodes
}

// call wraps a Connection operation with the retry/redirect loop:
// on ErrConnectionLost or Redirected, it waits via the RetryController,
// rebuilds the routing table, and retries; any other error surfaces
// immediately.
func call[T any](ctx context.Context, c *Cluster, s uint16, fn func(*conn.Connection) (T, error)) (T, error) {
	var zero T
	attempt := 0

	for {
		c.mu.RLock()
		node, rerr := c.table.Lookup(s)
		c.mu.RUnlock()
		if rerr != nil {
			return zero, rerr
		}

		connection := c.dispatch(node)
		result, err := fn(connection)
		if err == nil {
			return result, nil
		}

		var redirected *conn.Redirected
		isRedirect := errors.As(err, &redirected)
		isLost := errors.Is(err, conn.ErrConnectionLost)

		if !isLost && !isRedirect {
			return zero, err
		}

		if !c.retry.Wait(ctx, attempt) {
			redislog.Component("cluster").Error().Msg("redis cluster failure: cannot find applicable host to connect to")
			return zero, err
		}

		if rebuildErr := c.rebuild(ctx); rebuildErr != nil {
			return zero, rebuildErr
		}
		attempt++
	}
}

// Set implements the cluster-routed form of Connection.Set.
func (c *Cluster) Set(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (bool, error) {
	return call(ctx, c, id.Slot(), func(cn *conn.Connection) (bool, error) {
		return cn.Set(ctx, id, value, expiresAt)
	})
}

// GetVersioned implements the cluster-routed form of Connection.GetVersioned.
func (c *Cluster) GetVersioned(ctx context.Context, id storageid.ID, minVersion int, wantValue, wantExpiration bool) (int, string, time.Time, error) {
	type result struct {
		version   int
		value     string
		expiresAt time.Time
	}
	r, err := call(ctx, c, id.Slot(), func(cn *conn.Connection) (result, error) {
		v, val, exp, e := cn.GetVersioned(ctx, id, minVersion, wantValue, wantExpiration)
		return result{v, val, exp}, e
	})
	return r.version, r.value, r.expiresAt, err
}

// ForceGet implements the cluster-routed form of Connection.ForceGet.
func (c *Cluster) ForceGet(ctx context.Context, id storageid.ID, wantValue, wantExpiration bool) (int, string, time.Time, error) {
	type result struct {
		version   int
		value     string
		expiresAt time.Time
	}
	r, err := call(ctx, c, id.Slot(), func(cn *conn.Connection) (result, error) {
		v, val, exp, e := cn.ForceGet(ctx, id, wantValue, wantExpiration)
		return result{v, val, exp}, e
	})
	return r.version, r.value, r.expiresAt, err
}

// UpdateVersioned implements the cluster-routed form of
// Connection.UpdateVersioned.
func (c *Cluster) UpdateVersioned(ctx context.Context, id storageid.ID, value string, expiresAt time.Time, ifVersion int) (int, error) {
	return call(ctx, c, id.Slot(), func(cn *conn.Connection) (int, error) {
		return cn.UpdateVersioned(ctx, id, value, expiresAt, ifVersion)
	})
}

// ForceUpdate implements the cluster-routed form of Connection.ForceUpdate.
func (c *Cluster) ForceUpdate(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (int, error) {
	return call(ctx, c, id.Slot(), func(cn *conn.Connection) (int, error) {
		return cn.ForceUpdate(ctx, id, value, expiresAt)
	})
}

// Remove implements the cluster-routed form of Connection.Remove.
func (c *Cluster) Remove(ctx context.Context, id storageid.ID) (bool, error) {
	return call(ctx, c, id.Slot(), func(cn *conn.Connection) (bool, error) {
		return cn.Remove(ctx, id)
	})
}

// ExpireKeyPair implements the cluster-routed form of
// Connection.ExpireKeyPair, routing on the already-rendered key's own slot
// since a scanned key carries no StorageId to re-derive one from.
func (c *Cluster) ExpireKeyPair(ctx context.Context, fullKey string, at time.Time) error {
	_, err := call(ctx, c, slot.Of(fullKey), func(cn *conn.Connection) (struct{}, error) {
		return struct{}{}, cn.ExpireKeyPair(ctx, fullKey, at)
	})
	return err
}

// RemoveKeyPair implements the cluster-routed form of
// Connection.RemoveKeyPair.
func (c *Cluster) RemoveKeyPair(ctx context.Context, fullKey string) (bool, error) {
	return call(ctx, c, slot.Of(fullKey), func(cn *conn.Connection) (bool, error) {
		return cn.RemoveKeyPair(ctx, fullKey)
	})
}

// ScanContext fans a context-wide scan out to every known routing entry's
// connection; the callback may be invoked from whichever node yields a key.
// Scans are not retried across topology changes: a concurrent rebuild may
// cause partial coverage, a documented best-effort tradeoff.
func (c *Cluster) ScanContext(ctx context.Context, contextPrefix string, cb conn.ScanCallback) (int, error) {
	c.mu.RLock()
	entries := c.table.Entries()
	c.mu.RUnlock()

	total := 0
	seen := make(map[topology.NodeAddress]bool)
	for _, e := range entries {
		if seen[e.Node] {
			continue
		}
		seen[e.Node] = true
		connection := c.dispatch(e.Node)
		n, err := connection.Scan(ctx, contextPrefix, cb)
		total += n
		if err != nil {
			redislog.Component("cluster").Error().
				Str("node", e.Node.String()).Err(err).
				Msg("error scanning node, partial coverage possible")
		}
	}
	return total, nil
}

// Close tears down every cached Connection.
func (c *Cluster) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.cache {
		n.Close()
	}
	return nil
}
