package cluster

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zeebo/assert"

	"github.com/bodand/shibsp-redis/internal/redisclient/retry"
	"github.com/bodand/shibsp-redis/internal/redisclient/storageid"
	"github.com/bodand/shibsp-redis/internal/redisclient/topology"
)

func TestBootstrapFromInitialNode(t *testing.T) {
	node := newFakeNode(t)
	defer node.close()
	host, port := node.addrHostPort()

	node.on("CLUSTER", func(args []string) string {
		return clusterSlotsReply(0, 16383, host, port)
	})

	ctx := context.Background()
	seed := []topology.NodeAddress{{Host: host, Port: port}}

	c, err := New(ctx, seed, ConnectOptions{}, retry.Config{MaxRetries: 1, BaseWait: time.Millisecond})
	assert.NoError(t, err)
	defer c.Close()

	entries := c.table.Entries()
	assert.Equal(t, 1, len(entries))
	assert.Equal(t, topology.NodeAddress{Host: host, Port: port}, entries[0].Node)
}

func TestBootstrapFailsWhenNoNodeResponds(t *testing.T) {
	ctx := context.Background()
	seed := []topology.NodeAddress{{Host: "127.0.0.1", Port: 1}} // nothing listening

	_, err := New(ctx, seed, ConnectOptions{ConnectTimeout: 50 * time.Millisecond}, retry.Config{})
	assert.Error(t, err)
}

// TestRedirectTriggersRebuildAndRetry scripts a MOVED reply from the
// originally-routed node, and verifies Cluster rebuilds its routing table
// (discovering the correct owner from CLUSTER SLOTS) and retries the
// operation there, matching scenario S5.
func TestRedirectTriggersRebuildAndRetry(t *testing.T) {
	stale := newFakeNode(t)
	defer stale.close()
	owner := newFakeNode(t)
	defer owner.close()

	staleHost, stalePort := stale.addrHostPort()
	ownerHost, ownerPort := owner.addrHostPort()

	id, err := storageid.New("sess", "", "abc")
	assert.NoError(t, err)
	slot := id.Slot()

	var redirected atomic.Bool
	stale.on("CLUSTER", func(args []string) string {
		// Before the redirect, CLUSTER SLOTS still claims the full range.
		// After it, the stale node's own view has caught up with the
		// cluster's reconfiguration, matching what a real redis node
		// would eventually report once gossip propagates the move.
		if redirected.Load() {
			return clusterSlotsReply(0, 16383, ownerHost, ownerPort)
		}
		return clusterSlotsReply(0, 16383, staleHost, stalePort)
	})
	stale.on("SET", func(args []string) string {
		redirected.Store(true)
		return movedReply(slot, ownerHost, ownerPort)
	})

	owner.on("CLUSTER", func(args []string) string {
		return clusterSlotsReply(0, 16383, ownerHost, ownerPort)
	})
	owner.on("SET", func(args []string) string {
		return "+OK\r\n"
	})

	ctx := context.Background()
	seed := []topology.NodeAddress{{Host: staleHost, Port: stalePort}}

	c, err := New(ctx, seed, ConnectOptions{}, retry.Config{MaxRetries: 3, BaseWait: time.Millisecond})
	assert.NoError(t, err)
	defer c.Close()

	ok, err := c.Set(ctx, id, "DATA", time.Now().Add(time.Hour))
	assert.NoError(t, err)
	assert.True(t, ok)

	entries := c.table.Entries()
	assert.Equal(t, topology.NodeAddress{Host: ownerHost, Port: ownerPort}, entries[0].Node)
}
