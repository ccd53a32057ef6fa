// redischeck is a small command-line client exercising redisstore.Store's
// CRUD round-trip against a configured Redis endpoint, the same role the
// teacher's debug_client.go plays against its own server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bodand/shibsp-redis/internal/redisclient/topology"
	"github.com/bodand/shibsp-redis/internal/redislog"
	"github.com/bodand/shibsp-redis/redisstore"
)

func main() {
	host := flag.String("host", "127.0.0.1", "redis host (non-clustered mode)")
	port := flag.Int("port", 6379, "redis port (non-clustered mode)")
	clusterNodes := flag.String("cluster-nodes", "", "comma-separated host:port seed list; enables clustered mode")
	prefix := flag.String("prefix", "", "key prefix")
	context_ := flag.String("context", "demo", "storage context name")
	key := flag.String("key", "probe", "storage key")
	value := flag.String("value", "hello from redischeck", "value to write")
	ttl := flag.Duration("ttl", time.Minute, "entry time-to-live")
	logLevel := flag.String("log-level", "", "log level: DEBUG, INFO, WARNING, ERROR (default from SPREDIS_LOG_LEVEL env)")
	flag.Parse()

	if *logLevel != "" {
		redislog.SetLevelFromString(*logLevel)
	}

	cfg := redisstore.Config{
		Host:           *host,
		Port:           *port,
		Prefix:         *prefix,
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 5 * time.Second,
		MaxRetries:     3,
		BaseWait:       100 * time.Millisecond,
	}
	if *clusterNodes != "" {
		nodes, err := parseNodes(*clusterNodes)
		if err != nil {
			redislog.Logger.Fatal().Err(err).Msg("failed to parse -cluster-nodes")
		}
		cfg.InitialNodes = nodes
	}

	ctx := context.Background()
	store, err := redisstore.New(ctx, cfg)
	if err != nil {
		redislog.Logger.Fatal().Err(err).Msg("failed to initialize storage engine")
	}
	defer store.Close()

	expiresAt := time.Now().Add(*ttl)
	ok, err := store.CreateString(ctx, *context_, *key, *value, expiresAt)
	if err != nil {
		redislog.Logger.Fatal().Err(err).Msg("createString failed")
	}
	fmt.Printf("createString ok=%v\n", ok)

	readValue, readExpiry, version, err := store.ReadString(ctx, *context_, *key, 0)
	if err != nil {
		redislog.Logger.Fatal().Err(err).Msg("readString failed")
	}
	fmt.Printf("readString value=%q version=%d expires=%s\n", readValue, version, readExpiry.Format(time.RFC3339))

	caps := store.GetCapabilities()
	fmt.Printf("capabilities: maxContextBytes=%d maxKeyBytes=%d maxValueBytes=%d\n",
		caps.MaxContextBytes, caps.MaxKeyBytes, caps.MaxValueBytes)
}

func parseNodes(spec string) ([]topology.NodeAddress, error) {
	var nodes []topology.NodeAddress
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(part)
		if err != nil {
			return nil, fmt.Errorf("redischeck: invalid node %q: %w", part, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("redischeck: invalid port in node %q: %w", part, err)
		}
		nodes = append(nodes, topology.NodeAddress{Host: host, Port: port})
	}
	return nodes, nil
}
