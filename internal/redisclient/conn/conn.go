// Package conn implements the Connection component: a single Redis link
// that serializes command execution and exposes the versioned-entry
// protocol over it.
package conn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bodand/shibsp-redis/internal/redisclient/storageid"
	"github.com/bodand/shibsp-redis/internal/redisclient/topology"
	"github.com/bodand/shibsp-redis/internal/redislog"
)

// optimisticConcurrencyRetryCount bounds the internal WATCH-retry loop for
// getVersioned/updateVersioned before giving up and returning 0.
const optimisticConcurrencyRetryCount = 3

// AuthStyle selects how a Connection authenticates to its node, mirroring
// the original plugin's three-way RedisConfig::authScheme switch.
type AuthStyle int

const (
	// AuthNone performs no authentication.
	AuthNone AuthStyle = iota
	// AuthPassword sends AUTH with only a password.
	AuthPassword
	// AuthUserPassword sends AUTH with a username and password (ACL-style).
	AuthUserPassword
)

// TLSConfig selects TLS for the underlying Redis client. ClientCert/ClientKey
// and CABundle are loaded into the client's tls.Config; CADirectory is
// accepted but not read.
type TLSConfig struct {
	Enabled     bool
	ClientCert  string
	ClientKey   string
	CABundle    string
	CADirectory string
}

// Options configures a Connection.
type Options struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	MaxRetries     int // passed through to the wire client's own retry loop
	AuthStyle      AuthStyle
	AuthUser       string
	AuthPassword   string
	TLS            TLSConfig
}

// Connection owns a Redis link pinned to one node and serializes command
// execution with a mutex, so multi-statement pipelines are never
// interleaved on the wire.
type Connection struct {
	mu     sync.Mutex
	client *redis.Client
	id     string
	addr   topology.NodeAddress
}

// New constructs a Connection to the given node. Construction is
// non-blocking: go-redis dials lazily on first use, so callers may
// construct a Connection while holding only a read lock on the cache that
// owns it.
func New(opts Options) *Connection {
	redisOpts := &redis.Options{
		Addr:        fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		DialTimeout: opts.ConnectTimeout,
		ReadTimeout: opts.CommandTimeout,
		MaxRetries:  opts.MaxRetries,
	}

	switch opts.AuthStyle {
	case AuthPassword:
		redisOpts.Password = opts.AuthPassword
	case AuthUserPassword:
		redisOpts.Username = opts.AuthUser
		redisOpts.Password = opts.AuthPassword
	}

	if opts.TLS.Enabled {
		redisOpts.TLSConfig = buildTLSConfig(opts.TLS)
	}

	return &Connection{
		client: redis.NewClient(redisOpts),
		id:     uuid.NewString(),
		addr:   topology.NodeAddress{Host: opts.Host, Port: opts.Port},
	}
}

// Addr returns the node address this Connection is pinned to.
func (c *Connection) Addr() topology.NodeAddress { return c.addr }

// Close releases the underlying client.
func (c *Connection) Close() error {
	return c.client.Close()
}

func (c *Connection) logger() *zerolog.Logger {
	l := redislog.Component("conn").With().Str("conn_id", c.id).Str("addr", c.addr.String()).Logger()
	return &l
}

func buildTLSConfig(cfg TLSConfig) *tls.Config {
	tlsCfg := &tls.Config{}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err == nil {
			tlsCfg.Certificates = []tls.Certificate{cert}
		} else {
			redislog.Error("failed to load TLS client certificate/key: %s", err)
		}
	}

	if cfg.CABundle != "" {
		pool := x509.NewCertPool()
		if pem, err := os.ReadFile(cfg.CABundle); err == nil {
			pool.AppendCertsFromPEM(pem)
			tlsCfg.RootCAs = pool
		} else {
			redislog.Error("failed to read TLS CA bundle %s: %s", cfg.CABundle, err)
		}
	}

	return tlsCfg
}

// Set creates both the data key and its companion version key if absent.
// Returns true iff both SETs succeeded; false iff the data key already
// existed.
func (c *Connection) Set(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, verKey := id.Render(), id.VersionKey()
	exat := expiresAt.Unix()

	var dataCmd, verCmd *redis.Cmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		dataCmd = p.Do(ctx, "SET", key, value, "NX", "EXAT", exat)
		verCmd = p.Do(ctx, "SET", verKey, "1", "NX", "EXAT", exat)
		return nil
	})
	if err != nil && err != redis.Nil {
		return false, classifyError("set", err)
	}

	dataResult, dataErr := dataCmd.Result()
	dataOK := dataErr == nil && dataResult != nil
	verResult, verErr := verCmd.Result()
	verOK := verErr == nil && verResult != nil

	if !dataOK {
		return false, nil
	}
	if !verOK {
		c.logger().Warn().Str("id", id.String()).Msg("version value exists for non-existent key")
		c.client.Unlink(ctx, key, verKey)
		return false, nil
	}
	return true, nil
}

// GetVersioned performs an optimistic read: if no value or expiration
// output is requested it short-circuits to reading only the version. If the
// stored version is below minVersion the value read is suppressed. Retries
// up to optimisticConcurrencyRetryCount times on a concurrency miss
// (EXEC returning nil).
func (c *Connection) GetVersioned(ctx context.Context, id storageid.ID, minVersion int, wantValue, wantExpiration bool) (version int, value string, expiresAt time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !wantValue && !wantExpiration {
		v, e := c.getOnlyVersion(ctx, id)
		return v, "", time.Time{}, e
	}

	key, verKey := id.Render(), id.VersionKey()

	for attempt := 0; attempt < optimisticConcurrencyRetryCount; attempt++ {
		var gotValue string
		var gotExpireAt int64
		var sawValue, sawExpiration bool

		txErr := c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, verr := c.getOnlyVersionTx(ctx, tx, id)
			if verr != nil {
				return verr
			}
			version = current

			readValue := wantValue && current >= minVersion
			readExpiration := wantExpiration && current >= minVersion

			var getCmd *redis.StringCmd
			var expCmd *redis.Cmd
			_, perr := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				if readValue {
					getCmd = p.Get(ctx, key)
				}
				if readExpiration {
					expCmd = p.Do(ctx, "EXPIRETIME", key)
				}
				return nil
			})
			if perr != nil && perr != redis.Nil {
				return perr
			}

			if getCmd != nil {
				v, e := getCmd.Result()
				if e != nil && e != redis.Nil {
					return e
				}
				gotValue, sawValue = v, e == nil
			}
			if expCmd != nil {
				v, e := expCmd.Int64()
				if e != nil {
					return e
				}
				gotExpireAt, sawExpiration = v, true
			}
			return nil
		}, verKey)

		if txErr == redis.TxFailedErr {
			c.logger().Info().Str("id", id.String()).Msg("concurrency failure: retrying")
			continue
		}
		if txErr != nil {
			return 0, "", time.Time{}, classifyError("getVersioned", txErr)
		}

		if sawValue {
			value = gotValue
		}
		if sawExpiration {
			expiresAt = time.Unix(gotExpireAt, 0)
		}
		return version, value, expiresAt, nil
	}

	c.logger().Warn().Str("id", id.String()).Msg("concurrency failure: too many retries")
	return 0, "", time.Time{}, nil
}

func (c *Connection) getOnlyVersion(ctx context.Context, id storageid.ID) (int, error) {
	raw, err := c.client.Get(ctx, id.VersionKey()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError("getOnlyVersion", err)
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		c.logger().Error().Str("id", id.String()).Msg("non-integer value in version key")
		return 0, nil
	}
	return n, nil
}

func (c *Connection) getOnlyVersionTx(ctx context.Context, tx *redis.Tx, id storageid.ID) (int, error) {
	raw, err := tx.Get(ctx, id.VersionKey()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, classifyError("getOnlyVersion", err)
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		c.logger().Error().Str("id", id.String()).Msg("non-integer value in version key")
		return 0, nil
	}
	return n, nil
}

// ForceGet reads the version and (optionally) the value/expiration in a
// single pipeline, without optimistic concurrency control. Returns version
// 0 if either key is missing.
func (c *Connection) ForceGet(ctx context.Context, id storageid.ID, wantValue, wantExpiration bool) (version int, value string, expiresAt time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, verKey := id.Render(), id.VersionKey()

	var verCmd *redis.StringCmd
	var getCmd *redis.StringCmd
	var expCmd *redis.Cmd

	_, txErr := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		verCmd = p.Get(ctx, verKey)
		if wantValue {
			getCmd = p.Get(ctx, key)
		}
		if wantExpiration {
			expCmd = p.Do(ctx, "EXPIRETIME", key)
		}
		return nil
	})
	if txErr != nil && txErr != redis.Nil {
		return 0, "", time.Time{}, classifyError("forceGet", txErr)
	}

	rawVer, verErr := verCmd.Result()
	if verErr == redis.Nil {
		return 0, "", time.Time{}, nil
	}
	if verErr != nil {
		return 0, "", time.Time{}, classifyError("forceGet", verErr)
	}

	if wantValue {
		rawVal, getErr := getCmd.Result()
		if getErr == redis.Nil {
			return 0, "", time.Time{}, nil
		}
		if getErr != nil {
			return 0, "", time.Time{}, classifyError("forceGet", getErr)
		}
		value = rawVal
	}
	if wantExpiration {
		d, expErr := expCmd.Int64()
		if expErr != nil {
			return 0, "", time.Time{}, classifyError("forceGet", expErr)
		}
		expiresAt = time.Unix(d, 0)
	}

	n, perr := strconv.Atoi(rawVer)
	if perr != nil {
		c.logger().Error().Str("id", id.String()).Msg("non-integer value in version key")
		return 0, value, expiresAt, nil
	}
	return n, value, expiresAt, nil
}

// UpdateVersioned performs a compare-and-swap update: if the stored version
// does not equal ifVersion, returns -1. On success returns the new version.
// Returns 0 if the internal retry budget is exhausted by repeated
// concurrency misses.
func (c *Connection) UpdateVersioned(ctx context.Context, id storageid.ID, value string, expiresAt time.Time, ifVersion int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, verKey := id.Render(), id.VersionKey()
	hasExpiration := !expiresAt.IsZero()

	for attempt := 0; attempt < optimisticConcurrencyRetryCount; attempt++ {
		var newVersion int64
		mismatch := false

		txErr := c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, verr := c.getOnlyVersionTx(ctx, tx, id)
			if verr != nil {
				return verr
			}
			if current != ifVersion {
				mismatch = true
				return nil
			}

			var incrCmd *redis.IntCmd
			_, perr := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Do(ctx, "SET", key, value, "XX", "KEEPTTL")
				incrCmd = p.Incr(ctx, verKey)
				if hasExpiration {
					p.Do(ctx, "EXPIREAT", key, expiresAt.Unix())
					p.Do(ctx, "EXPIREAT", verKey, expiresAt.Unix())
				}
				return nil
			})
			if perr != nil {
				return perr
			}
			v, e := incrCmd.Result()
			newVersion = v
			return e
		}, verKey)

		if mismatch {
			return -1, nil
		}
		if txErr == redis.TxFailedErr {
			c.logger().Info().Str("id", id.String()).Msg("concurrency failure: retrying")
			continue
		}
		if txErr != nil {
			return 0, classifyError("updateVersioned", txErr)
		}
		if newVersion-1 != int64(ifVersion) {
			c.logger().Warn().Str("id", id.String()).Msg("severe concurrency failure: retrying")
			continue
		}
		return int(newVersion), nil
	}

	c.logger().Warn().Str("id", id.String()).Msg("concurrency failure: too many retries")
	return 0, nil
}

// ForceUpdate is the non-CAS variant of UpdateVersioned: it writes the
// value and increments the version unconditionally, without WATCH.
func (c *Connection) ForceUpdate(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, verKey := id.Render(), id.VersionKey()
	hasExpiration := !expiresAt.IsZero()

	var incrCmd *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Do(ctx, "SET", key, value, "XX", "KEEPTTL")
		incrCmd = p.Incr(ctx, verKey)
		if hasExpiration {
			p.Do(ctx, "EXPIREAT", key, expiresAt.Unix())
			p.Do(ctx, "EXPIREAT", verKey, expiresAt.Unix())
		}
		return nil
	})
	if err != nil {
		return 0, classifyError("forceUpdate", err)
	}
	v, verr := incrCmd.Result()
	if verr != nil {
		return 0, classifyError("forceUpdate", verr)
	}
	return int(v), nil
}

// Remove deletes both the data key and its companion version key. Returns
// true iff at least one key was deleted.
func (c *Connection) Remove(ctx context.Context, id storageid.ID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.client.Unlink(ctx, id.Render(), id.VersionKey()).Result()
	if err != nil {
		return false, classifyError("remove", err)
	}
	return n >= 1, nil
}

// ExpireKeyPair pushes the expiration of an already-rendered key and its
// companion version key forward to at, matching the original plugin's
// SetExpirationTo functor used by updateContext. It operates on a raw key
// string rather than a storageid.ID since a context sweep only ever learns
// keys back from SCAN, never reconstructs the (context, prefix, key) triple
// that produced them.
func (c *Connection) ExpireKeyPair(ctx context.Context, fullKey string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	verKey := storageid.VersionPrefix + fullKey
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Do(ctx, "EXPIREAT", fullKey, at.Unix())
		p.Do(ctx, "EXPIREAT", verKey, at.Unix())
		return nil
	})
	if err != nil {
		return classifyError("expireKeyPair", err)
	}
	return nil
}

// RemoveKeyPair deletes an already-rendered key and its companion version
// key in one UNLINK, matching the original plugin's Delete functor used by
// deleteContext.
func (c *Connection) RemoveKeyPair(ctx context.Context, fullKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	verKey := storageid.VersionPrefix + fullKey
	n, err := c.client.Unlink(ctx, fullKey, verKey).Result()
	if err != nil {
		return false, classifyError("removeKeyPair", err)
	}
	return n >= 1, nil
}

// ScanCallback is invoked once per key visited by Scan.
type ScanCallback func(key string)

// Scan walks every key under the given context prefix via cursor-driven
// SCAN, invoking cb with each full key encountered. Returns the number of
// keys visited.
//
// The match pattern is anchored on the hash-tag opening brace ("{<context>:*")
// rather than the bare "<context>:*" the wire command is described with,
// since every rendered StorageId key is hash-tag wrapped (see
// storageid.ID.Render) and a pattern without the brace would never match a
// real key.
func (c *Connection) Scan(ctx context.Context, contextPrefix string, cb ScanCallback) (int, error) {
	var cursor uint64
	match := "{" + contextPrefix + ":*"
	var visited []string

	c.mu.Lock()
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, 0).Result()
		if err != nil {
			c.mu.Unlock()
			return len(visited), classifyError("scan", err)
		}
		visited = append(visited, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}
	c.mu.Unlock()

	// cb runs with the connection unlocked, since it commonly issues its own
	// commands on this same Connection (ExpireKeyPair/RemoveKeyPair during a
	// context sweep), and c.mu is not reentrant.
	for _, k := range visited {
		cb(k)
	}
	return len(visited), nil
}

// SlotCallback is invoked once per [from,to] -> node pair found in a
// CLUSTER SLOTS reply.
type SlotCallback func(topology.SlotRange, topology.NodeAddress)

// IterateSlots issues CLUSTER SLOTS and invokes cb for every returned range.
// A structurally malformed entry (fewer than 3 elements, or a malformed
// nested master-address array) is fatal (ErrBadTopology).
func (c *Connection) IterateSlots(ctx context.Context, cb SlotCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots, err := c.client.ClusterSlots(ctx).Result()
	if err != nil {
		return classifyError("iterateSlots", err)
	}

	for _, s := range slots {
		if s.Nodes == nil || len(s.Nodes) < 1 {
			return fmt.Errorf("%w: CLUSTER SLOTS entry missing node list", ErrBadTopology)
		}
		master := s.Nodes[0]
		if master.Addr == "" {
			return fmt.Errorf("%w: CLUSTER SLOTS entry has empty master address", ErrBadTopology)
		}
		r, rerr := topology.NewSlotRange(uint16(s.Start), uint16(s.End))
		if rerr != nil {
			return fmt.Errorf("%w: %s", ErrBadTopology, rerr)
		}
		host, portStr, perr := net.SplitHostPort(master.Addr)
		if perr != nil {
			return fmt.Errorf("%w: %s", ErrBadTopology, perr)
		}
		port, perr := strconv.Atoi(portStr)
		if perr != nil {
			return fmt.Errorf("%w: %s", ErrBadTopology, perr)
		}
		cb(r, topology.NodeAddress{Host: host, Port: port})
	}
	return nil
}

