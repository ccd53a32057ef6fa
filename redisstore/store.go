package redisstore

import (
	"context"
	"time"

	redisconn "github.com/bodand/shibsp-redis/internal/redisclient/conn"
	"github.com/bodand/shibsp-redis/internal/redisclient/cluster"
	"github.com/bodand/shibsp-redis/internal/redisclient/retry"
	"github.com/bodand/shibsp-redis/internal/redisclient/single"
	"github.com/bodand/shibsp-redis/internal/redisclient/storageid"
	"github.com/bodand/shibsp-redis/internal/redislog"
)

// engine is the common surface Cluster and Single both satisfy; Store
// dispatches to whichever one the configuration selected.
type engine interface {
	Set(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (bool, error)
	GetVersioned(ctx context.Context, id storageid.ID, minVersion int, wantValue, wantExpiration bool) (int, string, time.Time, error)
	ForceGet(ctx context.Context, id storageid.ID, wantValue, wantExpiration bool) (int, string, time.Time, error)
	UpdateVersioned(ctx context.Context, id storageid.ID, value string, expiresAt time.Time, ifVersion int) (int, error)
	ForceUpdate(ctx context.Context, id storageid.ID, value string, expiresAt time.Time) (int, error)
	Remove(ctx context.Context, id storageid.ID) (bool, error)
	ScanContext(ctx context.Context, contextPrefix string, cb redisconn.ScanCallback) (int, error)
	ExpireKeyPair(ctx context.Context, fullKey string, at time.Time) error
	RemoveKeyPair(ctx context.Context, fullKey string) (bool, error)
	Close() error
}

// Store implements the host-facing storage-service operations of spec.md
// §6, on top of either the clustered or single-node engine chosen by
// Config.Clustered, mirroring RedisStorageServiceFactory's
// config.clustered() branch.
type Store struct {
	engine       engine
	prefix       string
	capabilities Capabilities
}

// New constructs a Store, dialing the clustered or single-node engine
// depending on whether Config names any initial cluster nodes.
func New(ctx context.Context, cfg Config) (*Store, error) {
	retryCfg := retry.Config{
		MaxRetries: cfg.MaxRetries,
		BaseWait:   cfg.BaseWait,
		MaxWait:    cfg.MaxWait,
	}
	connOpts := connOptionsFrom(cfg)

	var eng engine
	if cfg.Clustered() {
		c, err := cluster.New(ctx, cfg.InitialNodes, cluster.ConnectOptions{
			ConnectTimeout: cfg.ConnectTimeout,
			CommandTimeout: cfg.CommandTimeout,
			MaxRetries:     cfg.MaxRetries,
			AuthStyle:      cfg.AuthScheme(),
			AuthUser:       cfg.AuthUser,
			AuthPassword:   cfg.AuthPassword,
			TLS:            cfg.TLS.toConnTLS(),
		}, retryCfg)
		if err != nil {
			return nil, err
		}
		eng = c
	} else {
		eng = single.New(connOpts, retryCfg)
	}

	redislog.Component("redisstore").Info().
		Bool("clustered", cfg.Clustered()).
		Str("prefix", cfg.Prefix).
		Msg("storage engine initialized")

	return &Store{
		engine:       eng,
		prefix:       cfg.Prefix,
		capabilities: capabilitiesFor(cfg.Prefix),
	}, nil
}

func connOptionsFrom(cfg Config) redisconn.Options {
	return redisconn.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		ConnectTimeout: cfg.ConnectTimeout,
		CommandTimeout: cfg.CommandTimeout,
		MaxRetries:     cfg.MaxRetries,
		AuthStyle:      cfg.AuthScheme(),
		AuthUser:       cfg.AuthUser,
		AuthPassword:   cfg.AuthPassword,
		TLS:            cfg.TLS.toConnTLS(),
	}
}

func (s *Store) makeID(ctxName, key string) (storageid.ID, error) {
	return storageid.New(ctxName, s.prefix, key)
}

// GetCapabilities returns the size limits computed for this Store's prefix.
func (s *Store) GetCapabilities() Capabilities {
	return s.capabilities
}

// CreateString stores a new value under (context, key), failing if the key
// already exists.
func (s *Store) CreateString(ctx context.Context, contextName, key, value string, expiration time.Time) (bool, error) {
	id, err := s.makeID(contextName, key)
	if err != nil {
		return false, err
	}
	return s.engine.Set(ctx, id, value, expiration)
}

// ReadString reads a value, taking the CAS path when version > 0 and the
// unconditional path otherwise, matching RedisStorageService::readString.
func (s *Store) ReadString(ctx context.Context, contextName, key string, version int) (value string, expiration time.Time, resultVersion int, err error) {
	id, err := s.makeID(contextName, key)
	if err != nil {
		return "", time.Time{}, 0, err
	}
	if version > 0 {
		v, val, exp, err := s.engine.GetVersioned(ctx, id, version, true, true)
		return val, exp, v, err
	}
	v, val, exp, err := s.engine.ForceGet(ctx, id, true, true)
	return val, exp, v, err
}

// UpdateString updates a value, taking the CAS path when version > 0 and
// the unconditional path otherwise, matching
// RedisStorageService::updateString.
func (s *Store) UpdateString(ctx context.Context, contextName, key, value string, expiration time.Time, version int) (int, error) {
	id, err := s.makeID(contextName, key)
	if err != nil {
		return 0, err
	}
	if version > 0 {
		return s.engine.UpdateVersioned(ctx, id, value, expiration, version)
	}
	return s.engine.ForceUpdate(ctx, id, value, expiration)
}

// DeleteString removes a key.
func (s *Store) DeleteString(ctx context.Context, contextName, key string) (bool, error) {
	id, err := s.makeID(contextName, key)
	if err != nil {
		return false, err
	}
	return s.engine.Remove(ctx, id)
}

// CreateText, ReadText, UpdateText and DeleteText are pure aliases of their
// String counterparts, matching the original RedisStorageService's Text
// entry points for callers that address the Text StorageService surface.
func (s *Store) CreateText(ctx context.Context, contextName, key, value string, expiration time.Time) (bool, error) {
	return s.CreateString(ctx, contextName, key, value, expiration)
}

func (s *Store) ReadText(ctx context.Context, contextName, key string, version int) (string, time.Time, int, error) {
	return s.ReadString(ctx, contextName, key, version)
}

func (s *Store) UpdateText(ctx context.Context, contextName, key, value string, expiration time.Time, version int) (int, error) {
	return s.UpdateString(ctx, contextName, key, value, expiration, version)
}

func (s *Store) DeleteText(ctx context.Context, contextName, key string) (bool, error) {
	return s.DeleteString(ctx, contextName, key)
}

// UpdateContext scans every key under a context and pushes its expiration
// forward, refreshing both the data key and its companion version key,
// matching RedisStorageService::updateContext's SetExpirationTo functor.
func (s *Store) UpdateContext(ctx context.Context, contextName string, expiration time.Time) error {
	_, err := s.engine.ScanContext(ctx, contextName, func(fullKey string) {
		if expErr := s.engine.ExpireKeyPair(ctx, fullKey, expiration); expErr != nil {
			redislog.Component("redisstore").Error().
				Str("key", fullKey).Err(expErr).
				Msg("failed to push expiration during context sweep")
		}
	})
	return err
}

// DeleteContext scans every key under a context and removes it along with
// its companion version key, matching RedisStorageService::deleteContext's
// Delete functor.
func (s *Store) DeleteContext(ctx context.Context, contextName string) error {
	_, err := s.engine.ScanContext(ctx, contextName, func(fullKey string) {
		if _, delErr := s.engine.RemoveKeyPair(ctx, fullKey); delErr != nil {
			redislog.Component("redisstore").Error().
				Str("key", fullKey).Err(delErr).
				Msg("failed to delete key during context sweep")
		}
	})
	return err
}

// Reap is a no-op: Redis's own TTL expiry already reclaims stale keys.
func (s *Store) Reap(ctx context.Context) error {
	return nil
}

// Close tears down the underlying engine's connections.
func (s *Store) Close() error {
	return s.engine.Close()
}
