// Package redisstore is the host-facing façade: the storage-service surface
// a plugin registry would import, choosing between the clustered and
// single-node engines underneath.
package redisstore

import (
	"time"

	"github.com/bodand/shibsp-redis/internal/redisclient/conn"
	"github.com/bodand/shibsp-redis/internal/redisclient/topology"
)

// AuthStyle mirrors the original plugin's three-way RedisConfig::authScheme
// switch: no auth, password-only, or username+password (ACL-style).
type AuthStyle = conn.AuthStyle

const (
	AuthNone         = conn.AuthNone
	AuthPassword     = conn.AuthPassword
	AuthUserPassword = conn.AuthUserPassword
)

// TLSConfig is forwarded opaquely to the underlying Redis client; the core
// never inspects the certificate material itself.
type TLSConfig struct {
	Enabled     bool
	ClientCert  string
	ClientKey   string
	CABundle    string
	CADirectory string
}

func (t TLSConfig) toConnTLS() conn.TLSConfig {
	return conn.TLSConfig{
		Enabled:     t.Enabled,
		ClientCert:  t.ClientCert,
		ClientKey:   t.ClientKey,
		CABundle:    t.CABundle,
		CADirectory: t.CADirectory,
	}
}

// Config is the Go analogue of the original plugin's RedisConfig, populated
// by whatever the host's own configuration layer looks like (XML parsing is
// out of scope, per spec.md §1's non-goals).
type Config struct {
	Host           string
	Port           int
	Prefix         string
	InitialNodes   []topology.NodeAddress
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	NonBlocking    bool
	AuthUser       string
	AuthPassword   string
	MaxRetries     int
	BaseWait       time.Duration
	MaxWait        time.Duration
	TLS            TLSConfig
}

// Clustered reports whether this configuration names any seed node, which
// is exactly how the original chose RedisCluster over RedisConnection.
func (c Config) Clustered() bool {
	return len(c.InitialNodes) > 0
}

// AuthScheme reproduces RedisConfig::authScheme's exact three-way branch:
// no password means no auth, a password with no username is password-only
// AUTH, and both present means ACL-style username+password AUTH.
func (c Config) AuthScheme() AuthStyle {
	if c.AuthPassword == "" {
		return AuthNone
	}
	if c.AuthUser == "" {
		return AuthPassword
	}
	return AuthUserPassword
}
