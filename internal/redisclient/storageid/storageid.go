// Package storageid implements the StorageId data model: the immutable
// (context, prefix, key) triple used to derive Redis keys and hash slots.
package storageid

import (
	"fmt"
	"strings"

	"github.com/bodand/shibsp-redis/internal/redisclient/slot"
)

// VersionPrefix is prepended to a rendered key to derive its companion
// version-counter key.
const VersionPrefix = "version.of:"

// ID is an immutable (context, prefix, key) triple identifying a stored
// value. The zero value is not valid; construct with New.
type ID struct {
	context string
	prefix  string
	key     string
}

// New constructs an ID. It returns an error if prefix contains '{' or '}',
// since those bytes would break the hash-tag framing of the rendered key.
func New(context, prefix, key string) (ID, error) {
	if strings.ContainsAny(prefix, "{}") {
		return ID{}, fmt.Errorf("storageid: prefix %q must not contain '{' or '}'", prefix)
	}
	return ID{context: context, prefix: prefix, key: key}, nil
}

func (id ID) Context() string { return id.context }
func (id ID) Prefix() string  { return id.prefix }
func (id ID) Key() string     { return id.key }

// Render returns the Redis key for this identifier, hash-tagged so the data
// key and its companion version key always land in the same slot.
func (id ID) Render() string {
	return "{" + id.context + ":" + id.prefix + id.key + "}"
}

// VersionKey returns the companion version-counter key for this identifier.
func (id ID) VersionKey() string {
	return VersionPrefix + id.Render()
}

// Slot returns the hash slot this identifier's rendered key falls into.
func (id ID) Slot() uint16 {
	return slot.Of(id.Render())
}

// String renders the identifier for logging, mirroring the original
// SPREDIS_SID_FMT convention.
func (id ID) String() string {
	return fmt.Sprintf("{%s:%s%s}", id.context, id.prefix, id.key)
}
