package redisstore

// Capabilities reports the size limits a StorageService caller must honor,
// derived from Redis's own key/value size ceilings (512MB per
// https://redis.io/docs/latest/develop/use/keyspace and
// https://redis.io/docs/latest/develop/data-types/strings).
type Capabilities struct {
	MaxContextBytes int
	MaxKeyBytes     int
	MaxValueBytes   int
}

const (
	redisMaxKeySize   = 256_000_000 // half of Redis's 512MB key-size ceiling
	redisMaxValueSize = 512_000_000
)

// capabilitiesFor reproduces the original RedisStorageService constructor's
// arithmetic: the context loses one byte to its trailing colon, the key
// loses two bytes to its enclosing hash-tag braces plus the configured
// prefix's own length.
func capabilitiesFor(prefix string) Capabilities {
	return Capabilities{
		MaxContextBytes: redisMaxKeySize - 1,
		MaxKeyBytes:     redisMaxKeySize - 2 - len(prefix),
		MaxValueBytes:   redisMaxValueSize,
	}
}
