package storageid

import (
	"testing"

	"github.com/zeebo/assert"

	"github.com/bodand/shibsp-redis/internal/redisclient/slot"
)

func TestRenderIsHashTagged(t *testing.T) {
	id, err := New("session", "sp:", "abc123")
	assert.NoError(t, err)
	assert.Equal(t, "{session:sp:abc123}", id.Render())
}

func TestVersionKeySharesTag(t *testing.T) {
	id, err := New("session", "sp:", "abc123")
	assert.NoError(t, err)
	assert.Equal(t, "version.of:"+id.Render(), id.VersionKey())
}

func TestSlotMatchesDataAndVersionKey(t *testing.T) {
	id, err := New("session", "sp:", "abc123")
	assert.NoError(t, err)
	// version key carries an extra "version.of:" literal prefix outside the
	// braces, which must not affect the slot since only the tagged bytes
	// are hashed.
	assert.Equal(t, id.Slot(), slot.Of(id.VersionKey()))
}

func TestNewRejectsBraceInPrefix(t *testing.T) {
	_, err := New("session", "sp{oops}", "abc123")
	assert.Error(t, err)
}
