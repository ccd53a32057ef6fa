package slot

import (
	"testing"

	"github.com/zeebo/assert"
)

func TestOfHashTag(t *testing.T) {
	// same tag, different surrounding key -> same slot
	a := Of("{user1000}.following")
	b := Of("{user1000}.followers")
	assert.Equal(t, a, b)
}

func TestOfNoBraces(t *testing.T) {
	assert.NotEqual(t, uint16(0), Of("foobar")+1) // sanity: computes something without panicking
}

func TestOfEmptyTagFallsBackToWholeKey(t *testing.T) {
	// "{}" has no bytes between the braces, redis falls back to hashing the
	// whole key in that case
	withEmptyTag := Of("foo{}bar")
	whole := crc16([]byte("foo{}bar")) % Count
	assert.Equal(t, whole, withEmptyTag)
}

func TestOfKnownVector(t *testing.T) {
	// CRC-16/XMODEM check value for "123456789" is 0x31C3 (12739); no
	// braces present so the whole string is hashed and 12739 < Count.
	assert.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
	assert.Equal(t, uint16(0x31C3)%Count, Of("123456789"))
}

func TestOfBounded(t *testing.T) {
	for _, k := range []string{"", "a", "{}", "{x}", "abcdefghijklmnopqrstuvwxyz"} {
		s := Of(k)
		assert.True(t, s < Count)
	}
}
