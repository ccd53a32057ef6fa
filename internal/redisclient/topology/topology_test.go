package topology

import (
	"testing"

	"github.com/zeebo/assert"
)

func TestNewSlotRangeRejectsBackwards(t *testing.T) {
	_, err := NewSlotRange(10, 5)
	assert.Error(t, err)
}

func TestNewSlotRangeRejectsOverflow(t *testing.T) {
	_, err := NewSlotRange(0, 16384)
	assert.Error(t, err)
}

func TestCompareOrdersByFromThenTo(t *testing.T) {
	a, _ := NewSlotRange(0, 100)
	b, _ := NewSlotRange(0, 200)
	c, _ := NewSlotRange(101, 300)
	assert.True(t, a.Compare(b) < 0)
	assert.True(t, b.Compare(c) < 0)
	assert.True(t, a.Compare(a) == 0)
}

func TestLessEqCorrectedVersusOriginalBug(t *testing.T) {
	a, _ := NewSlotRange(0, 100)
	b, _ := NewSlotRange(0, 100)
	// a == b, so LessEq must be true; the original C++ operator<= used
	// compare(rhs) < 0 and would have returned false here.
	assert.True(t, a.LessEq(b))
}

func TestContainsSlot(t *testing.T) {
	r, _ := NewSlotRange(100, 200)
	assert.True(t, r.Contains(150))
	assert.True(t, !r.Contains(99))
	assert.True(t, !r.Contains(201))
}

func TestRoutingTableLookup(t *testing.T) {
	rt := NewRoutingTable()
	r1, _ := NewSlotRange(0, 8191)
	r2, _ := NewSlotRange(8192, 16383)
	n1 := NodeAddress{Host: "node-a", Port: 6379}
	n2 := NodeAddress{Host: "node-b", Port: 6379}
	rt.Insert(r2, n2)
	rt.Insert(r1, n1)

	got, err := rt.Lookup(0)
	assert.NoError(t, err)
	assert.Equal(t, n1, got)

	got, err = rt.Lookup(16383)
	assert.NoError(t, err)
	assert.Equal(t, n2, got)
}

func TestRoutingTableNoRoute(t *testing.T) {
	rt := NewRoutingTable()
	r1, _ := NewSlotRange(0, 100)
	rt.Insert(r1, NodeAddress{Host: "a", Port: 1})
	_, err := rt.Lookup(200)
	assert.Error(t, err)
}

func TestFullyCoveredRequiresNoGaps(t *testing.T) {
	rt := NewRoutingTable()
	r1, _ := NewSlotRange(0, 8191)
	r2, _ := NewSlotRange(8193, 16383) // gap at 8192
	rt.Insert(r1, NodeAddress{Host: "a", Port: 1})
	rt.Insert(r2, NodeAddress{Host: "b", Port: 1})
	assert.True(t, !rt.FullyCovered())
}

func TestFullyCoveredHappyPath(t *testing.T) {
	rt := NewRoutingTable()
	r1, _ := NewSlotRange(0, 8191)
	r2, _ := NewSlotRange(8192, 16383)
	rt.Insert(r1, NodeAddress{Host: "a", Port: 1})
	rt.Insert(r2, NodeAddress{Host: "b", Port: 1})
	assert.True(t, rt.FullyCovered())
}
