// Package topology models the cluster routing table: NodeAddress values,
// SlotRange ownership, and the RoutingTable that maps StorageId lookups to
// the node that owns their slot.
package topology

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bodand/shibsp-redis/internal/redisclient/slot"
	"github.com/bodand/shibsp-redis/internal/redisclient/storageid"
)

// ErrBadSlotRange is returned when a SlotRange's bounds are invalid.
var ErrBadSlotRange = errors.New("topology: bad slot range")

// ErrNoRoute is returned when a lookup finds no range covering a slot.
var ErrNoRoute = errors.New("topology: no route for slot")

// NodeAddress identifies a Redis node by host and port. Equality is
// structural.
type NodeAddress struct {
	Host string
	Port int
}

func (a NodeAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// SlotRange is a half-open-free, inclusive [From, To] pair of hash slots
// owned by a single node.
type SlotRange struct {
	From uint16
	To   uint16
}

// NewSlotRange validates and constructs a SlotRange.
func NewSlotRange(from, to uint16) (SlotRange, error) {
	if to < from {
		return SlotRange{}, fmt.Errorf("%w: range ends (%d) before it starts (%d)", ErrBadSlotRange, to, from)
	}
	if int(to) >= slot.Count {
		return SlotRange{}, fmt.Errorf("%w: range end %d exceeds max slot %d", ErrBadSlotRange, to, slot.Count-1)
	}
	return SlotRange{From: from, To: to}, nil
}

// Compare orders two ranges: by From, tie-broken by To. Returns <0, 0, >0.
func (r SlotRange) Compare(other SlotRange) int {
	if r.From != other.From {
		if r.From < other.From {
			return -1
		}
		return 1
	}
	if r.To != other.To {
		if r.To < other.To {
			return -1
		}
		return 1
	}
	return 0
}

// CompareSlot implements the heterogeneous comparator: <0 if the range comes
// before the slot, 0 if it covers the slot, >0 if it comes after.
func (r SlotRange) CompareSlot(s uint16) int {
	if s < r.From {
		return 1
	}
	if s > r.To {
		return -1
	}
	return 0
}

func (r SlotRange) Less(other SlotRange) bool { return r.Compare(other) < 0 }

// LessEq reports whether r sorts at or before other. Implemented correctly
// as compare(other) <= 0, not the off-by-one the original C++ ClusterRange
// carried in its operator<= (see DESIGN.md).
func (r SlotRange) LessEq(other SlotRange) bool { return r.Compare(other) <= 0 }

// Contains reports whether the given slot falls within the range.
func (r SlotRange) Contains(s uint16) bool { return r.CompareSlot(s) == 0 }

// RoutingTable maps disjoint SlotRanges to the NodeAddress that owns them,
// supporting O(log n) lookup by StorageId or raw slot.
type RoutingTable struct {
	entries []routingEntry
}

type routingEntry struct {
	Range SlotRange
	Node  NodeAddress
}

// NewRoutingTable builds an empty routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{}
}

// Insert adds a range/node pair, keeping entries sorted by range.
func (t *RoutingTable) Insert(r SlotRange, node NodeAddress) {
	e := routingEntry{Range: r, Node: node}
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Range.Compare(r) >= 0
	})
	t.entries = append(t.entries, routingEntry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

// Lookup returns the node owning the given hash slot.
func (t *RoutingTable) Lookup(s uint16) (NodeAddress, error) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Range.CompareSlot(s) >= 0
	})
	if i == len(t.entries) || !t.entries[i].Range.Contains(s) {
		return NodeAddress{}, fmt.Errorf("%w: slot %d", ErrNoRoute, s)
	}
	return t.entries[i].Node, nil
}

// LookupID returns the node owning the slot of the given StorageId.
func (t *RoutingTable) LookupID(id storageid.ID) (NodeAddress, error) {
	return t.Lookup(id.Slot())
}

// Entries returns a copy of the table's range/node pairs in sorted order.
func (t *RoutingTable) Entries() []struct {
	Range SlotRange
	Node  NodeAddress
} {
	out := make([]struct {
		Range SlotRange
		Node  NodeAddress
	}, len(t.entries))
	for i, e := range t.entries {
		out[i] = struct {
			Range SlotRange
			Node  NodeAddress
		}{e.Range, e.Node}
	}
	return out
}

// FullyCovered reports whether every slot in [0, slot.Count) is covered by
// exactly one range, with no gaps or overlaps.
func (t *RoutingTable) FullyCovered() bool {
	if len(t.entries) == 0 {
		return false
	}
	want := uint16(0)
	for _, e := range t.entries {
		if e.Range.From != want {
			return false
		}
		if int(e.Range.To)+1 >= slot.Count {
			return e.Range.To == slot.Count-1
		}
		want = e.Range.To + 1
	}
	return false
}
