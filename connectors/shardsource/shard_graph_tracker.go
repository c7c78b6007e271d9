package shardsource

import (
	"slices"

	"github.com/google/btree"
)

// ShardGraphTracker accumulates listing responses and detects when the
// observed shard graph is inconsistent. The listing API is not linearizable:
// a closed shard may be returned several polling rounds before its children.
// A closed shard with no observed child (a closed leaf) is the signature of
// that inconsistency; the caller re-lists from the earliest closed leaf until
// none remain.
type ShardGraphTracker struct {
	nodes        map[string]Shard
	closedLeaves *btree.BTreeG[string]
}

func NewShardGraphTracker() *ShardGraphTracker {
	return &ShardGraphTracker{
		nodes: make(map[string]Shard),
		closedLeaves: btree.NewG(2, func(a, b string) bool {
			return a < b
		}),
	}
}

func (t *ShardGraphTracker) AddNodes(shards []Shard) {
	for _, shard := range shards {
		t.addNode(shard)
	}
}

func (t *ShardGraphTracker) addNode(shard Shard) {
	t.nodes[shard.ShardID] = shard
	if !shard.IsOpen() {
		hasChild := false
		for _, node := range t.nodes {
			if node.ParentShardID != nil && *node.ParentShardID == shard.ShardID {
				hasChild = true
				break
			}
		}
		if !hasChild {
			t.closedLeaves.ReplaceOrInsert(shard.ShardID)
		}
	}
	if shard.ParentShardID != nil {
		t.closedLeaves.Delete(*shard.ParentShardID)
	}
}

// InconsistencyDetected reports whether any closed leaf remains.
func (t *ShardGraphTracker) InconsistencyDetected() bool {
	return t.closedLeaves.Len() > 0
}

// EarliestClosedLeaf returns the chronologically first closed leaf, the
// anchor for the next resolving listShards call.
func (t *ShardGraphTracker) EarliestClosedLeaf() (string, bool) {
	return t.closedLeaves.Min()
}

// Nodes returns every observed shard ordered by shard ID.
func (t *ShardGraphTracker) Nodes() []Shard {
	ids := make([]string, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	shards := make([]Shard, len(ids))
	for i, id := range ids {
		shards[i] = t.nodes[id]
	}
	return shards
}
