package shardsource

import (
	"fmt"
	"slices"

	"github.com/zeebo/xxh3"
)

// ReaderInfo describes a registered reader subtask.
type ReaderInfo struct {
	SubtaskID int
	Location  string
}

// ShardAssignerContext exposes the assignment state an assigner may consult.
// Implementations of ShardAssigner must be pure functions of the context and
// the split.
type ShardAssignerContext interface {
	// CurrentSplitAssignment is the committed assignment per subtask.
	CurrentSplitAssignment() map[int][]Split
	// PendingSplitAssignments are assignments accumulated in the current
	// batch that have not been committed yet.
	PendingSplitAssignments() map[int][]Split
	RegisteredReaders() map[int]ReaderInfo
}

// ShardAssigner maps a split to the subtask that should read it.
type ShardAssigner interface {
	Assign(split Split, ctx ShardAssignerContext) (int, error)
}

// UniformShardAssigner picks the subtask with the fewest committed plus
// pending splits, breaking ties by lowest subtask id.
type UniformShardAssigner struct{}

func (a UniformShardAssigner) Assign(split Split, ctx ShardAssignerContext) (int, error) {
	readers := ctx.RegisteredReaders()
	if len(readers) == 0 {
		return 0, fmt.Errorf("cannot assign split %s: no registered readers", split.SplitID())
	}

	committed := ctx.CurrentSplitAssignment()
	pending := ctx.PendingSplitAssignments()

	selected := -1
	selectedLoad := 0
	for _, subtaskID := range sortedSubtaskIDs(readers) {
		load := len(committed[subtaskID]) + len(pending[subtaskID])
		if selected == -1 || load < selectedLoad {
			selected = subtaskID
			selectedLoad = load
		}
	}
	return selected, nil
}

// HashShardAssigner maps a split to a subtask by hashing its shard id. The
// same shard always lands on the same subtask for a fixed reader set.
type HashShardAssigner struct{}

func (a HashShardAssigner) Assign(split Split, ctx ShardAssignerContext) (int, error) {
	readers := ctx.RegisteredReaders()
	if len(readers) == 0 {
		return 0, fmt.Errorf("cannot assign split %s: no registered readers", split.SplitID())
	}

	subtaskIDs := sortedSubtaskIDs(readers)
	hash := xxh3.HashString(split.SplitID())
	return subtaskIDs[hash%uint64(len(subtaskIDs))], nil
}

func sortedSubtaskIDs(readers map[int]ReaderInfo) []int {
	ids := make([]int, 0, len(readers))
	for id := range readers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
