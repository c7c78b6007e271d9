package shardsource

import (
	"fmt"
	"slices"

	"shardline.dev/shardline/util/ptr"
)

// Split is the unit of assignable work, one-to-one with a shard. Splits are
// immutable: the finish and child transitions return re-constructed values.
// Splits are stored in checkpoint state, so any shape changes need to stay
// backwards compatible with the split serializer.
type Split struct {
	StreamARN        string
	ShardID          string
	StartingPosition StartingPosition
	ParentShardID    *string
	Finished         bool
	ChildSplits      []Shard
}

func NewSplit(streamARN string, shard Shard, pos StartingPosition) Split {
	return Split{
		StreamARN:        streamARN,
		ShardID:          shard.ShardID,
		StartingPosition: pos,
		ParentShardID:    shard.ParentShardID,
	}
}

// SplitID identifies the split; it is always the shard ID.
func (s Split) SplitID() string {
	return s.ShardID
}

// AsFinished returns a copy of the split marked finished.
func (s Split) AsFinished() Split {
	s.Finished = true
	s.ChildSplits = slices.Clone(s.ChildSplits)
	return s
}

// WithChildSplits returns a copy of the split carrying the given child
// shards, as announced by a reader when it drained the shard.
func (s Split) WithChildSplits(children []Shard) Split {
	s.ChildSplits = slices.Clone(children)
	return s
}

func (s Split) Equals(other Split) bool {
	return s.StreamARN == other.StreamARN &&
		s.ShardID == other.ShardID &&
		s.StartingPosition.Equals(other.StartingPosition) &&
		ptr.Deref(s.ParentShardID) == ptr.Deref(other.ParentShardID) &&
		(s.ParentShardID == nil) == (other.ParentShardID == nil) &&
		s.Finished == other.Finished &&
		slices.EqualFunc(s.ChildSplits, other.ChildSplits, func(a, b Shard) bool {
			return a.ShardID == b.ShardID &&
				ptr.Deref(a.ParentShardID) == ptr.Deref(b.ParentShardID) &&
				a.SequenceNumberRange.StartingSequenceNumber == b.SequenceNumberRange.StartingSequenceNumber &&
				ptr.Deref(a.SequenceNumberRange.EndingSequenceNumber) == ptr.Deref(b.SequenceNumberRange.EndingSequenceNumber)
		})
}

func (s Split) String() string {
	return fmt.Sprintf("Split{shardId=%s, startingPosition=%s, parent=%s, finished=%t, children=%d}",
		s.ShardID, s.StartingPosition, ptr.Deref(s.ParentShardID), s.Finished, len(s.ChildSplits))
}

// SplitAssignmentStatus tracks where a split is in its lifecycle:
// UNASSIGNED → ASSIGNED → FINISHED.
type SplitAssignmentStatus int32

const (
	SplitStatusUnassigned SplitAssignmentStatus = iota
	SplitStatusAssigned
	SplitStatusFinished
)

func (s SplitAssignmentStatus) String() string {
	switch s {
	case SplitStatusAssigned:
		return "ASSIGNED"
	case SplitStatusFinished:
		return "FINISHED"
	default:
		return "UNASSIGNED"
	}
}

// SplitWithStatus pairs a split with its assignment status for checkpoint
// state.
type SplitWithStatus struct {
	Split  Split
	Status SplitAssignmentStatus
}
