package shardsource

import "shardline.dev/shardline/util/sliceu"

// SplitsFinishedEvent is sent by a reader subtask when it has drained one or
// more shards. Each finished split carries the child shards the reader
// observed at the end of the shard so the enumerator can schedule them
// without waiting for the next discovery cycle.
type SplitsFinishedEvent struct {
	FinishedSplits []FinishedSplit
}

type FinishedSplit struct {
	SplitID     string
	ChildSplits []Shard
}

// SplitIDs returns the ids of all finished splits in the event.
func (e SplitsFinishedEvent) SplitIDs() []string {
	return sliceu.Map(e.FinishedSplits, func(fs FinishedSplit) string {
		return fs.SplitID
	})
}
