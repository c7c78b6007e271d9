// Package sourcetest provides in-memory doubles for driving the enumerator
// in tests: a scripted StreamProxy and a synchronous EnumeratorContext that
// captures assignments.
package sourcetest

import (
	"context"
	"fmt"
	"slices"

	"shardline.dev/shardline/connectors/shardsource"
)

// FakeStreamProxy serves scripted listShards responses.
type FakeStreamProxy struct {
	// ListShardsFunc handles each call. The exclusive start shard id is nil
	// for a full listing and set for anchored re-listing.
	ListShardsFunc func(streamARN string, exclusiveStartShardID *string) (shardsource.ListShardsResult, error)

	// ListCalls records the exclusive start ids of every call, "" for nil.
	ListCalls []string
	Closed    bool
}

func (p *FakeStreamProxy) ListShards(ctx context.Context, streamARN string, exclusiveStartShardID *string) (shardsource.ListShardsResult, error) {
	start := ""
	if exclusiveStartShardID != nil {
		start = *exclusiveStartShardID
	}
	p.ListCalls = append(p.ListCalls, start)

	if p.ListShardsFunc == nil {
		return shardsource.ListShardsResult{}, fmt.Errorf("FakeStreamProxy has no ListShardsFunc")
	}
	return p.ListShardsFunc(streamARN, exclusiveStartShardID)
}

func (p *FakeStreamProxy) Close() error {
	p.Closed = true
	return nil
}

var _ shardsource.StreamProxy = (*FakeStreamProxy)(nil)

// StaticListing returns a ListShardsFunc that serves the same shards on every
// full listing; an anchored listing gets only the shards whose ids sort after
// the exclusive start id.
func StaticListing(status shardsource.StreamStatus, shards ...shardsource.Shard) func(string, *string) (shardsource.ListShardsResult, error) {
	return func(_ string, exclusiveStartShardID *string) (shardsource.ListShardsResult, error) {
		visible := shards
		if exclusiveStartShardID != nil {
			visible = nil
			for _, s := range shards {
				if s.ShardID > *exclusiveStartShardID {
					visible = append(visible, s)
				}
			}
		}
		return shardsource.ListShardsResult{Shards: visible, StreamStatus: status}, nil
	}
}

// CaptureContext is a synchronous EnumeratorContext: CallAsync runs the call
// inline and delivers the handler immediately, and every committed
// assignment batch is captured.
type CaptureContext struct {
	Readers     map[int]shardsource.ReaderInfo
	Parallelism int

	// AssignmentBatches holds every committed batch in order.
	AssignmentBatches []map[int][]shardsource.Split
	// AssignErr, while set, makes every AssignSplits call fail.
	AssignErr error
}

func NewCaptureContext(parallelism int) *CaptureContext {
	return &CaptureContext{
		Readers:     make(map[int]shardsource.ReaderInfo),
		Parallelism: parallelism,
	}
}

// RegisterReaders registers readers for the given subtask ids.
func (c *CaptureContext) RegisterReaders(e *shardsource.Enumerator, subtaskIDs ...int) {
	for _, id := range subtaskIDs {
		c.Readers[id] = shardsource.ReaderInfo{SubtaskID: id}
		e.AddReader(id)
	}
}

func (c *CaptureContext) RegisteredReaders() map[int]shardsource.ReaderInfo {
	return c.Readers
}

func (c *CaptureContext) CurrentParallelism() int {
	return c.Parallelism
}

func (c *CaptureContext) AssignSplits(assignments map[int][]shardsource.Split) error {
	if c.AssignErr != nil {
		return c.AssignErr
	}
	c.AssignmentBatches = append(c.AssignmentBatches, assignments)
	return nil
}

func (c *CaptureContext) CallAsync(call func() (shardsource.ListShardsResult, error), handler func(shardsource.ListShardsResult, error)) {
	handler(call())
}

// AssignedSplitIDs returns the ids of every split committed so far, in id
// order.
func (c *CaptureContext) AssignedSplitIDs() []string {
	var ids []string
	for _, batch := range c.AssignmentBatches {
		for _, splits := range batch {
			for _, split := range splits {
				ids = append(ids, split.SplitID())
			}
		}
	}
	slices.Sort(ids)
	return ids
}

var _ shardsource.EnumeratorContext = (*CaptureContext)(nil)
