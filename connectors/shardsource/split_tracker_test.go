package shardsource_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shardline.dev/shardline/clocks"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/util/ptr"
)

const testStreamARN = "arn:aws:dynamodb:us-east-1:123456789012:table/orders/stream/2024-05-01T00:00:00.000"

var trackerStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(pos shardsource.InitialPosition, clock *clocks.FrozenClock) *shardsource.SplitTracker {
	return shardsource.NewSplitTracker(shardsource.SplitTrackerParams{
		StreamARN:       testStreamARN,
		InitialPosition: pos,
		StartTimestamp:  trackerStart,
		Retention:       24 * time.Hour,
		Clock:           clock,
	})
}

func availableIDs(tracker *shardsource.SplitTracker) []string {
	splits := tracker.SplitsAvailableForAssignment()
	ids := make([]string, len(splits))
	for i, s := range splits {
		ids[i] = s.SplitID()
	}
	return ids
}

func TestSplitTracker_TrimHorizonTracksEverythingFromStart(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
	})

	assert.Equal(t, []string{s0, s1}, tracker.KnownSplitIDs())
	assert.Equal(t, []string{s0}, availableIDs(tracker), "child is gated behind unfinished parent")

	split, ok := tracker.KnownSplit(s1)
	require.True(t, ok)
	assert.True(t, split.StartingPosition.Equals(shardsource.FromStart()))
}

// Linear ancestry in LATEST mode: the shard created before the start
// timestamp anchors the lineage at LATEST; shards that split off afterward
// read from their beginning so no records are lost.
func TestSplitTracker_LatestAnchorsLineageAtStartTimestamp(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionLatest, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(30*time.Minute), "01")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
	})

	parent, ok := tracker.KnownSplit(s0)
	require.True(t, ok)
	assert.True(t, parent.StartingPosition.Equals(shardsource.Latest()))

	child, ok := tracker.KnownSplit(s1)
	require.True(t, ok)
	assert.True(t, child.StartingPosition.Equals(shardsource.FromStart()))

	assert.Equal(t, []string{s0}, availableIDs(tracker))
}

func TestSplitTracker_AtTimestampAnchorsLineage(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionAtTimestamp, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
	})

	parent, ok := tracker.KnownSplit(s0)
	require.True(t, ok)
	assert.True(t, parent.StartingPosition.Equals(shardsource.FromTimestamp(trackerStart)))

	child, ok := tracker.KnownSplit(s1)
	require.True(t, ok)
	assert.True(t, child.StartingPosition.Equals(shardsource.FromStart()))
}

func TestSplitTracker_AddSplitsIsIdempotent(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	batch := []shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
	}

	tracker.AddSplits(batch)
	before := tracker.KnownSplitIDs()
	tracker.AddSplits(batch)

	assert.Equal(t, before, tracker.KnownSplitIDs())
}

func TestSplitTracker_FinishedParentUnblocksChild(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
	})

	parent, _ := tracker.KnownSplit(s0)
	tracker.MarkAsAssigned([]shardsource.Split{parent})
	assert.Empty(t, availableIDs(tracker), "assigned parent is unavailable, child still gated")

	tracker.MarkAsFinished([]string{s0})
	assert.False(t, tracker.IsAssigned(s0), "FINISHED removes from ASSIGNED")
	assert.Equal(t, []string{s1}, availableIDs(tracker))
}

// A child observed before its parent stays stuck until the parent is
// discovered or ages out of retention.
func TestSplitTracker_ChildObservedBeforeParentIsGated(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{openShard(s1, ptr.New(s0))})

	assert.Equal(t, []string{s1}, tracker.KnownSplitIDs())
	assert.Empty(t, availableIDs(tracker), "parent is neither finished nor aged out")

	// Once the never-observed parent exceeds retention it cannot hold data
	// anymore and the child unblocks.
	clock.Advance(26 * time.Hour)
	assert.Equal(t, []string{s1}, availableIDs(tracker))
}

func TestSplitTracker_AddChildSplitsReadFromStart(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionLatest, clock)

	s0 := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{openShard(s0, nil)})
	tracker.MarkAsFinished([]string{s0})

	tracker.AddChildSplits([]shardsource.Shard{openShard(s1, ptr.New(s0))})

	child, ok := tracker.KnownSplit(s1)
	require.True(t, ok)
	assert.True(t, child.StartingPosition.Equals(shardsource.FromStart()))
	assert.Equal(t, []string{s1}, availableIDs(tracker))
}

func TestSplitTracker_UnassignedChildSplitsUsesIndex(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	s0 := ddbShardID(trackerStart.Add(-3*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(-2*time.Hour), "01")
	s2 := ddbShardID(trackerStart.Add(-2*time.Hour), "02")
	other := ddbShardID(trackerStart.Add(-3*time.Hour), "03")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
		openShard(s2, ptr.New(s0)),
		openShard(other, nil),
	})
	tracker.MarkAsFinished([]string{s0})

	children := tracker.UnassignedChildSplits([]string{s0})
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.SplitID()
	}
	assert.Equal(t, []string{s1, s2}, ids, "only children of the finished parent, not unrelated splits")

	child1, _ := tracker.KnownSplit(s1)
	tracker.MarkAsAssigned([]shardsource.Split{child1})
	children = tracker.UnassignedChildSplits([]string{s0})
	assert.Len(t, children, 1)
	assert.Equal(t, s2, children[0].SplitID())
}

func TestSplitTracker_SnapshotAndRestore(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	s0 := ddbShardID(trackerStart.Add(-3*time.Hour), "00")
	s1 := ddbShardID(trackerStart.Add(-2*time.Hour), "01")
	s2 := ddbShardID(trackerStart.Add(-1*time.Hour), "02")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(s0, nil),
		openShard(s1, ptr.New(s0)),
		openShard(s2, nil),
	})
	parent, _ := tracker.KnownSplit(s0)
	tracker.MarkAsAssigned([]shardsource.Split{parent})
	tracker.MarkAsFinished([]string{s0})
	split2, _ := tracker.KnownSplit(s2)
	tracker.MarkAsAssigned([]shardsource.Split{split2})

	snapshot := tracker.SnapshotState(7)
	require.Len(t, snapshot, 3)
	assert.Equal(t, shardsource.SplitStatusFinished, snapshot[0].Status)
	assert.Equal(t, shardsource.SplitStatusUnassigned, snapshot[1].Status)
	assert.Equal(t, shardsource.SplitStatusAssigned, snapshot[2].Status)

	restored := shardsource.NewSplitTracker(shardsource.SplitTrackerParams{
		StreamARN:       testStreamARN,
		InitialPosition: shardsource.InitialPositionTrimHorizon,
		StartTimestamp:  trackerStart,
		Retention:       24 * time.Hour,
		Clock:           clock,
		RestoredState:   snapshot,
	})
	assert.Equal(t, tracker.KnownSplitIDs(), restored.KnownSplitIDs())
	assert.Equal(t, []string{s1}, availableIDs(restored), "finished parent's child is available, assigned split is not")
}

func TestSplitTracker_CleanUpEvictsAgedFinishedSplits(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	f := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	child := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(f, nil),
		openShard(child, ptr.New(f)),
	})
	tracker.MarkAsFinished([]string{f, child})

	// Still listed: no eviction even when aged.
	clock.Advance(30 * time.Hour)
	tracker.CleanUpOldFinishedSplits(map[string]struct{}{f: {}, child: {}})
	assert.Equal(t, []string{f, child}, tracker.KnownSplitIDs())

	// Unlisted and aged: both go.
	tracker.CleanUpOldFinishedSplits(map[string]struct{}{})
	assert.Empty(t, tracker.KnownSplitIDs())
}

func TestSplitTracker_CleanUpKeepsSplitWithUnfinishedChild(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	f := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	child := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{
		closedShard(f, nil),
		openShard(child, ptr.New(f)),
	})
	tracker.MarkAsFinished([]string{f})

	clock.Advance(30 * time.Hour)
	tracker.CleanUpOldFinishedSplits(map[string]struct{}{})

	assert.Equal(t, []string{f, child}, tracker.KnownSplitIDs(), "split with tracked unfinished child survives GC")
}

func TestSplitTracker_CleanUpKeepsFreshSplits(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	f := ddbShardID(trackerStart.Add(-2*time.Hour), "00")
	tracker.AddSplits([]shardsource.Shard{openShard(f, nil)})
	tracker.MarkAsFinished([]string{f})

	tracker.CleanUpOldFinishedSplits(map[string]struct{}{})
	assert.Equal(t, []string{f}, tracker.KnownSplitIDs(), "within retention, no eviction")
}

// Garbage collection unblocks a tracked child whose parent was evicted.
func TestSplitTracker_EvictionMakesChildParentGone(t *testing.T) {
	clock := clocks.NewFrozenClockAt(trackerStart)
	tracker := newTestTracker(shardsource.InitialPositionTrimHorizon, clock)

	f := ddbShardID(trackerStart.Add(-30*time.Hour), "00")
	child := ddbShardID(trackerStart.Add(-1*time.Hour), "01")
	tracker.AddSplits([]shardsource.Shard{closedShard(f, nil)})
	tracker.MarkAsFinished([]string{f})

	// The child arrives via a finished-splits event after the parent drained.
	tracker.CleanUpOldFinishedSplits(map[string]struct{}{})
	assert.Empty(t, tracker.KnownSplitIDs())

	tracker.AddChildSplits([]shardsource.Shard{openShard(child, ptr.New(f))})
	assert.Equal(t, []string{child}, availableIDs(tracker), "evicted parent counts as gone")
}
