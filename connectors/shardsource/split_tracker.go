package shardsource

import (
	"slices"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"shardline.dev/shardline/clocks"
	"shardline.dev/shardline/util/ds"
)

// SplitTracker is the canonical registry of known splits and their
// assignment status. All mutations run on the enumerator's coordinator
// thread; knownSplits is a concurrent map only so the checkpoint snapshot
// path may observe it from the checkpointing goroutine.
type SplitTracker struct {
	knownSplits    *xsync.MapOf[string, Split]
	assignedSplits map[string]struct{}
	finishedSplits map[string]struct{}
	// Reverse index parent shard id -> child shard ids, updated in lock-step
	// with knownSplits.
	childIndex map[string]*ds.Set[string]

	streamARN       string
	initialPosition InitialPosition
	startTimestamp  time.Time
	retention       time.Duration
	clock           clocks.Clock
}

type SplitTrackerParams struct {
	StreamARN       string
	InitialPosition InitialPosition
	// Anchors LATEST positions; the configured instant anchors AT_TIMESTAMP.
	StartTimestamp time.Time
	// How long the upstream retains shards. Splits older than this are safe
	// to forget once drained and unlisted.
	Retention time.Duration
	Clock     clocks.Clock
	// RestoredState rebuilds tracker membership on recovery.
	RestoredState []SplitWithStatus
}

func NewSplitTracker(params SplitTrackerParams) *SplitTracker {
	if params.Clock == nil {
		params.Clock = clocks.NewSystemClock()
	}
	t := &SplitTracker{
		knownSplits:     xsync.NewMapOf[string, Split](),
		assignedSplits:  make(map[string]struct{}),
		finishedSplits:  make(map[string]struct{}),
		childIndex:      make(map[string]*ds.Set[string]),
		streamARN:       params.StreamARN,
		initialPosition: params.InitialPosition,
		startTimestamp:  params.StartTimestamp,
		retention:       params.Retention,
		clock:           params.Clock,
	}

	for _, sws := range params.RestoredState {
		t.put(sws.Split)
		switch sws.Status {
		case SplitStatusAssigned:
			t.assignedSplits[sws.Split.SplitID()] = struct{}{}
		case SplitStatusFinished:
			t.finishedSplits[sws.Split.SplitID()] = struct{}{}
		}
	}

	return t
}

// AddSplits merges a consistent batch of discovered shards. Under
// TRIM_HORIZON every shard not yet tracked is added and reads from the
// shard's beginning. Under LATEST and AT_TIMESTAMP, open shards not yet
// tracked are added together with their untracked listed ancestors; a shard
// created at or before the anchor timestamp takes the configured position
// while shards created after it read TRIM_HORIZON, so records written
// between the anchor and a later shard split are not lost.
func (t *SplitTracker) AddSplits(shards []Shard) {
	shardsByID := make(map[string]Shard, len(shards))
	for _, shard := range shards {
		shardsByID[shard.ShardID] = shard
	}

	var newSplits []Split
	tracked := make(map[string]struct{}, len(shards))
	for _, shard := range shards {
		if (!shard.IsOpen() && t.initialPosition != InitialPositionTrimHorizon) || t.isKnown(shard.ShardID) {
			continue
		}
		if _, ok := tracked[shard.ShardID]; ok {
			continue
		}
		newSplits = t.collectLineage(shard, shardsByID, tracked, newSplits)
	}

	for _, split := range newSplits {
		t.put(split)
	}
}

// collectLineage gathers shard and every untracked ancestor present in the
// batch, deepest ancestor first. Tracking the whole listed lineage keeps the
// parent-before-child gate live: each blocking ancestor becomes a split that
// can be assigned, drained, and finished.
func (t *SplitTracker) collectLineage(shard Shard, shardsByID map[string]Shard, tracked map[string]struct{}, out []Split) []Split {
	chain := []Shard{shard}
	cur := shard
	for {
		parentID := cur.ParentShardID
		if parentID == nil || t.isKnown(*parentID) {
			break
		}
		if _, ok := tracked[*parentID]; ok {
			break
		}
		parent, listed := shardsByID[*parentID]
		if !listed {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}

	for i := len(chain) - 1; i >= 0; i-- {
		s := chain[i]
		tracked[s.ShardID] = struct{}{}
		out = append(out, NewSplit(t.streamARN, s, t.startingPositionFor(s.ShardID)))
	}
	return out
}

func (t *SplitTracker) startingPositionFor(shardID string) StartingPosition {
	switch t.initialPosition {
	case InitialPositionTrimHorizon:
		return FromStart()
	case InitialPositionAtTimestamp:
		if createdAfter(shardID, t.startTimestamp) {
			return FromStart()
		}
		return FromTimestamp(t.startTimestamp)
	default:
		if createdAfter(shardID, t.startTimestamp) {
			return FromStart()
		}
		return Latest()
	}
}

// AddChildSplits tracks the child shards announced by a SplitsFinishedEvent.
// Children are always read from their beginning.
func (t *SplitTracker) AddChildSplits(shards []Shard) {
	for _, shard := range shards {
		if t.isKnown(shard.ShardID) {
			continue
		}
		t.put(NewSplit(t.streamARN, shard, FromStart()))
	}
}

func (t *SplitTracker) put(split Split) {
	t.knownSplits.Store(split.SplitID(), split)
	if split.ParentShardID != nil {
		children, ok := t.childIndex[*split.ParentShardID]
		if !ok {
			children = ds.NewSet[string](2)
			t.childIndex[*split.ParentShardID] = children
		}
		children.Add(split.SplitID())
	}
}

// MarkAsAssigned records that the given splits were delivered to subtasks.
func (t *SplitTracker) MarkAsAssigned(splits []Split) {
	for _, split := range splits {
		t.assignedSplits[split.SplitID()] = struct{}{}
	}
}

// MarkAsFinished records that readers drained the given splits. A finished
// split is no longer assigned.
func (t *SplitTracker) MarkAsFinished(splitIDs []string) {
	for _, id := range splitIDs {
		t.finishedSplits[id] = struct{}{}
		delete(t.assignedSplits, id)
	}
}

func (t *SplitTracker) IsAssigned(splitID string) bool {
	_, ok := t.assignedSplits[splitID]
	return ok
}

func (t *SplitTracker) isFinished(splitID string) bool {
	_, ok := t.finishedSplits[splitID]
	return ok
}

func (t *SplitTracker) isKnown(splitID string) bool {
	_, ok := t.knownSplits.Load(splitID)
	return ok
}

// SplitsAvailableForAssignment returns every known split that is neither
// assigned nor finished and whose parent no longer blocks it.
func (t *SplitTracker) SplitsAvailableForAssignment() []Split {
	var available []Split
	t.knownSplits.Range(func(id string, split Split) bool {
		if t.canAssign(split) {
			available = append(available, split)
		}
		return true
	})
	slices.SortFunc(available, compareSplitIDs)
	return available
}

func (t *SplitTracker) canAssign(split Split) bool {
	return !t.IsAssigned(split.SplitID()) &&
		!t.isFinished(split.SplitID()) &&
		t.parentFinishedOrGone(split)
}

// parentFinishedOrGone gates child assignment on lineage order. A parent
// that was never observed blocks its child until it is either discovered or
// has aged out of the stream's retention, so a child seen before its parent
// cannot jump the queue.
func (t *SplitTracker) parentFinishedOrGone(split Split) bool {
	if split.ParentShardID == nil {
		return true
	}
	parentID := *split.ParentShardID
	if t.isFinished(parentID) {
		return true
	}
	if t.isKnown(parentID) {
		return false
	}
	return AgeExceedsRetention(parentID, t.retention, t.clock.Now())
}

// UnassignedChildSplits returns the assignable children of the given parent
// splits using the reverse index, avoiding a scan of all known splits. This
// is the low-latency path right after a parent finishes.
func (t *SplitTracker) UnassignedChildSplits(parentIDs []string) []Split {
	var children []Split
	seen := make(map[string]struct{})
	for _, parentID := range parentIDs {
		for childID := range t.childIndex[parentID].All() {
			if _, ok := seen[childID]; ok {
				continue
			}
			seen[childID] = struct{}{}
			child, ok := t.knownSplits.Load(childID)
			if !ok {
				continue
			}
			if t.canAssign(child) {
				children = append(children, child)
			}
		}
	}
	slices.SortFunc(children, compareSplitIDs)
	return children
}

// SnapshotState materializes every known split with its status for the given
// checkpoint. The result is ordered by split id so checkpoints are
// deterministic.
func (t *SplitTracker) SnapshotState(checkpointID int64) []SplitWithStatus {
	var snapshot []SplitWithStatus
	t.knownSplits.Range(func(id string, split Split) bool {
		status := SplitStatusUnassigned
		if t.IsAssigned(id) {
			status = SplitStatusAssigned
		} else if t.isFinished(id) {
			status = SplitStatusFinished
		}
		snapshot = append(snapshot, SplitWithStatus{Split: split, Status: status})
		return true
	})
	slices.SortFunc(snapshot, func(a, b SplitWithStatus) int {
		return compareSplitIDs(a.Split, b.Split)
	})
	return snapshot
}

// CleanUpOldFinishedSplits evicts finished splits that the stream no longer
// returns and that have aged past the retention period. The age guard
// prevents racing a stream that has temporarily stopped returning a shard.
// A split with a tracked, unfinished child is never evicted.
func (t *SplitTracker) CleanUpOldFinishedSplits(discoveredIDs map[string]struct{}) {
	finished := make([]string, 0, len(t.finishedSplits))
	for id := range t.finishedSplits {
		finished = append(finished, id)
	}

	for _, id := range finished {
		split, ok := t.knownSplits.Load(id)
		if !ok {
			continue
		}
		if _, listed := discoveredIDs[id]; listed {
			continue
		}
		if !AgeExceedsRetention(id, t.retention, t.clock.Now()) {
			continue
		}
		if !t.parentFinishedOrGone(split) {
			continue
		}
		if t.hasUnfinishedTrackedChild(id) {
			continue
		}
		t.evict(split)
	}
}

func (t *SplitTracker) hasUnfinishedTrackedChild(splitID string) bool {
	for childID := range t.childIndex[splitID].All() {
		if t.isKnown(childID) && !t.isFinished(childID) {
			return true
		}
	}
	return false
}

func (t *SplitTracker) evict(split Split) {
	id := split.SplitID()
	t.knownSplits.Delete(id)
	delete(t.finishedSplits, id)
	delete(t.childIndex, id)
	if split.ParentShardID != nil {
		if siblings, ok := t.childIndex[*split.ParentShardID]; ok {
			siblings.Remove(id)
			if siblings.Size() == 0 {
				delete(t.childIndex, *split.ParentShardID)
			}
		}
	}
}

// KnownSplitIDs returns the ids of all tracked splits in id order.
func (t *SplitTracker) KnownSplitIDs() []string {
	var ids []string
	t.knownSplits.Range(func(id string, _ Split) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// KnownSplit returns the tracked split for the given id.
func (t *SplitTracker) KnownSplit(splitID string) (Split, bool) {
	return t.knownSplits.Load(splitID)
}

func compareSplitIDs(a, b Split) int {
	switch {
	case a.ShardID < b.ShardID:
		return -1
	case a.ShardID > b.ShardID:
		return 1
	default:
		return 0
	}
}
