package shardsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"shardline.dev/shardline/clocks"
	"shardline.dev/shardline/connectors"
	"shardline.dev/shardline/util/sliceu"
)

var (
	discoveryCycles     = metrics.NewCounter("shard_discovery_cycles_total")
	discoveryUnresolved = metrics.NewCounter("shard_discovery_unresolved_total")
	anchorListings      = metrics.NewCounter("shard_discovery_anchor_listings_total")
	splitsAssignedTotal = metrics.NewCounter("splits_assigned_total")
	splitsFinishedTotal = metrics.NewCounter("splits_finished_total")
)

// ErrPartialRecoveryUnsupported is returned by AddSplitsBack: the enumerator
// only recovers by full re-enumeration from checkpointed state.
var ErrPartialRecoveryUnsupported = errors.New("partial recovery is not supported")

// EnumeratorContext is the coordinator facility the enumerator runs in.
// CallAsync runs call on an I/O worker and must deliver the completion
// handler serialized with every other enumerator callback: handlers never
// run concurrently with event handling.
type EnumeratorContext interface {
	RegisteredReaders() map[int]ReaderInfo
	CurrentParallelism() int
	AssignSplits(assignments map[int][]Split) error
	CallAsync(call func() (ListShardsResult, error), handler func(ListShardsResult, error))
}

type EnumeratorConfig struct {
	InitialPosition InitialPosition
	// Used only with InitialPositionAtTimestamp.
	InitialTimestamp time.Time
	// Interval between discovery cycles.
	ShardDiscoveryInterval time.Duration
	// Max anchored re-listings per discovery when resolving inconsistent
	// listings.
	InconsistencyResolutionRetries int
	// Upstream retention period for shards; drives garbage collection.
	Retention time.Duration
}

const (
	defaultShardDiscoveryInterval         = 1 * time.Minute
	defaultInconsistencyResolutionRetries = 5
	defaultRetention                      = 24 * time.Hour
)

func (c EnumeratorConfig) withDefaults() EnumeratorConfig {
	if c.ShardDiscoveryInterval <= 0 {
		c.ShardDiscoveryInterval = defaultShardDiscoveryInterval
	}
	if c.InconsistencyResolutionRetries <= 0 {
		c.InconsistencyResolutionRetries = defaultInconsistencyResolutionRetries
	}
	if c.Retention <= 0 {
		c.Retention = defaultRetention
	}
	return c
}

type NewEnumeratorParams struct {
	Context       EnumeratorContext
	StreamARN     string
	Config        EnumeratorConfig
	StreamProxy   StreamProxy
	ShardAssigner ShardAssigner
	// RestoredState recovers a checkpointed enumerator. Nil starts fresh.
	RestoredState *EnumeratorState
	Clock         clocks.Clock
	// ErrChan receives terminal errors; the cluster is expected to restart
	// the job.
	ErrChan chan<- error
	Logger  *slog.Logger
}

// Enumerator discovers the shard tree of one stream and assigns splits to
// reader subtasks, preserving parent-before-child order. All state mutation
// happens on the coordinator callbacks; see EnumeratorContext.
type Enumerator struct {
	context        EnumeratorContext
	streamARN      string
	config         EnumeratorConfig
	streamProxy    StreamProxy
	shardAssigner  ShardAssigner
	splitTracker   *SplitTracker
	startTimestamp time.Time
	clock          clocks.Clock
	errChan        chan<- error
	logger         *slog.Logger

	// splitAssignment tracks the committed splits per subtask.
	splitAssignment map[int]map[string]Split
	ticker          *clocks.Ticker
	closed          bool
}

func NewEnumerator(params NewEnumeratorParams) *Enumerator {
	if params.Clock == nil {
		params.Clock = clocks.NewSystemClock()
	}
	if params.ShardAssigner == nil {
		params.ShardAssigner = UniformShardAssigner{}
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	config := params.Config.withDefaults()

	var startTimestamp time.Time
	var restored []SplitWithStatus
	if params.RestoredState != nil {
		startTimestamp = params.RestoredState.StartTimestamp
		restored = params.RestoredState.KnownSplits
	} else {
		startTimestamp = params.Clock.Now()
	}

	anchorTimestamp := startTimestamp
	if config.InitialPosition == InitialPositionAtTimestamp {
		anchorTimestamp = config.InitialTimestamp
	}

	return &Enumerator{
		context:       params.Context,
		streamARN:     params.StreamARN,
		config:        config,
		streamProxy:   params.StreamProxy,
		shardAssigner: params.ShardAssigner,
		splitTracker: NewSplitTracker(SplitTrackerParams{
			StreamARN:       params.StreamARN,
			InitialPosition: config.InitialPosition,
			StartTimestamp:  anchorTimestamp,
			Retention:       config.Retention,
			Clock:           params.Clock,
			RestoredState:   restored,
		}),
		startTimestamp:  startTimestamp,
		clock:           params.Clock,
		errChan:         params.ErrChan,
		logger:          params.Logger.With("instanceID", "enumerator-"+params.StreamARN),
		splitAssignment: make(map[int]map[string]Split),
	}
}

// Start triggers an immediate discovery and schedules the periodic cycle.
func (e *Enumerator) Start() {
	e.ticker = e.clock.Every(e.config.ShardDiscoveryInterval, func() {
		e.context.CallAsync(e.discoverSplits, e.processDiscoveredSplits)
	}, "shard-discovery")
	e.context.CallAsync(e.discoverSplits, e.processDiscoveredSplits)
}

// AddReader registers a reader subtask with an empty assignment.
func (e *Enumerator) AddReader(subtaskID int) {
	if _, ok := e.splitAssignment[subtaskID]; !ok {
		e.splitAssignment[subtaskID] = make(map[string]Split)
	}
}

// AddSplitsBack would return splits from a failed reader. Partial failover
// is unsupported: the whole enumerator restarts from checkpointed state.
func (e *Enumerator) AddSplitsBack(splits []Split, subtaskID int) error {
	return fmt.Errorf("add splits back for subtask %d: %w", subtaskID, ErrPartialRecoveryUnsupported)
}

// HandleSourceEvent processes an event from a reader subtask. Unrecognized
// events are logged and dropped so a misbehaving reader cannot take down the
// coordinator.
func (e *Enumerator) HandleSourceEvent(subtaskID int, event any) {
	switch ev := event.(type) {
	case SplitsFinishedEvent:
		e.handleFinishedSplits(subtaskID, ev)
	default:
		e.logger.Warn("ignoring unrecognized source event", "subtask", subtaskID, "event", fmt.Sprintf("%T", event))
	}
}

// When a split finishes, only its child splits become assignable, so they
// are scheduled through the indexed fast path instead of a full scan.
func (e *Enumerator) handleFinishedSplits(subtaskID int, event SplitsFinishedEvent) {
	finishedIDs := event.SplitIDs()
	e.splitTracker.MarkAsFinished(finishedIDs)
	splitsFinishedTotal.Add(len(finishedIDs))

	var children []Shard
	for _, fs := range event.FinishedSplits {
		children = append(children, fs.ChildSplits...)
	}
	e.logger.Info("tracking children of finished splits", "children", len(children), "finished", finishedIDs)
	e.splitTracker.AddChildSplits(children)

	assignment, ok := e.splitAssignment[subtaskID]
	// During recovery an event can arrive from a subtask before that reader
	// re-registers. Skip child assignment; the next discovery cycle picks
	// the children up once enough readers are present.
	if !ok {
		e.logger.Info("finished splits from subtask with no assignment, delaying child scheduling",
			"subtask", subtaskID, "finished", finishedIDs)
		return
	}

	for _, id := range finishedIDs {
		delete(assignment, id)
	}
	e.assignSplits(e.splitTracker.UnassignedChildSplits(finishedIDs))
}

// SnapshotState returns the checkpointable snapshot for the given
// checkpoint id.
func (e *Enumerator) SnapshotState(checkpointID int64) EnumeratorState {
	return EnumeratorState{
		KnownSplits:    e.splitTracker.SnapshotState(checkpointID),
		StartTimestamp: e.startTimestamp,
	}
}

// Close stops discovery and releases the stream proxy. Listing responses
// that complete afterward are discarded.
func (e *Enumerator) Close() error {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.closed = true
	return e.streamProxy.Close()
}

// discoverSplits lists the stream's shards and resolves listing
// inconsistencies by re-listing from the earliest closed leaf. It runs on an
// I/O worker and must not touch enumerator state.
func (e *Enumerator) discoverSplits() (ListShardsResult, error) {
	discoveryCycles.Inc()

	initial, err := e.streamProxy.ListShards(context.Background(), e.streamARN, nil)
	if err != nil {
		return ListShardsResult{}, err
	}

	graph := NewShardGraphTracker()
	graph.AddNodes(initial.Shards)

	// A DISABLED stream will never grow children for its closed leaves, so
	// there is nothing to resolve.
	for i := 0; i < e.config.InconsistencyResolutionRetries &&
		initial.StreamStatus != StreamStatusDisabled &&
		graph.InconsistencyDetected(); i++ {

		anchor, _ := graph.EarliestClosedLeaf()
		e.logger.Warn("inconsistent shard listing, re-listing from anchor", "anchor", anchor)
		anchorListings.Inc()

		resolving, err := e.streamProxy.ListShards(context.Background(), e.streamARN, &anchor)
		if err != nil {
			return ListShardsResult{}, err
		}
		graph.AddNodes(resolving.Shards)
	}

	result := ListShardsResult{StreamStatus: initial.StreamStatus}
	if graph.InconsistencyDetected() {
		// Proceed without merging; the split tracker keeps gating children
		// whose parents were never observed, and the next cycle retries.
		leaf, _ := graph.EarliestClosedLeaf()
		e.logger.Error("could not resolve shard listing inconsistencies", "earliestClosedLeaf", leaf)
		discoveryUnresolved.Inc()
		result.InconsistencyDetected = true
		return result, nil
	}

	result.Shards = graph.Nodes()
	return result, nil
}

// processDiscoveredSplits merges a discovery result. Runs as the CallAsync
// completion handler on the coordinator.
func (e *Enumerator) processDiscoveredSplits(result ListShardsResult, err error) {
	if e.closed {
		return
	}
	if err != nil {
		e.fail(fmt.Errorf("shard discovery for stream %s: %w", e.streamARN, err))
		return
	}
	if result.InconsistencyDetected {
		return
	}

	discoveredIDs := sliceu.KeyMap(sliceu.Map(result.Shards, func(s Shard) string {
		return s.ShardID
	}))

	e.splitTracker.AddSplits(result.Shards)
	e.splitTracker.CleanUpOldFinishedSplits(discoveredIDs)

	// Assigning before every reader registers could send a split to a
	// subtask slot that a different parallel instance ends up hosting.
	if len(e.context.RegisteredReaders()) < e.context.CurrentParallelism() {
		e.logger.Info("waiting for readers to register before assigning splits",
			"registered", len(e.context.RegisteredReaders()),
			"parallelism", e.context.CurrentParallelism())
		return
	}

	e.assignSplits(e.splitTracker.SplitsAvailableForAssignment())
}

func (e *Enumerator) assignSplits(splits []Split) {
	if len(splits) == 0 {
		return
	}

	assignerCtx := &shardAssignerContext{
		committed: e.splitAssignment,
		readers:   e.context.RegisteredReaders(),
		pending:   make(map[int][]Split),
	}

	for _, split := range splits {
		if e.splitTracker.IsAssigned(split.SplitID()) {
			e.logger.Warn("skipping assignment of already assigned split", "splitID", split.SplitID())
			continue
		}
		subtaskID, err := e.shardAssigner.Assign(split, assignerCtx)
		if err != nil {
			e.fail(fmt.Errorf("assigning split %s: %w", split.SplitID(), err))
			return
		}
		assignerCtx.pending[subtaskID] = append(assignerCtx.pending[subtaskID], split)
	}
	if len(assignerCtx.pending) == 0 {
		return
	}

	// Commit the whole batch before marking anything assigned so a split is
	// never ASSIGNED ahead of the delivery that hands it to a worker.
	if err := e.context.AssignSplits(assignerCtx.pending); err != nil {
		e.fail(fmt.Errorf("delivering split assignments: %w", err))
		return
	}

	for subtaskID, assigned := range assignerCtx.pending {
		e.splitTracker.MarkAsAssigned(assigned)
		splitsAssignedTotal.Add(len(assigned))
		if _, ok := e.splitAssignment[subtaskID]; !ok {
			e.splitAssignment[subtaskID] = make(map[string]Split)
		}
		for _, split := range assigned {
			e.splitAssignment[subtaskID][split.SplitID()] = split
			e.logger.Info("assigned split", "splitID", split.SplitID(), "subtask", subtaskID)
		}
	}
}

func (e *Enumerator) fail(err error) {
	if e.errChan == nil {
		e.logger.Error("enumerator failure with no error channel", "err", err)
		return
	}
	e.errChan <- connectors.NewTerminalError(err)
}

// shardAssignerContext snapshots assignment state for one batch.
type shardAssignerContext struct {
	committed map[int]map[string]Split
	pending   map[int][]Split
	readers   map[int]ReaderInfo
}

func (c *shardAssignerContext) CurrentSplitAssignment() map[int][]Split {
	out := make(map[int][]Split, len(c.committed))
	for subtaskID, splits := range c.committed {
		list := make([]Split, 0, len(splits))
		for _, split := range splits {
			list = append(list, split)
		}
		out[subtaskID] = list
	}
	return out
}

func (c *shardAssignerContext) PendingSplitAssignments() map[int][]Split {
	out := make(map[int][]Split, len(c.pending))
	for subtaskID, splits := range c.pending {
		out[subtaskID] = slices.Clone(splits)
	}
	return out
}

func (c *shardAssignerContext) RegisteredReaders() map[int]ReaderInfo {
	return c.readers
}
