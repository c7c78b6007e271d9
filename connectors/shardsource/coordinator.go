package shardsource

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// AssignmentSink receives committed split assignments, keyed by subtask id.
// The production sink pushes assignments to worker subtasks.
type AssignmentSink interface {
	AssignSplits(assignments map[int][]Split) error
}

// AssignmentSinkFunc adapts a function to an AssignmentSink.
type AssignmentSinkFunc func(assignments map[int][]Split) error

func (f AssignmentSinkFunc) AssignSplits(assignments map[int][]Split) error {
	return f(assignments)
}

// Coordinator is the production EnumeratorContext: a single event-loop
// goroutine owns all enumerator state, and blocking listShards calls run on
// an I/O group whose completions are posted back onto the loop. Callbacks
// therefore never run concurrently with event handling.
type Coordinator struct {
	parallelism int
	sink        AssignmentSink
	readers     map[int]ReaderInfo
	events      chan func()
	ioGroup     *errgroup.Group
	ctx         context.Context
}

func NewCoordinator(ctx context.Context, parallelism int, sink AssignmentSink) *Coordinator {
	group, groupCtx := errgroup.WithContext(ctx)
	return &Coordinator{
		parallelism: parallelism,
		sink:        sink,
		readers:     make(map[int]ReaderInfo),
		events:      make(chan func(), 64),
		ioGroup:     group,
		ctx:         groupCtx,
	}
}

// Run drains the event loop until the context is canceled. It must be
// running before the enumerator starts.
func (c *Coordinator) Run() error {
	c.ioGroup.Go(func() error {
		for {
			select {
			case fn := <-c.events:
				fn()
			case <-c.ctx.Done():
				return c.ctx.Err()
			}
		}
	})

	return c.ioGroup.Wait()
}

// Post serializes fn onto the coordinator loop.
func (c *Coordinator) Post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.ctx.Done():
	}
}

// RegisterReader adds a reader subtask and notifies the given enumerator on
// the coordinator loop.
func (c *Coordinator) RegisterReader(info ReaderInfo, enumerator *Enumerator) {
	c.Post(func() {
		c.readers[info.SubtaskID] = info
		enumerator.AddReader(info.SubtaskID)
	})
}

func (c *Coordinator) RegisteredReaders() map[int]ReaderInfo {
	return c.readers
}

func (c *Coordinator) CurrentParallelism() int {
	return c.parallelism
}

func (c *Coordinator) AssignSplits(assignments map[int][]Split) error {
	if c.sink == nil {
		return fmt.Errorf("coordinator has no assignment sink")
	}
	return c.sink.AssignSplits(assignments)
}

func (c *Coordinator) CallAsync(call func() (ListShardsResult, error), handler func(ListShardsResult, error)) {
	c.ioGroup.Go(func() error {
		result, err := call()
		c.Post(func() { handler(result, err) })
		return nil
	})
}

var _ EnumeratorContext = (*Coordinator)(nil)
