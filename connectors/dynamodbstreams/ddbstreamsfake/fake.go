// Package ddbstreamsfake is an in-process HTTP fake of the DynamoDB Streams
// API, covering what the enumerator's stream proxy calls. Control methods on
// Fake mutate the shard tree between requests: splitting shards, closing
// them, withholding children to reproduce the DescribeStream inconsistency,
// and disabling the stream.
package ddbstreamsfake

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

func StartFake() (*httptest.Server, *Fake) {
	fk := &Fake{
		streams:  make(map[string]*stream),
		now:      time.Now,
		pageSize: 100,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		route(fk, w, r)
	})

	return httptest.NewServer(mux), fk
}

func route(f *Fake, w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("x-amz-target")
	parts := strings.Split(target, ".")
	operation := parts[len(parts)-1]
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		handleError(w, err)
		return
	}

	var resp any
	switch operation {
	case "DescribeStream":
		resp, err = f.describeStream(body)
	default:
		err = fmt.Errorf("InvalidAction: %s", operation)
	}

	if err != nil {
		handleError(w, err)
		return
	}
	json.NewEncoder(w).Encode(resp)
}

func handleError(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{
		"__type":  "com.amazonaws.dynamodb.v20120810#InternalServerError",
		"message": err.Error(),
	})
}

type Fake struct {
	mu       sync.Mutex
	streams  map[string]*stream
	now      func() time.Time
	pageSize int
	seq      int
}

type stream struct {
	arn    string
	status string
	shards []*shard
	// withheld shards are hidden from DescribeStream until released.
	withheld map[string]struct{}
}

type shard struct {
	id       string
	parent   string
	startSeq string
	endSeq   string // empty while the shard is open
}

// SetPageSize limits how many shards one DescribeStream response carries,
// exercising the client's pagination loop.
func (f *Fake) SetPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

// SetNow overrides the clock used to mint shard creation timestamps.
func (f *Fake) SetNow(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// CreateStream registers a stream and returns its ARN.
func (f *Fake) CreateStream(table string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	arn := fmt.Sprintf("arn:aws:dynamodb:us-east-2:123456789012:table/%s/stream/2024-01-01T00:00:00.000", table)
	f.streams[arn] = &stream{
		arn:      arn,
		status:   "ENABLED",
		withheld: make(map[string]struct{}),
	}
	return arn
}

// AddShard appends an open shard. An empty parentID makes a root shard.
func (f *Fake) AddShard(streamARN, parentID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addShardLocked(streamARN, parentID, f.now())
}

// AddShardAt appends an open shard whose id encodes the given creation time.
func (f *Fake) AddShardAt(streamARN, parentID string, created time.Time) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addShardLocked(streamARN, parentID, created)
}

func (f *Fake) addShardLocked(streamARN, parentID string, created time.Time) string {
	s := f.mustStreamLocked(streamARN)
	f.seq++
	newShard := &shard{
		id:       fmt.Sprintf("shardId-%020d-%08x", created.UnixMilli(), f.seq),
		parent:   parentID,
		startSeq: fmt.Sprintf("%d", f.seq*100),
	}
	s.shards = append(s.shards, newShard)
	return newShard.id
}

// CloseShard seals a shard; it will no longer accept records.
func (f *Fake) CloseShard(streamARN, shardID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sh := f.mustShardLocked(streamARN, shardID)
	sh.endSeq = fmt.Sprintf("%d", f.seq*100+99)
}

// SplitShard closes the parent and creates two child shards, returning their
// ids.
func (f *Fake) SplitShard(streamARN, shardID string) (string, string) {
	f.mu.Lock()
	left := f.addShardLocked(streamARN, shardID, f.now())
	right := f.addShardLocked(streamARN, shardID, f.now())
	f.mu.Unlock()

	f.CloseShard(streamARN, shardID)
	return left, right
}

// WithholdShard hides a shard from DescribeStream, reproducing the listing
// inconsistency where a parent closes before its children are visible.
func (f *Fake) WithholdShard(streamARN, shardID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mustStreamLocked(streamARN).withheld[shardID] = struct{}{}
}

// ReleaseShard makes a withheld shard visible again.
func (f *Fake) ReleaseShard(streamARN, shardID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.mustStreamLocked(streamARN).withheld, shardID)
}

// SetStreamStatus sets the status string returned by DescribeStream, e.g.
// "DISABLED".
func (f *Fake) SetStreamStatus(streamARN, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mustStreamLocked(streamARN).status = status
}

func (f *Fake) mustStreamLocked(streamARN string) *stream {
	s, ok := f.streams[streamARN]
	if !ok {
		panic(fmt.Sprintf("fake has no stream %s", streamARN))
	}
	return s
}

func (f *Fake) mustShardLocked(streamARN, shardID string) *shard {
	for _, sh := range f.mustStreamLocked(streamARN).shards {
		if sh.id == shardID {
			return sh
		}
	}
	panic(fmt.Sprintf("fake stream %s has no shard %s", streamARN, shardID))
}
