package shardsource

import "context"

// ListShardsResult is one listing API response: the shards visible in this
// snapshot plus the stream's lifecycle status. InconsistencyDetected is set
// by discovery when closed leaves remain once resolution stops, either
// because the retry limit was reached or because the stream is DISABLED.
type ListShardsResult struct {
	Shards                []Shard
	StreamStatus          StreamStatus
	InconsistencyDetected bool
}

// StreamProxy is the narrow interface to the upstream stream service. When
// exclusiveStartShardID is set the listing resumes after that shard id,
// which anchors re-listing during inconsistency resolution.
type StreamProxy interface {
	ListShards(ctx context.Context, streamARN string, exclusiveStartShardID *string) (ListShardsResult, error)
	Close() error
}
