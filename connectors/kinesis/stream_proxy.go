package kinesis

import (
	"context"
	"log/slog"

	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"shardline.dev/shardline/connectors/shardsource"
	"shardline.dev/shardline/util/ptr"
)

// StreamProxy adapts the Kinesis API to the enumeration core. Kinesis shard
// lineage is single-parent except for merges, where the adjacent parent is
// dropped: the core gates children on the primary parent only.
type StreamProxy struct {
	client *Client
	logger *slog.Logger
}

func NewStreamProxy(client *Client) *StreamProxy {
	return &StreamProxy{
		client: client,
		logger: slog.Default().With("instanceID", "kinesis-proxy"),
	}
}

func (p *StreamProxy) ListShards(ctx context.Context, streamARN string, exclusiveStartShardID *string) (shardsource.ListShardsResult, error) {
	shards, err := p.client.ListShards(ctx, streamARN, exclusiveStartShardID)
	if err != nil {
		return shardsource.ListShardsResult{}, err
	}

	status, err := p.client.StreamStatus(ctx, streamARN)
	if err != nil {
		return shardsource.ListShardsResult{}, err
	}

	result := shardsource.ListShardsResult{
		StreamStatus: streamStatusFromKinesis(status),
		Shards:       make([]shardsource.Shard, len(shards)),
	}
	for i, shard := range shards {
		result.Shards[i] = p.shardFromKinesis(shard)
	}
	return result, nil
}

func (p *StreamProxy) Close() error {
	return nil
}

var _ shardsource.StreamProxy = (*StreamProxy)(nil)

func (p *StreamProxy) shardFromKinesis(shard kinesistypes.Shard) shardsource.Shard {
	if shard.AdjacentParentShardId != nil {
		p.logger.Debug("dropping adjacent parent from merged shard",
			"shardID", ptr.Deref(shard.ShardId),
			"adjacentParent", *shard.AdjacentParentShardId)
	}

	out := shardsource.Shard{
		ShardID:       ptr.Deref(shard.ShardId),
		ParentShardID: shard.ParentShardId,
	}
	if shard.SequenceNumberRange != nil {
		out.SequenceNumberRange = shardsource.SequenceNumberRange{
			StartingSequenceNumber: ptr.Deref(shard.SequenceNumberRange.StartingSequenceNumber),
			EndingSequenceNumber:   shard.SequenceNumberRange.EndingSequenceNumber,
		}
	}
	return out
}

func streamStatusFromKinesis(status kinesistypes.StreamStatus) shardsource.StreamStatus {
	switch status {
	case kinesistypes.StreamStatusCreating:
		return shardsource.StreamStatusEnabling
	case kinesistypes.StreamStatusDeleting:
		return shardsource.StreamStatusDisabling
	default:
		return shardsource.StreamStatusEnabled
	}
}
